package review

import (
	"context"
	"testing"

	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/auth"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

type discardAuditStore struct{}

func (discardAuditStore) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) (string, error) {
	return "audit-1", nil
}

func seedManualReviewRun(t *testing.T, cp checkpoint.Store, runID string) {
	t.Helper()
	status := model.StatusManualReview
	state := &model.RunState{
		RunID:      runID,
		EmailEvent: model.InboundMessage{MessageID: "msg-1"},
		FinalStatus: &status,
		ManualReview: &model.ManualReviewInfo{
			ReasonCode: "UNKNOWN_CONTACT",
			Candidates: model.ManualReviewCandidates{
				Customers: []model.ManualReviewCandidateCustomer{{CustomerID: "cust-1"}},
			},
		},
	}
	if err := cp.Save(context.Background(), runID, "finalize", state); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
}

func adminPrincipal() auth.Principal {
	return auth.Principal{ActorID: "operator-1", Scopes: []string{auth.ManualReviewScope}}
}

func TestSubmitUnknownRunReturnsRunNotFound(t *testing.T) {
	svc := NewService(checkpoint.NewMemoryStore(), nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)
	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "missing"}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrRunNotFound {
		t.Fatalf("expected RUN_NOT_FOUND, got %+v", resp)
	}
}

func TestSubmitRunNotInManualReview(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	status := model.StatusSuccess
	if err := cp.Save(context.Background(), "run-done", "finalize", &model.RunState{RunID: "run-done", FinalStatus: &status}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)

	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "run-done", Action: "BLOCK", Comment: "x"}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrRunNotInManualReview {
		t.Fatalf("expected RUN_NOT_IN_MANUAL_REVIEW, got %+v", resp)
	}
}

func TestSubmitRejectsWrongPrincipalScope(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	seedManualReviewRun(t, cp, "run-1")
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)

	unscoped := auth.Principal{ActorID: "intern"}
	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "run-1", Action: "BLOCK", Comment: "nope"}, unscoped)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrPermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %+v", resp)
	}
}

func TestSubmitBlockRequiresComment(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	seedManualReviewRun(t, cp, "run-1")
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)

	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "run-1", Action: "BLOCK"}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrInvalidDecision {
		t.Fatalf("expected INVALID_DECISION for a commentless BLOCK, got %+v", resp)
	}
}

func TestSubmitBlockSucceeds(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	seedManualReviewRun(t, cp, "run-1")
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)

	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "run-1", Action: "BLOCK", Comment: "stale lead"}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.OK || resp.Status != "BLOCKED" || resp.FinalStatus != model.StatusManualReview {
		t.Fatalf("expected a successful BLOCK response, got %+v", resp)
	}

	state, err := cp.Load(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.ManualReview == nil || state.ManualReview.Decision == nil || state.ManualReview.Decision.Comment != "stale lead" {
		t.Fatalf("expected the decision to be persisted on the checkpoint, got %+v", state.ManualReview)
	}
}

func TestSubmitResumeRunsEngineToSuccess(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	seedManualReviewRun(t, cp, "run-1")

	nodes := map[orchestrator.NodeName]orchestrator.NodeFunc{
		orchestrator.NodeMatchCustomer: func(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
			status := model.StatusSuccess
			return model.Delta{FinalStatus: &status}, "", nil
		},
	}
	engine := orchestrator.NewEngine(nodes, &orchestrator.Deps{}, cp, audit.NewLogger(discardAuditStore{}), nil)
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), engine)

	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{
		RunID:              "run-1",
		Action:             "RESUME",
		SelectedCustomerID: "cust-1",
	}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.OK || resp.Status != "RESUMED" || resp.FinalStatus != model.StatusSuccess {
		t.Fatalf("expected a successful RESUME into SUCCESS, got %+v", resp)
	}
	if resp.Resume == nil || resp.Resume.RunID != "run-1" {
		t.Fatalf("expected a Resume RunResult, got %+v", resp.Resume)
	}
}

func TestSubmitResumeRequiresSelectedCustomerID(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	seedManualReviewRun(t, cp, "run-1")
	svc := NewService(cp, nil, nil, auth.NewService(), audit.NewLogger(discardAuditStore{}), nil)

	resp, err := svc.Submit(context.Background(), model.ManualReviewRequest{RunID: "run-1", Action: "RESUME"}, adminPrincipal())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrInvalidDecision {
		t.Fatalf("expected INVALID_DECISION for a RESUME with no selection, got %+v", resp)
	}
}

func TestChooseResumeNodePrecedence(t *testing.T) {
	if got := ChooseResumeNode("att-1", "cust-1"); got != orchestrator.NodeUploadPDF {
		t.Fatalf("expected selected_attachment_id to win, got %s", got)
	}
	if got := ChooseResumeNode("", "cust-1"); got != orchestrator.NodeMatchCustomer {
		t.Fatalf("expected selected_customer_id to win absent an attachment, got %s", got)
	}
	if got := ChooseResumeNode("", ""); got != orchestrator.NodeCallDifyContract {
		t.Fatalf("expected call_dify_contract as the default, got %s", got)
	}
}
