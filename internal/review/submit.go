package review

import (
	"context"
	"strings"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/auth"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/masterdata"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// Service implements the manual-review submission protocol (spec.md §4.7):
// candidate validation, patch application, resume-node selection, and
// re-entry into the orchestration engine. Grounded on resume.py's
// resume_from_node, adapted to spec.md's explicit resume-node precedence
// (see DESIGN.md — this is the opposite order from resume.py's own
// determine_resume_node, which spec.md's body text overrides).
type Service struct {
	Checkpoint checkpoint.Store
	Ledger     idempotency.Ledger
	Masterdata *masterdata.Cache
	Auth       *auth.Service
	Audit      *audit.Logger
	Engine     *orchestrator.Engine
	Now        func() time.Time
}

func NewService(cp checkpoint.Store, ledger idempotency.Ledger, md *masterdata.Cache, authSvc *auth.Service, auditLogger *audit.Logger, engine *orchestrator.Engine) *Service {
	return &Service{
		Checkpoint: cp,
		Ledger:     ledger,
		Masterdata: md,
		Auth:       authSvc,
		Audit:      auditLogger,
		Engine:     engine,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and applies a reviewer's decision, following spec.md
// §4.7's exact 5-step validation order.
func (s *Service) Submit(ctx context.Context, req model.ManualReviewRequest, principal auth.Principal) (model.ManualReviewResponse, error) {
	state, err := s.Checkpoint.Load(ctx, req.RunID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrRunNotFound}, nil
		}
		return model.ManualReviewResponse{}, err
	}
	if state.FinalStatus == nil || *state.FinalStatus != model.StatusManualReview {
		return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrRunNotInManualReview}, nil
	}

	if req.MessageID != "" && req.MessageID != state.EmailEvent.MessageID {
		return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidDecision}, nil
	}

	// spec.md §4.7 step 3: "auth.tenant_id must match the run's tenant if
	// one was recorded". model.RunState carries no tenant field anywhere
	// in this domain (spec.md §1 Non-goals: "no authentication identity
	// provider"), so no run ever "has a recorded tenant" and this check is
	// vacuously satisfied for every principal.

	if err := s.Auth.ValidateScopes(principal, auth.ManualReviewScope); err != nil {
		return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrPermissionDenied}, nil
	}

	multiPDF := state.ManualReview != nil && len(state.ManualReview.Candidates.PDFs) > 1
	switch req.Action {
	case "RESUME":
		if req.SelectedCustomerID == "" {
			return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidDecision}, nil
		}
		if multiPDF && req.SelectedAttachmentID == "" {
			return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidDecision}, nil
		}
	case "BLOCK":
		if req.Comment == "" {
			return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidDecision}, nil
		}
	default:
		return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidDecision}, nil
	}

	decision := model.ManualReviewDecision{
		Action:               req.Action,
		SelectedCustomerID:   req.SelectedCustomerID,
		SelectedContactID:    req.SelectedContactID,
		SelectedAttachmentID: req.SelectedAttachmentID,
		Comment:              req.Comment,
		Operator:             req.Operator,
		DecidedAt:            s.Now().Format(time.RFC3339),
	}

	if req.Action == "BLOCK" {
		if state.ManualReview != nil {
			state.ManualReview.Decision = &decision
		}
		auditID := ""
		if s.Audit != nil {
			auditID, _ = s.Audit.Record(ctx, req.RunID, "manual_review_block", map[string]any{"decision": decision})
		}
		if err := s.Checkpoint.Update(ctx, req.RunID, func(st *model.RunState) {
			st.ManualReview = state.ManualReview
		}); err != nil {
			return model.ManualReviewResponse{}, err
		}
		return model.ManualReviewResponse{OK: true, Status: "BLOCKED", FinalStatus: model.StatusManualReview, AuditID: auditID}, nil
	}

	return s.resume(ctx, req, decision, state)
}

func (s *Service) resume(ctx context.Context, req model.ManualReviewRequest, decision model.ManualReviewDecision, state *model.RunState) (model.ManualReviewResponse, error) {
	var md *model.MasterDataSnapshot
	if s.Masterdata != nil {
		if loaded, err := s.Masterdata.Get(ctx); err == nil {
			md = loaded
		}
	}
	state.Masterdata = md

	if req.SelectedCustomerID != "" {
		customerID := req.SelectedCustomerID
		if md != nil {
			if _, ok := md.GetCustomerByID(customerID); ok {
				state.MatchedCustomer = &model.CustomerMatchResult{OK: true, CustomerID: customerID, Score: 100}
			}
		} else {
			state.MatchedCustomer = &model.CustomerMatchResult{OK: true, CustomerID: customerID, Score: 100}
		}
	}

	if req.SelectedContactID != "" && md != nil {
		var contact *model.Contact
		if c, ok := md.GetContactByEmail(state.EmailEvent.SenderID); ok {
			contact = c
		} else {
			for i := range md.Contacts {
				if md.Contacts[i].ContactID == req.SelectedContactID {
					contact = &md.Contacts[i]
					break
				}
			}
		}
		if contact != nil {
			state.MatchedContact = &model.ContactMatchResult{OK: true, ContactID: contact.ContactID, CustomerID: contact.CustomerID}
		}
	}

	if req.SelectedAttachmentID != "" {
		for i := range state.EmailEvent.Attachments {
			if state.EmailEvent.Attachments[i].AttachmentID == req.SelectedAttachmentID {
				att := state.EmailEvent.Attachments[i]
				state.PDFAttachment = &att
				break
			}
		}
	}

	if state.ManualReview != nil {
		state.ManualReview.Decision = &decision
	}

	if s.Audit != nil {
		_, _ = s.Audit.Record(ctx, req.RunID, "manual_review_resume", map[string]any{"decision": decision})
	}

	resumeNode := ChooseResumeNode(req.SelectedAttachmentID, req.SelectedCustomerID)
	if !orchestrator.ResumeWhitelist[resumeNode] {
		return model.ManualReviewResponse{OK: false, ErrorCode: model.ErrInvalidResumeNode}, nil
	}

	if req.SelectedCustomerID != "" || req.SelectedAttachmentID != "" {
		customerID := ""
		if state.MatchedCustomer != nil && state.MatchedCustomer.OK {
			customerID = state.MatchedCustomer.CustomerID
		}
		fileSHA := ""
		if state.PDFAttachment != nil {
			fileSHA = state.PDFAttachment.SHA256
		}
		key := idempotency.DeriveKey(state.EmailEvent.MessageID, fileSHA, customerID)

		if s.Ledger != nil {
			if rec, err := s.Ledger.Get(ctx, key); err == nil && rec != nil && rec.Status == model.StatusSuccess {
				status := model.StatusSuccess
				state.ERPResult = &model.ERPCreateOrderResult{OK: true, SalesOrderNo: rec.SalesOrderNo, OrderURL: rec.OrderURL}
				state.FinalStatus = &status
				state.IdempotencyKey = key
				if err := s.Checkpoint.Save(ctx, req.RunID, "manual_review_resume", state); err != nil {
					return model.ManualReviewResponse{}, err
				}
				return model.ManualReviewResponse{
					OK:          true,
					Status:      "RESUMED",
					FinalStatus: status,
					Resume:      &model.RunResult{RunID: req.RunID, Status: status, SalesOrderNo: rec.SalesOrderNo, OrderURL: rec.OrderURL},
				}, nil
			}
		}
		state.IdempotencyKey = key
	}

	state.FinalStatus = nil
	if err := s.Checkpoint.Save(ctx, req.RunID, "manual_review_resume", state); err != nil {
		return model.ManualReviewResponse{}, err
	}

	finalState, err := s.Engine.Run(ctx, req.RunID, resumeNode, state)
	if err != nil {
		return model.ManualReviewResponse{}, err
	}

	result := model.RunResult{RunID: req.RunID, Errors: finalState.Errors, Warnings: finalState.Warnings}
	if finalState.FinalStatus != nil {
		result.Status = *finalState.FinalStatus
	}
	if finalState.ERPResult != nil {
		result.SalesOrderNo = finalState.ERPResult.SalesOrderNo
		result.OrderURL = finalState.ERPResult.OrderURL
	}

	return model.ManualReviewResponse{OK: true, Status: "RESUMED", FinalStatus: result.Status, Resume: &result}, nil
}

// ChooseResumeNode implements spec.md §4.7's explicit first-match-wins
// precedence: selected_attachment_id present ⇒ upload_pdf; else
// selected_customer_id present ⇒ match_customer; else call_dify_contract.
// This is the opposite precedence of resume.py's determine_resume_node
// (which checks selected_customer_id first); spec.md's stated text is
// authoritative here.
func ChooseResumeNode(selectedAttachmentID, selectedCustomerID string) orchestrator.NodeName {
	if strings.TrimSpace(selectedAttachmentID) != "" {
		return orchestrator.NodeUploadPDF
	}
	if strings.TrimSpace(selectedCustomerID) != "" {
		return orchestrator.NodeMatchCustomer
	}
	return orchestrator.NodeCallDifyContract
}
