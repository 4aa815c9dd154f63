package adminapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/auth"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/ingest"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
	"github.com/loudon84/mcs-orchestrator/internal/review"
)

type fakeMessageStore struct {
	runs []model.Run
}

func (f *fakeMessageStore) GetMessageRecord(ctx context.Context, ch model.Channel, normalizedMessageID string) (model.MessageLedgerEntry, error) {
	return model.MessageLedgerEntry{}, checkpoint.ErrNotFound
}
func (f *fakeMessageStore) InsertMessageRecordIfAbsent(ctx context.Context, rec model.MessageLedgerEntry, normalizedMessageID string) (bool, string, error) {
	return true, "rec-1", nil
}
func (f *fakeMessageStore) MarkMessageProcessed(ctx context.Context, recordID string, at time.Time) error {
	return nil
}
func (f *fakeMessageStore) InsertAttachmentFile(ctx context.Context, messageID, filePath string, at time.Time) (string, error) {
	return "", nil
}
func (f *fakeMessageStore) UpsertRun(ctx context.Context, run model.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakeAuditStore struct{}

func (fakeAuditStore) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) (string, error) {
	return "audit-1", nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Ping(ctx context.Context) error { return f.err }

type fakeRunStore struct {
	run model.Run
	err error
}

func (f fakeRunStore) FindRunByMessageID(ctx context.Context, messageID string) (model.Run, error) {
	return f.run, f.err
}

func testScheduler(t *testing.T) *ingest.Scheduler {
	t.Helper()
	nodes := map[orchestrator.NodeName]orchestrator.NodeFunc{
		orchestrator.NodeCheckIdempotency: func(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
			status := model.StatusIgnored
			return model.Delta{FinalStatus: &status}, "", nil
		},
	}
	engine := orchestrator.NewEngine(nodes, &orchestrator.Deps{}, checkpoint.NewMemoryStore(), nil, nil)
	return ingest.NewScheduler(nil, &fakeMessageStore{}, nil, engine, nil)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	scheduler := testScheduler(t)
	reviewSvc := review.NewService(checkpoint.NewMemoryStore(), nil, nil, auth.NewService(), audit.NewLogger(fakeAuditStore{}), nil)
	return NewServer(":0", scheduler, fakeRunStore{err: checkpoint.ErrNotFound}, fakeHealth{}, reviewSvc, auth.NewService(), nil)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID to be assigned")
	}
}

func TestHandleRunDispatchesMessage(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(model.InboundMessage{MessageID: "m1", SenderID: "buyer@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/v1/orchestrations/sales-email/run", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result model.RunResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != model.StatusIgnored {
		t.Fatalf("expected IGNORED status from the stub engine, got %q", result.Status)
	}
}

func TestHandleReplayNotFound(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"message_id": "missing"})
	req := httptest.NewRequest(http.MethodPost, "/v1/orchestrations/sales-email/replay", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message_id, got %d", w.Code)
	}
}

func TestHandleTriggerPoll(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/listener/trigger/poll", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleManualReviewSubmitUnknownRun(t *testing.T) {
	srv := newTestServer(t)

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u1","scope":"mcs:sales_email:manual_review"}`))
	token := "e30." + payload + ".sig"

	body, _ := json.Marshal(model.ManualReviewRequest{RunID: "missing-run", Action: "BLOCK", Comment: "nope"})
	req := httptest.NewRequest(http.MethodPost, "/v1/orchestrations/sales-email/manual-review/submit", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with ok:false body, got %d: %s", w.Code, w.Body.String())
	}
	var resp model.ManualReviewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OK || resp.ErrorCode != model.ErrRunNotFound {
		t.Fatalf("expected RUN_NOT_FOUND, got %+v", resp)
	}
}
