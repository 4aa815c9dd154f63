// Package adminapi implements spec.md §4.10/§6 C10: the synchronous HTTP
// admin surface over the orchestration engine. Grounded on the teacher's
// internal/app.Serve mux wiring (plain net/http.ServeMux, one HandleFunc
// per route, X-Request-Id-carrying middleware), generalized from the
// teacher's fixed health/debug/mcp/jmap-push routes to the five routes
// spec.md §6 names.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/auth"
	"github.com/loudon84/mcs-orchestrator/internal/channel"
	"github.com/loudon84/mcs-orchestrator/internal/ingest"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/observability"
	"github.com/loudon84/mcs-orchestrator/internal/review"
)

// RunStore is the narrow slice of internal/store.Store the admin surface
// needs for the replay endpoint.
type RunStore interface {
	FindRunByMessageID(ctx context.Context, messageID string) (model.Run, error)
}

// HealthChecker is satisfied by *store.Store's Ping, kept behind an
// interface so this package never imports database/sql.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server wires the five spec.md §6 routes into an http.Handler.
type Server struct {
	Addr      string
	Scheduler *ingest.Scheduler
	RunStore  RunStore
	Health    HealthChecker
	Review    *review.Service
	Auth      *auth.Service
	Webhook   *channel.WebhookAdapter
	Logger    *slog.Logger
}

func NewServer(addr string, scheduler *ingest.Scheduler, runStore RunStore, health HealthChecker, reviewSvc *review.Service, authSvc *auth.Service, logger *slog.Logger) *Server {
	return &Server{Addr: addr, Scheduler: scheduler, RunStore: runStore, Health: health, Review: reviewSvc, Auth: authSvc, Logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/orchestrations/sales-email/run", s.handleRun)
	mux.HandleFunc("/v1/orchestrations/sales-email/replay", s.handleReplay)
	mux.HandleFunc("/v1/orchestrations/sales-email/manual-review/submit", s.handleManualReviewSubmit)
	mux.HandleFunc("/v1/listener/trigger/poll", s.handleTriggerPoll)
	if s.Webhook != nil {
		mux.HandleFunc("/v1/listener/webhook", s.handleWebhookPush)
	}
	return s.withRequestID(mux)
}

// Serve starts the HTTP server and blocks until ctx is cancelled, mirroring
// the teacher's App.Serve shutdown-on-cancel shape.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// withRequestID assigns or passes through X-Request-ID on every request,
// per spec.md §6 "every inbound request carries or is assigned
// X-Request-ID".
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = observability.NewRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := observability.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) log(ctx context.Context) *slog.Logger {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return observability.FromContext(ctx, logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg model.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	finalState, err := s.Scheduler.Dispatch(r.Context(), msg)
	if err != nil {
		s.log(r.Context()).Error("run_sales_email failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, runResultFromState(finalState))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.RunStore.FindRunByMessageID(r.Context(), req.MessageID)
	if err != nil {
		http.Error(w, "no prior run for message_id", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, runResultFromRun(run))
}

func (s *Server) handleManualReviewSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principal, err := s.Auth.AuthenticateRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, model.ManualReviewResponse{OK: false, ErrorCode: model.ErrPermissionDenied})
		return
	}

	var req model.ManualReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.Review.Submit(r.Context(), req, principal)
	if err != nil {
		s.log(r.Context()).Error("manual review submit failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebhookPush accepts a provider push, verifies its signature
// against the raw body, and queues the normalized message for the next
// scheduler tick (spec.md's expanded C1 webhook adapter).
func (s *Server) handleWebhookPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Webhook.VerifySignature(body, r.Header.Get("X-Signature")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg model.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.Webhook.Push(msg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Scheduler.PollAllOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func runResultFromState(state *model.RunState) model.RunResult {
	result := model.RunResult{RunID: state.RunID, Errors: state.Errors, Warnings: state.Warnings}
	if state.FinalStatus != nil {
		result.Status = *state.FinalStatus
	}
	if state.ERPResult != nil {
		result.SalesOrderNo = state.ERPResult.SalesOrderNo
		result.OrderURL = state.ERPResult.OrderURL
	}
	return result
}

func runResultFromRun(run model.Run) model.RunResult {
	result := model.RunResult{RunID: run.RunID, Status: run.Status, Errors: run.Errors, Warnings: run.Warnings}
	if run.State != nil && run.State.ERPResult != nil {
		result.SalesOrderNo = run.State.ERPResult.SalesOrderNo
		result.OrderURL = run.State.ERPResult.OrderURL
	}
	return result
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
