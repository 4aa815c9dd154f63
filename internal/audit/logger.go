package audit

import (
	"context"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// Store is the narrow persistence dependency audit.Logger needs; satisfied
// by *store.Store without importing it directly, so audit stays a leaf
// package the orchestrator, review, and ingest packages can all depend on.
type Store interface {
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) (string, error)
}

// Logger redacts and persists one audit_events row per call. Grounded on
// original_source/.../nodes/persist_audit.py's audit_decorator: every node
// invocation (and the manual-review BLOCK/RESUME decision) writes exactly
// one event, input and output both redacted before the insert.
type Logger struct {
	Store Store
	Now   func() time.Time
}

func NewLogger(store Store) *Logger {
	return &Logger{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Record redacts payload and appends one audit_events row for runID/step.
// Per spec.md §8 invariant 3, the orchestrator engine calls this for every
// node plus finalize, guaranteeing a "finalize" step row on every run.
func (l *Logger) Record(ctx context.Context, runID, step string, payload map[string]any) (string, error) {
	redacted, err := Redact(payload)
	if err != nil {
		return "", err
	}
	redactedMap, _ := redacted.(map[string]any)
	return l.Store.InsertAuditEvent(ctx, model.AuditEvent{
		RunID:     runID,
		Step:      step,
		Payload:   redactedMap,
		CreatedAt: l.Now(),
	})
}
