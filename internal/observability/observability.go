// Package observability provides the structured logging and per-step
// counters of spec.md §2 C11. Grounded on the teacher's
// internal/observability.EntitlementObserver (threshold-crossing
// alert-once pattern), regeared from entitlement allow/deny events to
// orchestration node/terminal-status counters, and generalized from the
// teacher's stdlib log.Logger to log/slog with a JSON handler — still
// standard library, since no pack example pulls in a third-party
// structured-logging library and slog already gives the attribute-group
// shape this spec needs (see DESIGN.md).
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

type requestIDKey struct{}
type runIDKey struct{}

// NewRequestID mirrors the teacher's replay-id helper; the admin surface
// uses it to generate X-Request-Id when a request carries none.
func NewRequestID() string { return uuid.NewString() }

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// NewLogger builds the process-wide slog.Logger. level is one of
// DEBUG/INFO/WARN/ERROR (config.Config.Log.Level, spec.md §6).
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG", "debug":
		lvl = slog.LevelDebug
	case "WARN", "warn":
		lvl = slog.LevelWarn
	case "ERROR", "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// FromContext returns a logger with request_id/run_id attributes attached
// when present in ctx, so every log line inside a request carries
// correlation fields (spec.md §6 "All logs within that request include
// [X-Request-ID]").
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := RequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if id := RunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	return logger
}

// StepObserver counts node executions and terminal statuses, adapted from
// the teacher's EntitlementObserver.RecordAllow/RecordDeny threshold-warn
// pattern: the same "log every event, additionally warn once a count
// crosses a round threshold" shape, regeared from per-org entitlement
// usage to per-node/per-status orchestration counters.
type StepObserver struct {
	logger *slog.Logger

	mu             sync.Mutex
	nodeCounts     map[string]int64
	statusCounts   map[string]int64
	warnedAtMult10 map[string]bool
}

func NewStepObserver(logger *slog.Logger) *StepObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepObserver{
		logger:         logger,
		nodeCounts:     make(map[string]int64),
		statusCounts:   make(map[string]int64),
		warnedAtMult10: make(map[string]bool),
	}
}

// RecordNode logs and counts one node execution, grouped by run.
func (o *StepObserver) RecordNode(ctx context.Context, node string, durationMS int64, err error) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.nodeCounts[node]++
	count := o.nodeCounts[node]
	o.mu.Unlock()

	log := FromContext(ctx, o.logger)
	if err != nil {
		log.Error("orchestrator node failed", "node", node, "duration_ms", durationMS, "count", count, "error", err.Error())
		return
	}
	log.Info("orchestrator node completed", "node", node, "duration_ms", durationMS, "count", count)
}

// RecordTerminal logs and counts a run reaching a terminal status, with a
// repeated-spike alert every 10th occurrence of the same status — the same
// "count%10==0" alert cadence as the teacher's repeated-deny alert.
func (o *StepObserver) RecordTerminal(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.statusCounts[status]++
	count := o.statusCounts[status]
	o.mu.Unlock()

	log := FromContext(ctx, o.logger)
	log.Info("orchestration finalized", "final_status", status, "count", count)
	if count%10 == 0 {
		log.Warn("repeated terminal status", "final_status", status, "count", count)
	}
}
