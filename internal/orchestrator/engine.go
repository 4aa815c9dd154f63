// Package orchestrator implements spec.md §4.4 C4: the typed node-table
// state machine over the sales-email graph. Nodes execute strictly
// sequentially (spec.md §5); the engine persists a checkpoint and writes
// one audit event after every node, so a crash between steps always
// resumes at the last completed node, never a torn state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/observability"
)

// NodeName identifies one state in the graph.
type NodeName string

const (
	NodeCheckIdempotency     NodeName = "check_idempotency"
	NodeLoadMasterdata       NodeName = "load_masterdata"
	NodeMatchContact         NodeName = "match_contact"
	NodeDetectContractSignal NodeName = "detect_contract_signal"
	NodeMatchCustomer        NodeName = "match_customer"
	NodeCallDifyContract     NodeName = "call_dify_contract"
	NodeCallDifyOrderPayload NodeName = "call_dify_order_payload"
	NodeCallGateway          NodeName = "call_gateway"
	NodeUploadPDF            NodeName = "upload_pdf"
	NodeNotifySales          NodeName = "notify_sales"
	NodeFinalize             NodeName = "finalize"
)

// ResumeWhitelist is the fixed set of nodes a manual-review resume may
// re-enter at (spec.md §4.7, §8 invariant 6).
var ResumeWhitelist = map[NodeName]bool{
	NodeMatchCustomer:        true,
	NodeUploadPDF:            true,
	NodeCallDifyContract:     true,
	NodeCallDifyOrderPayload: true,
	NodeCallGateway:          true,
}

// NodeFunc is one graph node. It returns the partial state update, the
// next node to run (empty to stop, reaching a terminal), and an error
// only for failures the engine itself must abort the run over (e.g.
// master-data unavailable after retries); node-level recoverable
// failures are carried in the returned Delta's Errors, never as a Go
// error (spec.md §7 "node-level recoverable failures are appended to
// state.errors").
type NodeFunc func(ctx context.Context, deps *Deps, state *model.RunState) (model.Delta, NodeName, error)

// Engine walks Nodes starting at whatever node Run is given, persisting
// and auditing at every step boundary.
type Engine struct {
	Nodes      map[NodeName]NodeFunc
	Deps       *Deps
	Checkpoint checkpoint.Store
	Audit      *audit.Logger
	Observer   *observability.StepObserver
	Now        func() time.Time
}

func NewEngine(nodes map[NodeName]NodeFunc, deps *Deps, store checkpoint.Store, auditLogger *audit.Logger, observer *observability.StepObserver) *Engine {
	return &Engine{
		Nodes:      nodes,
		Deps:       deps,
		Checkpoint: store,
		Audit:      auditLogger,
		Observer:   observer,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the graph starting at `start`, mutating and returning
// state. It stops when a node returns an empty next NodeName (reaching
// finalize) or when a node returns a fatal error.
func (e *Engine) Run(ctx context.Context, runID string, start NodeName, state *model.RunState) (*model.RunState, error) {
	current := start
	for {
		fn, ok := e.Nodes[current]
		if !ok {
			return state, fmt.Errorf("orchestrator: unknown node %q", current)
		}

		stepStart := e.now()
		delta, next, err := fn(ctx, e.Deps, state)
		delta.Merge(state)
		durationMS := e.now().Sub(stepStart).Milliseconds()

		if e.Observer != nil {
			e.Observer.RecordNode(ctx, string(current), durationMS, err)
		}

		if e.Checkpoint != nil {
			if saveErr := e.Checkpoint.Save(ctx, runID, string(current), state); saveErr != nil {
				return state, fmt.Errorf("orchestrator: checkpoint save after %s: %w", current, saveErr)
			}
		}
		if e.Audit != nil {
			if _, auditErr := e.Audit.Record(ctx, runID, string(current), stateAuditPayload(state)); auditErr != nil {
				return state, fmt.Errorf("orchestrator: audit record after %s: %w", current, auditErr)
			}
		}

		if err != nil {
			return state, fmt.Errorf("orchestrator: node %s: %w", current, err)
		}
		if next == "" {
			if e.Observer != nil && state.FinalStatus != nil {
				e.Observer.RecordTerminal(ctx, string(*state.FinalStatus))
			}
			return state, nil
		}
		current = next
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// stateAuditPayload round-trips state through JSON into a generic map so
// audit.Logger.Record can redact it uniformly; the round trip is the same
// approach audit.Redact itself takes for arbitrary values.
func stateAuditPayload(state *model.RunState) map[string]any {
	data, err := json.Marshal(state)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"unmarshal_error": err.Error()}
	}
	return payload
}
