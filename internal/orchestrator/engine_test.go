package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/loudon84/mcs-orchestrator/internal/audit"
	"github.com/loudon84/mcs-orchestrator/internal/checkpoint"
	"github.com/loudon84/mcs-orchestrator/internal/model"
)

type recordingAuditStore struct {
	steps []string
}

func (r *recordingAuditStore) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) (string, error) {
	r.steps = append(r.steps, ev.Step)
	return "audit-" + ev.Step, nil
}

func TestEngineRunWalksNodesSequentiallyAndPersistsEachStep(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	auditStore := &recordingAuditStore{}
	auditLogger := audit.NewLogger(auditStore)

	nodes := map[NodeName]NodeFunc{
		"first": func(ctx context.Context, deps *Deps, state *model.RunState) (model.Delta, NodeName, error) {
			return model.Delta{Warnings: []string{"seen-first"}}, "second", nil
		},
		"second": func(ctx context.Context, deps *Deps, state *model.RunState) (model.Delta, NodeName, error) {
			status := model.StatusSuccess
			return model.Delta{FinalStatus: &status}, "", nil
		},
	}
	engine := NewEngine(nodes, &Deps{}, cp, auditLogger, nil)

	state := &model.RunState{RunID: "run-1", EmailEvent: model.InboundMessage{MessageID: "msg-1"}}
	final, err := engine.Run(context.Background(), "run-1", "first", state)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.FinalStatus == nil || *final.FinalStatus != model.StatusSuccess {
		t.Fatalf("expected SUCCESS final status, got %+v", final.FinalStatus)
	}
	if len(final.Warnings) != 1 || final.Warnings[0] != "seen-first" {
		t.Fatalf("expected warning from first node to survive the merge, got %v", final.Warnings)
	}

	if got := auditStore.steps; len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected one audit event per node in order, got %v", got)
	}

	loaded, err := cp.Load(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if loaded.FinalStatus == nil || *loaded.FinalStatus != model.StatusSuccess {
		t.Fatalf("expected checkpoint to reflect the final state, got %+v", loaded.FinalStatus)
	}
}

func TestEngineRunAbortsOnNodeError(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	nodes := map[NodeName]NodeFunc{
		"boom": func(ctx context.Context, deps *Deps, state *model.RunState) (model.Delta, NodeName, error) {
			return model.Delta{}, "unreachable", errors.New("fatal node failure")
		},
	}
	engine := NewEngine(nodes, &Deps{}, cp, nil, nil)

	state := &model.RunState{RunID: "run-2", EmailEvent: model.InboundMessage{MessageID: "msg-2"}}
	_, err := engine.Run(context.Background(), "run-2", "boom", state)
	if err == nil {
		t.Fatalf("expected the engine to surface a fatal node error")
	}

	// The checkpoint still records the pre-abort state, so a crash between
	// steps never leaves the run with no resumable snapshot at all.
	if _, loadErr := cp.Load(context.Background(), "run-2"); loadErr != nil {
		t.Fatalf("expected checkpoint save before the error was returned, got %v", loadErr)
	}
}

func TestEngineRunUnknownNodeReturnsError(t *testing.T) {
	engine := NewEngine(map[NodeName]NodeFunc{}, &Deps{}, checkpoint.NewMemoryStore(), nil, nil)
	state := &model.RunState{RunID: "run-3"}
	if _, err := engine.Run(context.Background(), "run-3", "missing", state); err == nil {
		t.Fatalf("expected an error for a start node not present in the table")
	}
}
