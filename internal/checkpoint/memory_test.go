package checkpoint

import (
	"context"
	"testing"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

func TestMemoryStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := &model.RunState{RunID: "run-1"}
	if err := store.Save(ctx, "run-1", "check_idempotency", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RunID != "run-1" {
		t.Fatalf("unexpected run id: %q", loaded.RunID)
	}

	// Mutating the loaded copy must not affect the stored state.
	loaded.IdempotencyKey = "mutated"
	reloaded, err := store.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IdempotencyKey == "mutated" {
		t.Fatalf("expected Load to return a defensive copy")
	}
}

func TestMemoryStoreLoadMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := &model.RunState{RunID: "run-2"}
	if err := store.Save(ctx, "run-2", "load_masterdata", state); err != nil {
		t.Fatalf("save: %v", err)
	}

	err := store.Update(ctx, "run-2", func(s *model.RunState) {
		s.AddWarning("masterdata stale")
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.Load(ctx, "run-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Warnings) != 1 || loaded.Warnings[0] != "masterdata stale" {
		t.Fatalf("expected warning to be persisted, got %#v", loaded.Warnings)
	}
}

func TestMemoryStoreStreamResumeReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	steps := []string{"check_idempotency", "load_masterdata", "match_contact"}
	for _, step := range steps {
		state := &model.RunState{RunID: "run-3", IdempotencyKey: step}
		if err := store.Save(ctx, "run-3", step, state); err != nil {
			t.Fatalf("save %s: %v", step, err)
		}
	}

	seq, err := store.StreamResume(ctx, "run-3")
	if err != nil {
		t.Fatalf("stream resume: %v", err)
	}

	var replayed []string
	for snap := range seq {
		replayed = append(replayed, snap.Step)
	}
	if len(replayed) != len(steps) {
		t.Fatalf("expected %d steps, got %d", len(steps), len(replayed))
	}
	for i, step := range steps {
		if replayed[i] != step {
			t.Fatalf("step %d: expected %q, got %q", i, step, replayed[i])
		}
	}
}

func TestMemoryStoreStreamResumeMissingRun(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.StreamResume(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
