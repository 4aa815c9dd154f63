// Package checkpoint implements spec.md §4.5 C5: durable, replayable
// per-step state for an orchestration run. Two backends compile against
// the same Store interface so the orchestrator never branches on which
// one is wired (spec.md §4.5 "must compile identically against either").
package checkpoint

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// ErrNotFound is returned by Load when no checkpoint exists for a run.
var ErrNotFound = errors.New("checkpoint: run not found")

// StepSnapshot is one entry of a run's replay history, as surfaced by
// StreamResume.
type StepSnapshot struct {
	Step      string
	State     model.RunState
	CreatedAt time.Time
}

// Store is the durable checkpoint surface the orchestrator suspends on at
// every node boundary (spec.md §5 "every checkpoint write is a suspension
// point").
type Store interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, runID, step string, state *model.RunState) error
	Load(ctx context.Context, runID string) (*model.RunState, error)
	Update(ctx context.Context, runID string, patch func(*model.RunState)) error
	StreamResume(ctx context.Context, runID string) (iter.Seq[StepSnapshot], error)
	io.Closer
}
