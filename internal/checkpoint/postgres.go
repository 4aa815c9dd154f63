package checkpoint

import (
	"context"
	"iter"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/store"
)

// PostgresStore is the durable Store backend, wrapping internal/store.Store
// (database/sql + pgx/v5/stdlib, the teacher's exact driver). Atomicity per
// step is the single UPDATE ... WHERE run_id = $1 inside UpsertRun's ON
// CONFLICT clause, the teacher's Store.RunAsOrg transaction-scoping idiom
// adapted here to scope by run_id instead of org_id.
type PostgresStore struct {
	Store *store.Store
	Now   func() time.Time
}

func NewPostgresStore(st *store.Store) *PostgresStore {
	return &PostgresStore{Store: st, Now: func() time.Time { return time.Now().UTC() }}
}

func (p *PostgresStore) Initialize(ctx context.Context) error {
	return p.Store.Ping(ctx)
}

// Save writes the full run snapshot and appends a step row, in that order:
// the orchestration_runs UPSERT is the row the orchestrator resumes from,
// checkpoint_steps is the append-only history StreamResume replays.
func (p *PostgresStore) Save(ctx context.Context, runID, step string, state *model.RunState) error {
	run, err := p.Store.GetRun(ctx, runID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	run.RunID = runID
	if run.MessageID == "" {
		run.MessageID = state.EmailEvent.MessageID
	}
	if run.Status == "" {
		run.Status = model.StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = state.StartedAt
	}
	run.State = state
	run.Errors = state.Errors
	run.Warnings = state.Warnings
	if state.FinalStatus != nil {
		run.Status = *state.FinalStatus
		run.FinishedAt = state.FinishedAt
	}

	if err := p.Store.UpsertRun(ctx, run); err != nil {
		return err
	}
	return p.Store.InsertCheckpointStep(ctx, runID, step, *state, p.Now())
}

func (p *PostgresStore) Load(ctx context.Context, runID string) (*model.RunState, error) {
	run, err := p.Store.GetRun(ctx, runID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if run.State == nil {
		return nil, ErrNotFound
	}
	return run.State, nil
}

// Update loads the latest state, applies patch, and persists it back under
// step "update" (used by manual-review resume, which mutates state outside
// the normal node sequence before handing the run back to the engine).
func (p *PostgresStore) Update(ctx context.Context, runID string, patch func(*model.RunState)) error {
	state, err := p.Load(ctx, runID)
	if err != nil {
		return err
	}
	patch(state)
	return p.Save(ctx, runID, "update", state)
}

func (p *PostgresStore) StreamResume(ctx context.Context, runID string) (iter.Seq[StepSnapshot], error) {
	rows, err := p.Store.ListCheckpointSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return func(yield func(StepSnapshot) bool) {
		for _, row := range rows {
			snap := StepSnapshot{Step: row.Step, State: row.State, CreatedAt: row.CreatedAt}
			if !yield(snap) {
				return
			}
		}
	}, nil
}

func (p *PostgresStore) Close() error {
	return p.Store.Close()
}

// PruneFinalized deletes finalized non-MANUAL_REVIEW runs older than
// olderThan, the eviction routine spec.md §4.5 delegates to a
// reconcile-style periodic job (internal/reconcile.Service).
func (p *PostgresStore) PruneFinalized(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := p.Now().Add(-olderThan)
	return p.Store.PruneFinalizedRuns(ctx, cutoff)
}
