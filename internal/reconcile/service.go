// Package reconcile runs the periodic checkpoint-eviction sweep spec.md
// §4.5 calls for: finalized non-MANUAL_REVIEW runs older than a configured
// age are pruned; MANUAL_REVIEW runs are never touched. Adapted from the
// teacher's internal/reconcile.Service (a periodic usage-period rollover
// sweep invoked by cmd/nerve-reconcile) — same Service.Run(ctx) shape and
// the same cmd/ entrypoint convention, regeared from billing-period
// rollover to checkpoint pruning.
package reconcile

import (
	"context"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/store"
)

// DefaultRetention is the 30-day eviction window spec.md §4.5 specifies for
// finalized non-MANUAL_REVIEW runs.
const DefaultRetention = 30 * 24 * time.Hour

type Service struct {
	Store     *store.Store
	Retention time.Duration
	Now       func() time.Time
}

type Report struct {
	RunsPruned int64
}

func NewService(st *store.Store) *Service {
	return &Service{
		Store:     st,
		Retention: DefaultRetention,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run prunes orchestration_runs (and their checkpoint_steps history) that
// finalized before the retention cutoff, skipping MANUAL_REVIEW runs
// entirely per spec.md §4.5's "default never for MANUAL_REVIEW runs".
func (s *Service) Run(ctx context.Context) (Report, error) {
	var report Report
	if s == nil || s.Store == nil {
		return report, nil
	}
	retention := s.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.Now().Add(-retention)

	pruned, err := s.Store.PruneFinalizedRuns(ctx, cutoff)
	if err != nil {
		return report, err
	}
	report.RunsPruned = pruned
	return report, nil
}
