package nodes

import (
	"context"
	"fmt"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// LoadMasterdata loads the current master-data snapshot. Unavailability
// is fatal (spec.md §4.4 "fatal if unavailable after retries" — the
// retrying already happened inside masterdata.Cache.Get's fallback to a
// stale snapshot; a nil snapshot here means even the stale fallback had
// nothing to offer).
//
// The snapshot reference is set directly on state rather than threaded
// through a Delta field: model.RunState.Masterdata is `json:"-"`,
// intentionally excluded from the checkpoint/merge reducer contract
// (spec.md §3 "RunState references immutable MasterDataSnapshot via
// version, never by deep copy across persistence boundaries").
func LoadMasterdata(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	snapshot, err := deps.Masterdata.Get(ctx)
	if err != nil {
		return model.Delta{}, "", fmt.Errorf("load_masterdata: %w", err)
	}
	state.Masterdata = snapshot
	state.MasterdataVersion = snapshot.Version
	return model.Delta{}, orchestrator.NodeMatchContact, nil
}
