package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// CheckIdempotency is the graph entry node, grounded on
// check_idempotency.py. It derives the pre-match idempotency key from the
// message_id alone (file_sha256 and customer_id are still unknown this
// early) and short-circuits straight to finalize if that exact key
// already carries a terminal SUCCESS — the degenerate case of the same
// message being resubmitted before any customer/file information would
// ever change the canonical key.
func CheckIdempotency(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	key := idempotency.DeriveKey(state.EmailEvent.MessageID, "", "")

	if deps.Ledger != nil {
		if rec, err := deps.Ledger.Get(ctx, key); err == nil && rec != nil && rec.Status == model.StatusSuccess {
			erp := model.ERPCreateOrderResult{OK: true, SalesOrderNo: rec.SalesOrderNo, OrderURL: rec.OrderURL}
			status := model.StatusSuccess
			delta := model.Delta{
				ERPResult:      &erp,
				FinalStatus:    &status,
				IdempotencyKey: key,
			}
			return delta, orchestrator.NodeFinalize, nil
		}
	}

	return model.Delta{IdempotencyKey: key}, orchestrator.NodeLoadMasterdata, nil
}
