package nodes

import (
	"context"
	"fmt"

	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// CallGateway submits the drafted order to the ERP, guarded by the
// idempotency ledger so a retried or replayed run never double-submits
// (spec.md §8 invariant 2). Grounded on call_gateway.py.
func CallGateway(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	if state.OrderPayload == nil || !state.OrderPayload.OK {
		return model.Delta{}, orchestrator.NodeUploadPDF, nil
	}

	customerID := ""
	if state.MatchedCustomer != nil {
		customerID = state.MatchedCustomer.CustomerID
	}
	fileSHA := ""
	if state.FileUpload != nil {
		fileSHA = state.FileUpload.SHA256
	}
	key := idempotency.DeriveKey(state.EmailEvent.MessageID, fileSHA, customerID)
	state.SetIdempotencyKey(key)

	if deps.Ledger != nil {
		if rec, err := deps.Ledger.Get(ctx, key); err == nil && rec != nil && rec.Status == model.StatusSuccess {
			erp := model.ERPCreateOrderResult{OK: true, SalesOrderNo: rec.SalesOrderNo, OrderURL: rec.OrderURL}
			return model.Delta{ERPResult: &erp}, orchestrator.NodeUploadPDF, nil
		}
	}

	result := deps.ERP.CreateOrder(ctx, state.OrderPayload.OrderPayload)
	if !result.OK {
		code := result.ErrorCode
		if code == "" {
			code = model.ErrERPCreateFailed
		}
		reason := "erp order creation failed"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		errInfo := model.ErrorInfo{Code: code, Reason: reason}
		delta := model.Delta{
			ERPResult: &model.ERPCreateOrderResult{OK: false, ErrorCode: code},
			Errors:    []model.ErrorInfo{errInfo},
		}
		return delta, orchestrator.NodeUploadPDF, nil
	}

	if deps.Ledger != nil {
		if _, err := deps.Ledger.Upsert(ctx, key, state.EmailEvent.MessageID, fileSHA, customerID, model.StatusSuccess, result.SalesOrderNo, result.OrderURL); err != nil {
			// The ERP already created the order; failing to record that in
			// the ledger leaves at-most-once unenforceable on any retry or
			// replay of this message. Surfaced as a fatal error rather than
			// swallowed into a warning.
			return model.Delta{}, "", fmt.Errorf("call_gateway: ledger upsert after erp success: %w", err)
		}
	}

	erp := model.ERPCreateOrderResult{OK: true, SalesOrderNo: result.SalesOrderNo, OrderURL: result.OrderURL}
	return model.Delta{ERPResult: &erp}, orchestrator.NodeUploadPDF, nil
}
