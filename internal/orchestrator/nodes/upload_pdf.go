package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// UploadPDF persists the selected PDF's bytes to the blob store and
// promotes the idempotency key to its canonical (message_id, file_sha256,
// customer_id) form. In the normal path call_dify_contract has already
// uploaded the file (state.FileUpload is set) and call_gateway has already
// promoted the key, so this node's work collapses to a no-op recheck; on a
// resume that re-enters directly at upload_pdf (never having passed
// through call_dify_contract/call_gateway this run), it performs both
// steps itself. See DESIGN.md's "call_dify_contract vs. upload_pdf
// ordering" decision. Grounded on upload_pdf.py.
func UploadPDF(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	if state.PDFAttachment == nil {
		return model.Delta{}, orchestrator.NodeNotifySales, nil
	}

	delta := model.Delta{}
	fileUpload := state.FileUpload
	if fileUpload == nil {
		uploaded := uploadSelectedPDF(ctx, deps, state)
		result := toFileUploadResult(uploaded)
		fileUpload = &result
		delta.FileUpload = fileUpload
		if !uploaded.OK {
			errInfo := model.ErrorInfo{Code: model.ErrFileUploadFailed, Reason: uploaded.Error}
			delta.Errors = append(delta.Errors, errInfo)
			return delta, orchestrator.NodeNotifySales, nil
		}
	}

	customerID := ""
	if state.MatchedCustomer != nil {
		customerID = state.MatchedCustomer.CustomerID
	}
	key := idempotency.DeriveKey(state.EmailEvent.MessageID, fileUpload.SHA256, customerID)
	state.SetIdempotencyKey(key)

	if state.ERPResult == nil && deps.Ledger != nil {
		if rec, err := deps.Ledger.Get(ctx, key); err == nil && rec != nil && rec.Status == model.StatusSuccess {
			erp := model.ERPCreateOrderResult{OK: true, SalesOrderNo: rec.SalesOrderNo, OrderURL: rec.OrderURL}
			status := model.StatusSuccess
			delta.ERPResult = &erp
			delta.FinalStatus = &status
			return delta, orchestrator.NodeFinalize, nil
		}
	}

	return delta, orchestrator.NodeNotifySales, nil
}
