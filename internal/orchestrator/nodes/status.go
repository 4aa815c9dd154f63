// Package nodes holds the eleven sales-email graph node functions of
// spec.md §4.4, each grounded on the matching file under
// original_source/.../graphs/sales_email/nodes/. Node functions are pure
// with respect to external state beyond orchestrator.Deps: they read and
// return a model.Delta, never mutate model.RunState directly (the engine
// does that via Delta.Merge), with two exceptions: load_masterdata sets the
// transient, unmergeable Masterdata reference (and MasterdataVersion) on
// state directly, and call_gateway/upload_pdf promote the idempotency key
// via state.SetIdempotencyKey.
package nodes

import (
	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// deriveStatus applies spec.md §4.4's finalize status table, first
// matching rule wins. notify_sales and finalize both call this so a
// notification sent before finalize runs describes the same status
// finalize will ultimately record.
func deriveStatus(state *model.RunState) model.Status {
	switch {
	case state.ERPResult != nil && state.ERPResult.OK:
		return model.StatusSuccess
	case state.MatchedContact != nil && !state.MatchedContact.OK:
		return model.StatusUnknownContact
	case state.ContractSignals != nil && !state.ContractSignals.IsContractMail:
		return model.StatusIgnored
	case state.ContractResult != nil && !state.ContractResult.OK:
		return model.StatusContractParseFailed
	case state.OrderPayload != nil && !state.OrderPayload.OK:
		return model.StatusOrderPayloadBlocked
	case state.ERPResult != nil && !state.ERPResult.OK:
		return model.StatusERPOrderFailed
	default:
		return model.StatusManualReview
	}
}

// firstErrorCode returns the first recorded error's code, or "" if none —
// finalize's "reason_code = first error code or derived" for
// MANUAL_REVIEW.
func firstErrorCode(errs []model.ErrorInfo) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Code
}

func errorReasons(errs []model.ErrorInfo) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Reason
	}
	return out
}
