package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/mailer"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// NotifySales emails the message's sender a status-keyed notification.
// Grounded on notify_sales.py. A send failure is recorded as a run
// warning, never a failed step or a fatal error — the orchestration's
// terminal outcome does not depend on mail delivery.
func NotifySales(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	status := deriveStatus(state)

	ctxData := mailer.Context{
		MessageID: state.EmailEvent.MessageID,
		Errors:    errorReasons(state.Errors),
		Warnings:  state.Warnings,
	}
	if len(state.Errors) > 0 {
		ctxData.Reason = state.Errors[0].Reason
	}
	if state.ERPResult != nil {
		ctxData.SalesOrderNo = state.ERPResult.SalesOrderNo
		ctxData.OrderURL = state.ERPResult.OrderURL
	}
	if state.MatchedCustomer != nil && state.MatchedCustomer.OK && state.Masterdata != nil {
		if customer, ok := state.Masterdata.GetCustomerByID(state.MatchedCustomer.CustomerID); ok {
			ctxData.CustomerName = customer.Name
		}
	}

	delta := model.Delta{}
	if deps.Mailer != nil {
		if err := deps.Mailer.SendNotification(state.EmailEvent.SenderID, string(status), ctxData); err != nil {
			delta.Warnings = append(delta.Warnings, "notify_sales: "+err.Error())
		}
	}
	return delta, orchestrator.NodeFinalize, nil
}
