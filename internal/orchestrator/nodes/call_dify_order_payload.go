package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// CallDifyOrderPayload drafts the sales-order payload from the recognized
// contract items plus master-data context. Grounded on
// call_dify_order_payload.py.
func CallDifyOrderPayload(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	if state.ContractResult == nil || !state.ContractResult.OK {
		return model.Delta{}, orchestrator.NodeCallGateway, nil
	}

	var customer *model.Customer
	if state.MatchedCustomer != nil {
		customer, _ = state.Masterdata.GetCustomerByID(state.MatchedCustomer.CustomerID)
	}
	var contact *model.Contact
	if state.MatchedContact != nil && state.MatchedContact.OK {
		contact, _ = state.Masterdata.GetContactByEmail(state.EmailEvent.SenderID)
	}

	inputs := map[string]any{
		"contract_meta":  state.ContractResult.ContractMeta,
		"contract_items": state.ContractResult.Items,
		"message_id":     state.EmailEvent.MessageID,
	}
	if customer != nil {
		inputs["customer"] = customer
	}
	if contact != nil {
		inputs["contact"] = contact
	}
	if state.FileUpload != nil {
		inputs["file_url"] = state.FileUpload.FileURL
	}

	answer, err := deps.OrderPayloadLLM.Chatflow(ctx, "生成销售订单", state.EmailEvent.SenderID, inputs, nil)
	delta := model.Delta{}
	if err != nil {
		errInfo := model.ErrorInfo{Code: model.ErrDifyOrderPayloadBlocked, Reason: err.Error()}
		delta.OrderPayload = &model.OrderPayloadResult{OK: false, Errors: []model.ErrorInfo{errInfo}}
		delta.Errors = append(delta.Errors, errInfo)
		return delta, orchestrator.NodeCallGateway, nil
	}

	rawAnswer, _ := answer["raw_answer"].(string)
	result := parseOrderPayloadAnswer(answer, rawAnswer)
	delta.OrderPayload = &result
	if !result.OK {
		delta.Errors = append(delta.Errors, result.Errors...)
	}
	return delta, orchestrator.NodeCallGateway, nil
}
