package nodes

import (
	"github.com/loudon84/mcs-orchestrator/internal/llmclient"
	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// errorInfoFromMap builds an ErrorInfo from a failed llmclient.Answer,
// falling back to a generic reason when the vendor's answer carries none.
func errorInfoFromMap(code string, answer llmclient.Answer) model.ErrorInfo {
	reason, _ := answer["reason"].(string)
	if reason == "" {
		reason = "llm call did not return ok"
	}
	return model.ErrorInfo{Code: code, Reason: reason}
}

// parseContractAnswer extracts call_dify_contract's result shape from the
// vendor's parsed JSON answer: {ok, items, contract_meta} on success.
func parseContractAnswer(answer llmclient.Answer, rawAnswer string) model.ContractRecognitionResult {
	ok, _ := answer["ok"].(bool)
	if !ok {
		errInfo := errorInfoFromMap(model.ErrDifyContractFailed, answer)
		return model.ContractRecognitionResult{OK: false, Errors: []model.ErrorInfo{errInfo}, RawAnswer: rawAnswer}
	}

	result := model.ContractRecognitionResult{OK: true, RawAnswer: rawAnswer}
	if meta, ok := answer["contract_meta"].(map[string]any); ok {
		result.ContractMeta = meta
	}
	if rawItems, ok := answer["items"].([]any); ok {
		for _, ri := range rawItems {
			m, ok := ri.(map[string]any)
			if !ok {
				continue
			}
			item := model.ContractLineItem{}
			if product, ok := m["product"].(string); ok {
				item.Product = product
			}
			if qty, ok := m["qty"].(float64); ok {
				item.Quantity = qty
			}
			if price, ok := m["unit_price"].(float64); ok {
				item.UnitPrice = price
			}
			result.Items = append(result.Items, item)
		}
	}
	return result
}

// parseOrderPayloadAnswer extracts call_dify_order_payload's result shape:
// {ok, order_payload} on success.
func parseOrderPayloadAnswer(answer llmclient.Answer, rawAnswer string) model.OrderPayloadResult {
	ok, _ := answer["ok"].(bool)
	if !ok {
		errInfo := errorInfoFromMap(model.ErrDifyOrderPayloadBlocked, answer)
		return model.OrderPayloadResult{OK: false, Errors: []model.ErrorInfo{errInfo}, RawAnswer: rawAnswer}
	}

	payload, _ := answer["order_payload"].(map[string]any)
	return model.OrderPayloadResult{OK: true, OrderPayload: payload, RawAnswer: rawAnswer}
}
