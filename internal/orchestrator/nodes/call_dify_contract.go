package nodes

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/llmclient"
	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// CallDifyContract recognizes line items out of the selected contract PDF.
// Its precondition (spec.md §4.4: "a selected PDF, uploaded file URL") is
// satisfied here by uploading the PDF itself the first time state.FileUpload
// is unset — see DESIGN.md's "call_dify_contract vs. upload_pdf ordering"
// decision. Grounded on call_dify_contract.py.
func CallDifyContract(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	if state.MatchedCustomer == nil || !state.MatchedCustomer.OK || state.PDFAttachment == nil {
		return model.Delta{}, orchestrator.NodeCallDifyOrderPayload, nil
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
			delta.ContractResult = &model.ContractRecognitionResult{OK: false, Errors: []model.ErrorInfo{errInfo}}
			delta.Errors = append(delta.Errors, errInfo)
			return delta, orchestrator.NodeCallDifyOrderPayload, nil
		}
	}
	if !fileUpload.OK {
		errInfo := model.ErrorInfo{Code: model.ErrFileUploadFailed, Reason: fileUpload.Error}
		delta.ContractResult = &model.ContractRecognitionResult{OK: false, Errors: []model.ErrorInfo{errInfo}}
		delta.Errors = append(delta.Errors, errInfo)
		return delta, orchestrator.NodeCallDifyOrderPayload, nil
	}

	customer, _ := state.Masterdata.GetCustomerByID(state.MatchedCustomer.CustomerID)
	inputs := map[string]any{"customer_id": state.MatchedCustomer.CustomerID}
	if customer != nil {
		inputs["customer_num"] = customer.CustomerNum
	}
	files := []llmclient.File{{Type: "file", TransferMethod: "remote_url", URL: fileUpload.FileURL}}

	answer, err := deps.ContractLLM.Chatflow(ctx, "识别采购合同", state.EmailEvent.SenderID, inputs, files)
	if err != nil {
		errInfo := model.ErrorInfo{Code: model.ErrDifyContractFailed, Reason: err.Error()}
		delta.ContractResult = &model.ContractRecognitionResult{OK: false, Errors: []model.ErrorInfo{errInfo}}
		delta.Errors = append(delta.Errors, errInfo)
		return delta, orchestrator.NodeCallDifyOrderPayload, nil
	}

	rawAnswer, _ := answer["raw_answer"].(string)
	result := parseContractAnswer(answer, rawAnswer)
	delta.ContractResult = &result
	if !result.OK {
		delta.Errors = append(delta.Errors, result.Errors...)
	}
	return delta, orchestrator.NodeCallDifyOrderPayload, nil
}
