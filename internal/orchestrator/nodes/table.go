package nodes

import "github.com/loudon84/mcs-orchestrator/internal/orchestrator"

// Table wires every node function into the engine's dispatch map.
func Table() map[orchestrator.NodeName]orchestrator.NodeFunc {
	return map[orchestrator.NodeName]orchestrator.NodeFunc{
		orchestrator.NodeCheckIdempotency:     CheckIdempotency,
		orchestrator.NodeLoadMasterdata:       LoadMasterdata,
		orchestrator.NodeMatchContact:         MatchContact,
		orchestrator.NodeDetectContractSignal: DetectContractSignal,
		orchestrator.NodeMatchCustomer:        MatchCustomer,
		orchestrator.NodeCallDifyContract:     CallDifyContract,
		orchestrator.NodeCallDifyOrderPayload: CallDifyOrderPayload,
		orchestrator.NodeCallGateway:          CallGateway,
		orchestrator.NodeUploadPDF:            UploadPDF,
		orchestrator.NodeNotifySales:          NotifySales,
		orchestrator.NodeFinalize:             Finalize,
	}
}
