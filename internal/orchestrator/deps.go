package orchestrator

import (
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/blobclient"
	"github.com/loudon84/mcs-orchestrator/internal/erpclient"
	"github.com/loudon84/mcs-orchestrator/internal/idempotency"
	"github.com/loudon84/mcs-orchestrator/internal/llmclient"
	"github.com/loudon84/mcs-orchestrator/internal/mailer"
	"github.com/loudon84/mcs-orchestrator/internal/masterdata"
)

// Deps bundles every external collaborator a node may need. It is built
// once at process wiring time and shared read-only across all runs
// (spec.md §5 "LLM/ERP clients: shared HTTP clients").
type Deps struct {
	Masterdata      *masterdata.Cache
	ContractLLM     *llmclient.Client // Dify chat-flow #1: contract recognition
	OrderPayloadLLM *llmclient.Client // Dify chat-flow #2: order payload generation
	ERP             *erpclient.Client
	Blob            *blobclient.Client
	Ledger          idempotency.Ledger
	Mailer          *mailer.Mailer
	Now             func() time.Time
}
