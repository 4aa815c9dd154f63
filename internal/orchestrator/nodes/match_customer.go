package nodes

import (
	"context"
	"fmt"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
	"github.com/loudon84/mcs-orchestrator/internal/similarity"
)

// MatchCustomer derives a customer from the matched contact's customer_id
// (match_customer.py's primary, deterministic path). When that id doesn't
// resolve in the current snapshot, it falls back to fuzzy-scoring the
// selected PDF's filename against every customer's name/number
// (similarity.MatchCustomerByFilename, grounded on
// tools/similarity.py's match_customer_by_filename), surfacing up to 3
// candidates for manual review rather than failing outright.
func MatchCustomer(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	if state.MatchedContact == nil || !state.MatchedContact.OK || state.MatchedContact.CustomerID == "" {
		return model.Delta{}, orchestrator.NodeCallDifyContract, nil
	}

	customerID := state.MatchedContact.CustomerID
	if _, ok := state.Masterdata.GetCustomerByID(customerID); ok {
		delta := model.Delta{MatchedCustomer: &model.CustomerMatchResult{OK: true, CustomerID: customerID, Score: 100}}
		return delta, orchestrator.NodeCallDifyContract, nil
	}

	var candidates []model.CustomerCandidate
	if state.Masterdata != nil && state.PDFAttachment != nil {
		candidates = similarity.MatchCustomerByFilename(state.PDFAttachment.Filename, state.Masterdata.Customers, similarity.CustomerMatchThreshold)
	}

	reason := fmt.Sprintf("customer %s not found in masterdata", customerID)
	errInfo := model.ErrorInfo{Code: model.ErrCustomerMatchLowScore, Reason: reason, Details: map[string]any{"customer_id": customerID}}
	delta := model.Delta{
		MatchedCustomer: &model.CustomerMatchResult{
			OK:            false,
			Score:         0,
			TopCandidates: candidates,
			Errors:        []model.ErrorInfo{errInfo},
		},
		Errors: []model.ErrorInfo{errInfo},
	}
	return delta, orchestrator.NodeCallDifyContract, nil
}
