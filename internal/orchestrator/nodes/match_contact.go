package nodes

import (
	"context"
	"fmt"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// MatchContact looks up a contact by the sender's email, case-insensitive
// and trimmed per spec.md §3's get_contact_by_email contract. Grounded on
// match_contact.py.
func MatchContact(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	contact, ok := state.Masterdata.GetContactByEmail(state.EmailEvent.SenderID)
	if !ok {
		reason := fmt.Sprintf("contact not found for sender %s", state.EmailEvent.SenderID)
		delta := model.Delta{
			MatchedContact: &model.ContactMatchResult{
				OK:     false,
				Errors: []model.ErrorInfo{{Code: model.ErrContactNotFound, Reason: reason}},
			},
			Errors: []model.ErrorInfo{{Code: model.ErrContactNotFound, Reason: reason}},
		}
		return delta, orchestrator.NodeNotifySales, nil
	}

	delta := model.Delta{
		MatchedContact: &model.ContactMatchResult{OK: true, ContactID: contact.ContactID, CustomerID: contact.CustomerID},
	}
	return delta, orchestrator.NodeDetectContractSignal, nil
}
