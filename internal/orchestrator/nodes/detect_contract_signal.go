package nodes

import (
	"fmt"
	"strings"

	"context"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
)

// contractKeyword is the Chinese-language trigger phrase ("purchase
// contract") the strict variant requires alongside a PDF attachment.
const contractKeyword = "采购合同"

// DetectContractSignal implements the strict variant spec.md §4.4
// explicitly permits as an alternative to pass-through: keyword-gated,
// PDF-count-aware. Grounded on detect_contract_signal.py's keyword +
// pdf_attachments logic (present in that file behind an early return that
// makes it dead code there; SPEC_FULL.md resolves the Open Question in
// favor of this branch being live).
func DetectContractSignal(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	subject := strings.ToLower(state.EmailEvent.Subject)
	body := strings.ToLower(state.EmailEvent.BodyText)
	hasKeyword := strings.Contains(subject, contractKeyword) || strings.Contains(body, contractKeyword)

	pdfAttachments := state.EmailEvent.PDFAttachments()

	if !hasKeyword || len(pdfAttachments) == 0 {
		code := model.ErrNotContractMail
		reason := "not a contract email"
		if hasKeyword {
			code = model.ErrPDFNotFound
			reason = "no PDF attachment found"
		}
		delta := model.Delta{
			ContractSignals: &model.ContractSignalResult{
				OK:             false,
				IsContractMail: false,
				Errors:         []model.ErrorInfo{{Code: code, Reason: reason}},
			},
			Errors: []model.ErrorInfo{{Code: code, Reason: reason}},
		}
		return delta, orchestrator.NodeFinalize, nil
	}

	if len(pdfAttachments) > 1 {
		// Still "is_contract_mail" (per detect_contract_signal.py's own
		// comment), so the normal conditional edge below sends this case
		// onward to match_customer, not straight to finalize. With no
		// pdf_attachment selected, every later node through call_gateway
		// no-ops on its own precondition, and finalize's status table
		// falls through to its last rule: MANUAL_REVIEW, reason_code
		// MULTI_PDF_ATTACHMENTS.
		reason := fmt.Sprintf("multiple PDF attachments found (%d), manual selection required", len(pdfAttachments))
		delta := model.Delta{
			ContractSignals: &model.ContractSignalResult{
				OK:             false,
				IsContractMail: true,
				Errors: []model.ErrorInfo{{
					Code:    model.ErrMultiPDFAttachments,
					Reason:  reason,
					Details: map[string]any{"pdf_count": len(pdfAttachments)},
				}},
			},
			Errors: []model.ErrorInfo{{Code: model.ErrMultiPDFAttachments, Reason: reason, Details: map[string]any{"pdf_count": len(pdfAttachments)}}},
		}
		return delta, orchestrator.NodeMatchCustomer, nil
	}

	primary := pdfAttachments[0]
	delta := model.Delta{
		ContractSignals: &model.ContractSignalResult{OK: true, IsContractMail: true, PDFAttachmentID: primary.AttachmentID},
		PDFAttachment:   &primary,
	}
	return delta, orchestrator.NodeMatchCustomer, nil
}
