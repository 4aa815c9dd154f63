// Package review implements spec.md §4.7 C7: manual-review candidate
// generation, submission validation, and resume-node selection for a
// paused orchestration run.
package review

import (
	"strings"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/similarity"
)

// GenerateCandidates builds the three candidate categories finalize
// attaches to a MANUAL_REVIEW run. Grounded on generate_candidates.py's
// generate_manual_review_candidates, including its exactly-one-suggested
// post-condition (the ensureSingle*Suggested helpers below, the Go shape of
// _ensure_single_suggested).
func GenerateCandidates(state *model.RunState) model.ManualReviewCandidates {
	var candidates model.ManualReviewCandidates

	pdfAttachments := state.EmailEvent.PDFAttachments()
	if len(pdfAttachments) > 0 {
		suggestedID := ""
		if len(pdfAttachments) == 1 {
			suggestedID = pdfAttachments[0].AttachmentID
		} else if state.PDFAttachment != nil {
			suggestedID = state.PDFAttachment.AttachmentID
		}
		for _, att := range pdfAttachments {
			candidates.PDFs = append(candidates.PDFs, model.ManualReviewCandidatePDF{
				AttachmentID: att.AttachmentID,
				Filename:     att.Filename,
				SHA256:       att.SHA256,
				SizeBytes:    att.SizeBytes,
				Suggested:    att.AttachmentID == suggestedID && suggestedID != "",
			})
		}
	}

	if state.MatchedCustomer != nil && len(state.MatchedCustomer.TopCandidates) > 0 {
		suggestedCustomerID := ""
		if state.MatchedCustomer.OK && state.MatchedCustomer.Score >= 75.0 {
			suggestedCustomerID = state.MatchedCustomer.CustomerID
		}

		normalizedFilename := ""
		if state.PDFAttachment != nil {
			normalizedFilename = similarity.NormalizeFilename(state.PDFAttachment.Filename)
		}

		top := state.MatchedCustomer.TopCandidates
		if len(top) > 3 {
			top = top[:3]
		}
		for _, cand := range top {
			if state.Masterdata == nil {
				continue
			}
			customer, ok := state.Masterdata.GetCustomerByID(cand.CustomerID)
			if !ok {
				continue
			}
			candidates.Customers = append(candidates.Customers, model.ManualReviewCandidateCustomer{
				CustomerID:   customer.CustomerID,
				CustomerNum:  customer.CustomerNum,
				CustomerName: customer.Name,
				Score:        cand.Score,
				Evidence: map[string]any{
					"matched_tokens":     []string{normalizedFilename},
					"filename_normalized": normalizedFilename,
				},
				Suggested: customer.CustomerID == suggestedCustomerID && suggestedCustomerID != "",
			})
		}
	}

	if state.Masterdata != nil {
		switch {
		case state.MatchedContact != nil && state.MatchedContact.OK && state.MatchedContact.ContactID != "":
			if contact, ok := state.Masterdata.GetContactByEmail(state.EmailEvent.SenderID); ok {
				candidates.Contacts = append(candidates.Contacts, model.ManualReviewCandidateContact{
					ContactID:  contact.ContactID,
					Name:       contact.Name,
					Email:      contact.Email,
					Telephone:  contact.Telephone,
					CustomerID: contact.CustomerID,
					Suggested:  true,
				})
			}
		case state.MatchedCustomer != nil && state.MatchedCustomer.OK:
			for _, contact := range state.Masterdata.Contacts {
				if contact.CustomerID != state.MatchedCustomer.CustomerID {
					continue
				}
				candidates.Contacts = append(candidates.Contacts, model.ManualReviewCandidateContact{
					ContactID:  contact.ContactID,
					Name:       contact.Name,
					Email:      contact.Email,
					Telephone:  contact.Telephone,
					CustomerID: contact.CustomerID,
					Suggested:  strings.EqualFold(contact.Email, state.EmailEvent.SenderID),
				})
			}
		}
	}

	ensureSinglePDFSuggested(candidates.PDFs)
	ensureSingleCustomerSuggested(candidates.Customers)
	ensureSingleContactSuggested(candidates.Contacts)

	return candidates
}

// ensureSinglePDFSuggested keeps only the first suggested PDF candidate.
func ensureSinglePDFSuggested(pdfs []model.ManualReviewCandidatePDF) {
	first := -1
	for i, p := range pdfs {
		if p.Suggested {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	for i := range pdfs {
		pdfs[i].Suggested = i == first
	}
}

// ensureSingleCustomerSuggested keeps only the highest-scoring suggested
// customer candidate (generate_candidates.py's max-by-score tiebreak).
func ensureSingleCustomerSuggested(customers []model.ManualReviewCandidateCustomer) {
	best := -1
	for i, c := range customers {
		if !c.Suggested {
			continue
		}
		if best < 0 || c.Score > customers[best].Score {
			best = i
		}
	}
	if best < 0 {
		return
	}
	for i := range customers {
		customers[i].Suggested = i == best
	}
}

// ensureSingleContactSuggested keeps only the first suggested contact
// candidate.
func ensureSingleContactSuggested(contacts []model.ManualReviewCandidateContact) {
	first := -1
	for i, c := range contacts {
		if c.Suggested {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	for i := range contacts {
		contacts[i].Suggested = i == first
	}
}
