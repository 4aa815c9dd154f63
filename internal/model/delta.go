package model

import "strings"

// NormalizeEmailKey lowercases and trims an address for use as a map key.
// Full RFC canonicalization (Unicode NFC, domain casefolding) lives in
// internal/emailaddr; this is the cheap subset needed for in-memory lookups.
func NormalizeEmailKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Delta is the partial state update returned by a single node invocation.
// Only the fields a node actually sets are non-nil; Delta.Merge (below)
// folds a Delta into the running RunState using keep-first-non-nil semantics
// for scalar/struct fields and append semantics for Errors/Warnings. This
// mirrors the LangGraph reducer pair used by the reference implementation:
// Annotated[..., _keep_first] for most fields, operator.add for the two list
// fields.
type Delta struct {
	MatchedContact  *ContactMatchResult
	ContractSignals *ContractSignalResult
	MatchedCustomer *CustomerMatchResult
	PDFAttachment   *Attachment
	FileUpload      *FileUploadResult
	ContractResult  *ContractRecognitionResult
	OrderPayload    *OrderPayloadResult
	ERPResult       *ERPCreateOrderResult

	IdempotencyKey string

	FinalStatus *Status

	ManualReview *ManualReviewInfo

	Errors   []ErrorInfo
	Warnings []string
}

// Merge folds d into state in place, following keep-first-non-nil for every
// field except Errors/Warnings, which append. A node that wants to replace
// an already-set field (e.g. recomputing the idempotency key as more of the
// message becomes known) must do so explicitly by resetting that field on
// state before calling Merge — Merge itself never overwrites a populated
// field with another populated value.
func (d Delta) Merge(state *RunState) {
	if d.MatchedContact != nil && state.MatchedContact == nil {
		state.MatchedContact = d.MatchedContact
	}
	if d.ContractSignals != nil && state.ContractSignals == nil {
		state.ContractSignals = d.ContractSignals
	}
	if d.MatchedCustomer != nil && state.MatchedCustomer == nil {
		state.MatchedCustomer = d.MatchedCustomer
	}
	if d.PDFAttachment != nil && state.PDFAttachment == nil {
		state.PDFAttachment = d.PDFAttachment
	}
	if d.FileUpload != nil && state.FileUpload == nil {
		state.FileUpload = d.FileUpload
	}
	if d.ContractResult != nil && state.ContractResult == nil {
		state.ContractResult = d.ContractResult
	}
	if d.OrderPayload != nil && state.OrderPayload == nil {
		state.OrderPayload = d.OrderPayload
	}
	if d.ERPResult != nil && state.ERPResult == nil {
		state.ERPResult = d.ERPResult
	}
	if d.IdempotencyKey != "" && state.IdempotencyKey == "" {
		state.IdempotencyKey = d.IdempotencyKey
	}
	if d.FinalStatus != nil && state.FinalStatus == nil {
		state.FinalStatus = d.FinalStatus
	}
	if d.ManualReview != nil && state.ManualReview == nil {
		state.ManualReview = d.ManualReview
	}

	state.Errors = append(state.Errors, d.Errors...)
	state.Warnings = append(state.Warnings, d.Warnings...)
}

// SetIdempotencyKey promotes the key unconditionally, used by the nodes
// that recompute it as more of (message_id, file_sha256, customer_id)
// becomes known (call_gateway and upload_pdf; check_idempotency sets the
// first, message_id-only key through Delta.IdempotencyKey).
func (s *RunState) SetIdempotencyKey(key string) {
	s.IdempotencyKey = key
}
