package model

import (
	"strings"
	"time"
)

// Channel identifies the ingestion transport an InboundMessage arrived on.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelIM      Channel = "im"
	ChannelWebhook Channel = "webhook"
)

// Attachment is a single file carried by an InboundMessage.
type Attachment struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	SHA256       string `json:"sha256,omitempty"`

	// Payload is set when the channel adapter has fetched the bytes
	// inline; BlobPath is set once the bytes have been persisted to the
	// blob store under ingestion.
	Payload  []byte `json:"-"`
	BlobPath string `json:"blob_path,omitempty"`
}

const MaxAttachmentBytes = 50 * 1024 * 1024 // 50 MiB

func (a Attachment) IsPDF() bool {
	return a.ContentType == "application/pdf" || strings.HasSuffix(strings.ToLower(a.Filename), ".pdf")
}

// InboundMessage is the canonical channel-agnostic ingestion unit.
type InboundMessage struct {
	Channel      Channel      `json:"channel"`
	Provider     string       `json:"provider"`
	Account      string       `json:"account"`
	ExternalUID  string       `json:"external_uid"`
	MessageID    string       `json:"message_id"`
	SenderID     string       `json:"sender_id"`
	Recipients   []string     `json:"recipients"`
	CC           []string     `json:"cc"`
	Subject      string       `json:"subject"`
	BodyText     string       `json:"body_text"`
	BodyHTML     string       `json:"body_html,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
	Attachments  []Attachment `json:"attachments"`
}

// PDFAttachments returns all attachments that look like a PDF.
func (m InboundMessage) PDFAttachments() []Attachment {
	var out []Attachment
	for _, a := range m.Attachments {
		if a.IsPDF() {
			out = append(out, a)
		}
	}
	return out
}

// MessageLedgerEntry tracks at-most-once dispatch for (channel, message_id).
type MessageLedgerEntry struct {
	RecordID    string
	Channel     Channel
	MessageID   string
	Account     string
	ExternalUID string
	SenderID    string
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
}

// Customer, Contact, Company, Product are the master-data entities mirrored
// from the out-of-scope master-data CRUD service.
type Customer struct {
	CustomerID  string `json:"customer_id"`
	CustomerNum string `json:"customer_num"`
	Name        string `json:"name"`
	CompanyID   string `json:"company_id,omitempty"`
}

type Contact struct {
	ContactID  string `json:"contact_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Telephone  string `json:"telephone,omitempty"`
	CustomerID string `json:"customer_id"`
}

type Company struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type Product struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
}

// MasterDataSnapshot is an immutable, versioned read of the master-data
// service. Callers hold a reference, never a deep copy, across an
// orchestration step.
type MasterDataSnapshot struct {
	Version   int64
	Customers []Customer
	Contacts  []Contact
	Companies []Company
	Products  []Product

	contactByEmail map[string]*Contact
	customerByID   map[string]*Customer
}

// NewMasterDataSnapshot builds lookup indexes once so GetContactByEmail and
// GetCustomerByID are O(1).
func NewMasterDataSnapshot(version int64, customers []Customer, contacts []Contact, companies []Company, products []Product) *MasterDataSnapshot {
	snap := &MasterDataSnapshot{
		Version:        version,
		Customers:      customers,
		Contacts:       contacts,
		Companies:      companies,
		Products:       products,
		contactByEmail: make(map[string]*Contact, len(contacts)),
		customerByID:   make(map[string]*Customer, len(customers)),
	}
	for i := range contacts {
		key := NormalizeEmailKey(contacts[i].Email)
		if key == "" {
			continue
		}
		snap.contactByEmail[key] = &contacts[i]
	}
	for i := range customers {
		snap.customerByID[customers[i].CustomerID] = &customers[i]
	}
	return snap
}

// GetContactByEmail is case-insensitive on the trimmed email
// (NormalizeEmailKey); no Unicode normalization is applied.
func (m *MasterDataSnapshot) GetContactByEmail(email string) (*Contact, bool) {
	if m == nil {
		return nil, false
	}
	c, ok := m.contactByEmail[NormalizeEmailKey(email)]
	return c, ok
}

// GetCustomerByID is O(1).
func (m *MasterDataSnapshot) GetCustomerByID(customerID string) (*Customer, bool) {
	if m == nil {
		return nil, false
	}
	c, ok := m.customerByID[customerID]
	return c, ok
}

// ContactMatchResult is the result of match_contact.
type ContactMatchResult struct {
	OK         bool        `json:"ok"`
	ContactID  string      `json:"contact_id,omitempty"`
	CustomerID string      `json:"customer_id,omitempty"`
	Errors     []ErrorInfo `json:"errors,omitempty"`
}

// ContractSignalResult is the result of detect_contract_signal.
type ContractSignalResult struct {
	OK                bool        `json:"ok"`
	IsContractMail    bool        `json:"is_contract_mail"`
	PDFAttachmentID   string      `json:"pdf_attachment_id,omitempty"`
	Errors            []ErrorInfo `json:"errors,omitempty"`
}

// CustomerCandidate is a scored candidate surfaced by match_customer for
// later manual-review display.
type CustomerCandidate struct {
	CustomerID string  `json:"customer_id"`
	Score      float64 `json:"score"`
}

// CustomerMatchResult is the result of match_customer.
type CustomerMatchResult struct {
	OK             bool                `json:"ok"`
	CustomerID     string              `json:"customer_id,omitempty"`
	Score          float64             `json:"score"`
	TopCandidates  []CustomerCandidate `json:"top_candidates,omitempty"`
	Errors         []ErrorInfo         `json:"errors,omitempty"`
}

// FileUploadResult is the result of upload_pdf.
type FileUploadResult struct {
	OK      bool   `json:"ok"`
	FileURL string `json:"file_url,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ContractLineItem is one parsed line item from call_dify_contract.
type ContractLineItem struct {
	Product  string  `json:"product"`
	Quantity float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

// ContractRecognitionResult is the result of call_dify_contract.
type ContractRecognitionResult struct {
	OK           bool               `json:"ok"`
	Items        []ContractLineItem `json:"items,omitempty"`
	ContractMeta map[string]any     `json:"contract_meta,omitempty"`
	Errors       []ErrorInfo        `json:"errors,omitempty"`
	RawAnswer    string             `json:"-"`
}

// OrderPayloadResult is the result of call_dify_order_payload.
type OrderPayloadResult struct {
	OK           bool           `json:"ok"`
	OrderPayload map[string]any `json:"order_payload,omitempty"`
	Errors       []ErrorInfo    `json:"errors,omitempty"`
	RawAnswer    string         `json:"-"`
}

// ERPCreateOrderResult is the result of call_gateway.
type ERPCreateOrderResult struct {
	OK           bool   `json:"ok"`
	SalesOrderNo string `json:"sales_order_no,omitempty"`
	OrderURL     string `json:"order_url,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// ManualReviewCandidatePDF is one PDF candidate surfaced for human choice.
type ManualReviewCandidatePDF struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	SHA256       string `json:"sha256,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	Suggested    bool   `json:"suggested"`
}

// ManualReviewCandidateCustomer is one customer candidate.
type ManualReviewCandidateCustomer struct {
	CustomerID  string         `json:"customer_id"`
	CustomerNum string         `json:"customer_num"`
	CustomerName string        `json:"customer_name"`
	Score       float64        `json:"score"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Suggested   bool           `json:"suggested"`
}

// ManualReviewCandidateContact is one contact candidate.
type ManualReviewCandidateContact struct {
	ContactID  string `json:"contact_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Telephone  string `json:"telephone,omitempty"`
	CustomerID string `json:"customer_id"`
	Suggested  bool   `json:"suggested"`
}

// ManualReviewCandidates groups the three candidate categories of §4.7.
type ManualReviewCandidates struct {
	PDFs      []ManualReviewCandidatePDF      `json:"pdfs"`
	Customers []ManualReviewCandidateCustomer `json:"customers"`
	Contacts  []ManualReviewCandidateContact  `json:"contacts"`
}

func (c ManualReviewCandidates) Empty() bool {
	return len(c.PDFs) == 0 && len(c.Customers) == 0 && len(c.Contacts) == 0
}

// ManualReviewDecision records what the reviewer decided, for audit replay.
type ManualReviewDecision struct {
	Action               string `json:"action"`
	SelectedCustomerID   string `json:"selected_customer_id,omitempty"`
	SelectedContactID    string `json:"selected_contact_id,omitempty"`
	SelectedAttachmentID string `json:"selected_attachment_id,omitempty"`
	Comment              string `json:"comment,omitempty"`
	Operator             string `json:"operator,omitempty"`
	DecidedAt            string `json:"decided_at,omitempty"`
}

// ManualReviewInfo is the RunState.manual_review field.
type ManualReviewInfo struct {
	ReasonCode string                  `json:"reason_code"`
	CreatedAt  string                  `json:"created_at"`
	Candidates ManualReviewCandidates  `json:"candidates"`
	Decision   *ManualReviewDecision   `json:"decision,omitempty"`
}

// RunState is the orchestration state object threaded through every node.
// Fields are pointers so the merge reducer in Delta.Merge can
// distinguish "unset" from "zero value" (spec §5/§9 keep-first semantics).
type RunState struct {
	RunID string `json:"run_id"`

	EmailEvent InboundMessage `json:"email_event"`

	Masterdata      *MasterDataSnapshot        `json:"-"`
	MasterdataVersion int64                    `json:"masterdata_version,omitempty"`
	MatchedContact  *ContactMatchResult        `json:"matched_contact,omitempty"`
	ContractSignals *ContractSignalResult      `json:"contract_signals,omitempty"`
	MatchedCustomer *CustomerMatchResult       `json:"matched_customer,omitempty"`
	PDFAttachment   *Attachment                `json:"pdf_attachment,omitempty"`
	FileUpload      *FileUploadResult          `json:"file_upload,omitempty"`
	ContractResult  *ContractRecognitionResult `json:"contract_result,omitempty"`
	OrderPayload    *OrderPayloadResult        `json:"order_payload_result,omitempty"`
	ERPResult       *ERPCreateOrderResult      `json:"erp_result,omitempty"`

	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	FinalStatus    *Status `json:"final_status,omitempty"`

	Errors   []ErrorInfo `json:"errors"`
	Warnings []string    `json:"warnings"`

	ManualReview *ManualReviewInfo `json:"manual_review,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *RunState) AddError(code, reason string, details map[string]any) {
	s.Errors = append(s.Errors, ErrorInfo{Code: code, Reason: reason, Details: details})
}

func (s *RunState) AddWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Run is the durable record of one orchestration, persisted at graph entry
// and updated at step boundaries and finalize.
type Run struct {
	RunID      string
	MessageID  string
	Status     Status
	StartedAt  time.Time
	FinishedAt *time.Time
	State      *RunState
	Errors     []ErrorInfo
	Warnings   []string
}

// IdempotencyRecord is the terminal-result ledger row keyed by
// IdempotencyKey.
type IdempotencyRecord struct {
	IdempotencyKey string
	MessageID      string
	FileSHA256     string
	CustomerID     string
	Status         Status
	SalesOrderNo   string
	OrderURL       string
	CreatedAt      time.Time
}

// AuditEvent is one append-only, redacted audit row.
type AuditEvent struct {
	ID        string
	RunID     string
	Step      string
	Payload   map[string]any
	CreatedAt time.Time
}

// ManualReviewRequest is a reviewer's decision submission (§4.7).
type ManualReviewRequest struct {
	RunID                string
	MessageID            string
	Action               string // RESUME | BLOCK
	SelectedCustomerID   string
	SelectedContactID    string
	SelectedAttachmentID string
	Comment              string
	Operator             string
}

// ManualReviewResponse is the admin-surface response for a submission.
type ManualReviewResponse struct {
	OK          bool   `json:"ok"`
	Status      string `json:"status"`
	FinalStatus Status `json:"final_status,omitempty"`
	AuditID     string `json:"audit_id,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Resume      *RunResult `json:"resume,omitempty"`
}

// RunResult is the admin-surface response for run/replay.
type RunResult struct {
	RunID        string `json:"run_id"`
	Status       Status `json:"status"`
	SalesOrderNo string `json:"sales_order_no,omitempty"`
	OrderURL     string `json:"order_url,omitempty"`
	Errors       []ErrorInfo `json:"errors"`
	Warnings     []string    `json:"warnings"`
}
