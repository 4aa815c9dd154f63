package model

import "testing"

func TestAttachmentIsPDF(t *testing.T) {
	cases := []struct {
		name string
		att  Attachment
		want bool
	}{
		{"content type", Attachment{ContentType: "application/pdf", Filename: "scan"}, true},
		{"extension fallback", Attachment{ContentType: "application/octet-stream", Filename: "Contract.PDF"}, true},
		{"not a pdf", Attachment{ContentType: "image/png", Filename: "logo.png"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.att.IsPDF(); got != c.want {
				t.Fatalf("IsPDF() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestInboundMessagePDFAttachments(t *testing.T) {
	msg := InboundMessage{
		Attachments: []Attachment{
			{Filename: "invoice.pdf", ContentType: "application/pdf"},
			{Filename: "logo.png", ContentType: "image/png"},
			{Filename: "contract.pdf", ContentType: "application/pdf"},
		},
	}

	pdfs := msg.PDFAttachments()
	if len(pdfs) != 2 {
		t.Fatalf("expected 2 pdf attachments, got %d: %+v", len(pdfs), pdfs)
	}
}

func TestMasterDataSnapshotLookups(t *testing.T) {
	customers := []Customer{{CustomerID: "c1", Name: "Acme"}}
	contacts := []Contact{{ContactID: "ct1", Email: "Jane.Doe@Example.com", CustomerID: "c1"}}

	snap := NewMasterDataSnapshot(1, customers, contacts, nil, nil)

	if _, ok := snap.GetContactByEmail("jane.doe@example.com"); !ok {
		t.Fatalf("expected case-insensitive match for contact email")
	}
	if _, ok := snap.GetContactByEmail("  JANE.DOE@EXAMPLE.COM  "); !ok {
		t.Fatalf("expected trimmed, case-insensitive match for contact email")
	}
	if _, ok := snap.GetCustomerByID("c1"); !ok {
		t.Fatalf("expected customer lookup by id to succeed")
	}
	if _, ok := snap.GetCustomerByID("missing"); ok {
		t.Fatalf("expected lookup of unknown customer id to fail")
	}
}

func TestMasterDataSnapshotNilSafe(t *testing.T) {
	var snap *MasterDataSnapshot
	if _, ok := snap.GetContactByEmail("x@example.com"); ok {
		t.Fatalf("expected nil snapshot lookup to fail safely")
	}
	if _, ok := snap.GetCustomerByID("x"); ok {
		t.Fatalf("expected nil snapshot lookup to fail safely")
	}
}

func TestManualReviewCandidatesEmpty(t *testing.T) {
	var c ManualReviewCandidates
	if !c.Empty() {
		t.Fatalf("expected zero-value candidates to be empty")
	}
	c.PDFs = append(c.PDFs, ManualReviewCandidatePDF{AttachmentID: "a1"})
	if c.Empty() {
		t.Fatalf("expected candidates with a pdf to be non-empty")
	}
}

func TestStatusParseRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusManualReview, StatusERPOrderFailed} {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) returned error: %v", s, err)
		}
		if parsed != s {
			t.Fatalf("round trip mismatch: got %q, want %q", parsed, s)
		}
	}

	if _, err := ParseStatus("NOT_A_STATUS"); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}
