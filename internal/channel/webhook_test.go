package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

func TestWhitelistAllowed(t *testing.T) {
	var empty Whitelist
	if !empty.Allowed("anyone@example.com") {
		t.Fatalf("empty whitelist must allow all senders")
	}

	w := Whitelist{"ok@example.com"}
	if !w.Allowed("ok@example.com") {
		t.Fatalf("expected listed sender to be allowed")
	}
	if w.Allowed("nope@example.com") {
		t.Fatalf("expected unlisted sender to be rejected")
	}
}

func TestWebhookAdapterPushPollFetchMark(t *testing.T) {
	a := NewWebhookAdapter(WebhookConfig{Account: "acct1"})
	ctx := context.Background()

	a.Push(model.InboundMessage{
		ExternalUID: "ext-1",
		MessageID:   "<abc@example.com>",
		SenderID:    "Sender@Example.COM",
	})

	ids, err := a.PollNewMessageIDs(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ext-1" {
		t.Fatalf("expected [ext-1], got %v", ids)
	}

	// A second poll drains nothing new.
	ids, err = a.PollNewMessageIDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty second poll, got %v err=%v", ids, err)
	}

	msg, err := a.FetchMessage(ctx, "ext-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msg.MessageID != "abc@example.com" {
		t.Fatalf("expected angle brackets stripped, got %q", msg.MessageID)
	}
	if msg.SenderID != "sender@example.com" {
		t.Fatalf("expected canonicalized sender, got %q", msg.SenderID)
	}
	if msg.Account != "acct1" {
		t.Fatalf("expected adapter account fallback, got %q", msg.Account)
	}

	if err := a.MarkProcessed(ctx, "ext-1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if _, err := a.FetchMessage(ctx, "ext-1"); err == nil {
		t.Fatalf("expected fetch after mark-processed to fail")
	}
}

func TestWebhookAdapterPushDedupesPending(t *testing.T) {
	a := NewWebhookAdapter(WebhookConfig{})
	a.Push(model.InboundMessage{ExternalUID: "dup"})
	a.Push(model.InboundMessage{ExternalUID: "dup"})

	ids, err := a.PollNewMessageIDs(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one queued id for repeated pushes of the same external_uid, got %v", ids)
	}
}

func TestWebhookAdapterVerifySignature(t *testing.T) {
	a := NewWebhookAdapter(WebhookConfig{Secret: "shh"})
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if err := a.VerifySignature(body, good); err != nil {
		t.Fatalf("expected valid signature to pass, got %v", err)
	}
	if err := a.VerifySignature(body, "deadbeef"); err == nil {
		t.Fatalf("expected mismatched signature to fail")
	}

	noSecret := NewWebhookAdapter(WebhookConfig{})
	if err := noSecret.VerifySignature(body, "anything"); err != nil {
		t.Fatalf("expected no-secret adapter to skip verification, got %v", err)
	}
}
