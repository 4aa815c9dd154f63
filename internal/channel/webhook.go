package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/loudon84/mcs-orchestrator/internal/emailaddr"
	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// WebhookConfig carries the shared secret used to verify inbound push
// signatures, mirroring the teacher's JMAP push-secret verification
// (internal/app.handleJMAPPush).
type WebhookConfig struct {
	Secret    string
	Account   string
	Whitelist Whitelist
}

// WebhookAdapter is push-driven rather than poll-driven: an HTTP handler
// (internal/adminapi) verifies the provider's signature and calls Push,
// queuing the message for the next scheduler tick. PollNewMessageIDs then
// drains whatever has queued since the last call, so the same C2 loop
// shape (poll → fetch → ...) still applies uniformly across adapters.
type WebhookAdapter struct {
	cfg WebhookConfig

	mu      sync.Mutex
	pending []string
	store   map[string]model.InboundMessage
}

func NewWebhookAdapter(cfg WebhookConfig) *WebhookAdapter {
	return &WebhookAdapter{cfg: cfg, store: make(map[string]model.InboundMessage)}
}

func (a *WebhookAdapter) ChannelType() model.Channel { return model.ChannelWebhook }

func (a *WebhookAdapter) IsSenderAllowed(sender string) bool { return a.cfg.Whitelist.Allowed(sender) }

func (a *WebhookAdapter) Connect(ctx context.Context) error    { return nil }
func (a *WebhookAdapter) Disconnect(ctx context.Context) error { return nil }

// VerifySignature checks an HMAC-SHA256 signature over the raw request
// body, hex-encoded, as most webhook providers in the pack expect.
func (a *WebhookAdapter) VerifySignature(body []byte, signature string) error {
	if a.cfg.Secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return &AuthError{Err: errors.New("webhook: signature mismatch")}
	}
	return nil
}

// Push enqueues a provider-normalized message for the next poll. Sender
// canonicalization happens here so PollNewMessageIDs/FetchMessage behave
// like every other adapter regardless of what the provider already did.
func (a *WebhookAdapter) Push(msg model.InboundMessage) {
	if canonical, _, _, err := emailaddr.Canonicalize(msg.SenderID); err == nil {
		msg.SenderID = canonical
	} else {
		msg.SenderID = strings.ToLower(strings.TrimSpace(msg.SenderID))
	}
	msg.MessageID = emailaddr.NormalizeMessageID(msg.MessageID)
	msg.Channel = model.ChannelWebhook
	if msg.Account == "" {
		msg.Account = a.cfg.Account
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.store[msg.ExternalUID]; !exists {
		a.pending = append(a.pending, msg.ExternalUID)
	}
	a.store[msg.ExternalUID] = msg
}

func (a *WebhookAdapter) PollNewMessageIDs(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.pending
	a.pending = nil
	return ids, nil
}

func (a *WebhookAdapter) FetchMessage(ctx context.Context, externalID string) (model.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg, ok := a.store[externalID]
	if !ok {
		return model.InboundMessage{}, errors.New("webhook: message not found: " + externalID)
	}
	return msg, nil
}

func (a *WebhookAdapter) MarkProcessed(ctx context.Context, externalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.store, externalID)
	return nil
}
