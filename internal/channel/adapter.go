// Package channel implements spec.md §4.1 C1: channel adapters that poll a
// provider, normalize its wire format into a canonical model.InboundMessage,
// and apply a per-channel sender whitelist. Grounded on the teacher's
// internal/jmap package (session/poll/fetch shape), generalized to the
// Adapter interface spec.md §4.1 names explicitly.
package channel

import (
	"context"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// Adapter is the polymorphic capability set spec.md §4.1 names:
// "{connect, disconnect, poll_new_message_ids, fetch_message,
// mark_processed, is_sender_allowed, channel_type}".
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	PollNewMessageIDs(ctx context.Context) ([]string, error)
	FetchMessage(ctx context.Context, externalID string) (model.InboundMessage, error)
	MarkProcessed(ctx context.Context, externalID string) error
	IsSenderAllowed(sender string) bool
	ChannelType() model.Channel
}

// AuthError distinguishes a token-exchange failure caused by bad
// credentials from a transient ClientError, per spec.md §4.1's failure
// semantics for OAuth adapters.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return "channel: auth error: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// ClientError is a transient, retry-eligible failure (network error,
// 5xx, timeout) distinct from AuthError.
type ClientError struct{ Err error }

func (e *ClientError) Error() string { return "channel: client error: " + e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// Whitelist implements is_sender_allowed: an empty whitelist allows every
// sender (spec.md §4.1 "empty whitelist ⇒ allow all").
type Whitelist []string

func (w Whitelist) Allowed(sender string) bool {
	if len(w) == 0 {
		return true
	}
	for _, allowed := range w {
		if allowed == sender {
			return true
		}
	}
	return false
}
