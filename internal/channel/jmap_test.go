package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestJMAPServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/jmap", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"apiUrl":      "/api",
			"downloadUrl": "/download/{accountId}/{blobId}/{name}?type={type}",
			"primaryAccounts": map[string]string{
				jmapMailCapability: "account-1",
			},
		})
	})

	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake contract bytes"))
	})

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MethodCalls []json.RawMessage `json:"methodCalls"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var call []json.RawMessage
		json.Unmarshal(req.MethodCalls[0], &call)
		var method string
		json.Unmarshal(call[0], &method)

		var args map[string]any
		json.Unmarshal(call[1], &args)

		var result map[string]any
		switch method {
		case "Mailbox/get":
			result = map[string]any{
				"list": []any{
					map[string]any{"id": "mbox-1", "name": "Inbox", "role": "inbox"},
				},
			}
		case "Email/query":
			result = map[string]any{
				"queryState": "state-1",
				"ids":        []any{"email-1"},
			}
		case "Email/changes":
			result = map[string]any{
				"newState": "state-2",
				"created":  []any{"email-2"},
				"updated":  []any{},
			}
		case "Email/get":
			result = map[string]any{
				"list": []any{
					map[string]any{
						"id":         "email-1",
						"subject":    "PO attached",
						"messageId":  "<msg-1@example.com>",
						"receivedAt": "2026-01-01T00:00:00Z",
						"from": []any{
							map[string]any{"email": "Buyer@Example.com", "name": "Buyer"},
						},
						"to": []any{
							map[string]any{"email": "sales@example.com"},
						},
						"bodyValues": map[string]any{
							"p1": map[string]any{"value": "please see attached"},
						},
						"textBody": []any{map[string]any{"partId": "p1"}},
						"attachments": []any{
							map[string]any{
								"blobId": "blob-1",
								"name":   "po.pdf",
								"type":   "application/pdf",
								"size":   float64(27),
							},
						},
					},
				},
			}
		}

		resp := map[string]any{
			"methodResponses": []any{[]any{method, result, "c1"}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestJMAPAdapterConnectAndPoll(t *testing.T) {
	srv := newTestJMAPServer(t)
	defer srv.Close()

	a := NewJMAPAdapter(JMAPConfig{URL: srv.URL, Username: "u", Password: "p"})
	ctx := context.Background()

	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if a.accountID != "account-1" || a.inboxMailboxID != "mbox-1" {
		t.Fatalf("expected session/mailbox discovery, got accountID=%q inbox=%q", a.accountID, a.inboxMailboxID)
	}

	ids, err := a.PollNewMessageIDs(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ids) != 1 || ids[0] != "email-1" {
		t.Fatalf("expected [email-1] from initial query, got %v", ids)
	}

	ids, err = a.PollNewMessageIDs(ctx)
	if err != nil {
		t.Fatalf("poll (changes): %v", err)
	}
	if len(ids) != 1 || ids[0] != "email-2" {
		t.Fatalf("expected [email-2] from changes-since-state, got %v", ids)
	}
}

func TestJMAPAdapterFetchMessageWithAttachment(t *testing.T) {
	srv := newTestJMAPServer(t)
	defer srv.Close()

	a := NewJMAPAdapter(JMAPConfig{URL: srv.URL, Username: "u", Password: "p"})
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	msg, err := a.FetchMessage(ctx, "email-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msg.SenderID != "buyer@example.com" {
		t.Fatalf("expected canonicalized lowercase sender, got %q", msg.SenderID)
	}
	if msg.MessageID != "msg-1@example.com" {
		t.Fatalf("expected angle brackets stripped, got %q", msg.MessageID)
	}
	if msg.BodyText != "please see attached" {
		t.Fatalf("expected extracted text body, got %q", msg.BodyText)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "po.pdf" || len(att.Payload) == 0 || att.SHA256 == "" {
		t.Fatalf("expected downloaded+hashed attachment, got %+v", att)
	}
}
