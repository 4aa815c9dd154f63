package channel

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/emailaddr"
	"github.com/loudon84/mcs-orchestrator/internal/model"
)

const jmapMailCapability = "urn:ietf:params:jmap:mail"

// JMAPConfig carries the session/credential fields internal/config.Config
// exposes for the JMAP channel.
type JMAPConfig struct {
	URL        string
	SessionURL string
	Username   string
	Password   string
	Account    string
	Whitelist  Whitelist
}

// JMAPAdapter polls an IMAP-style mailbox over JMAP (RFC 8620/8621).
// Grounded on the teacher's internal/jmap.JMAPClient session/query/changes
// shape, extended with the `attachments` JMAP/Mail property and a
// downloadUrl-template fetch so FetchMessage can return populated
// model.Attachment.Payload bytes (spec.md §3 "downloading and hashing
// happens at fetch time").
type JMAPAdapter struct {
	cfg        JMAPConfig
	httpClient *http.Client

	apiURL          string
	downloadURLTmpl string
	accountID       string
	inboxMailboxID  string
	cursorState     string
}

func NewJMAPAdapter(cfg JMAPConfig) *JMAPAdapter {
	return &JMAPAdapter{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (a *JMAPAdapter) ChannelType() model.Channel { return model.ChannelEmail }

func (a *JMAPAdapter) Connect(ctx context.Context) error {
	if a.cfg.URL == "" || a.cfg.Username == "" || a.cfg.Password == "" {
		return &AuthError{Err: errors.New("jmap channel not configured")}
	}
	if err := a.ensureSession(ctx); err != nil {
		return err
	}
	return a.ensureInboxMailbox(ctx)
}

func (a *JMAPAdapter) Disconnect(ctx context.Context) error { return nil }

func (a *JMAPAdapter) IsSenderAllowed(sender string) bool { return a.cfg.Whitelist.Allowed(sender) }

// PollNewMessageIDs advances the query/changes cursor and returns unseen
// JMAP Email ids, mirroring JMAPClient.FetchChanges's since-state branch
// without eagerly fetching full email bodies (spec.md §4.1 "fetches
// attachments lazily").
func (a *JMAPAdapter) PollNewMessageIDs(ctx context.Context) ([]string, error) {
	if a.cursorState == "" {
		state, ids, err := a.emailQuery(ctx)
		if err != nil {
			return nil, &ClientError{Err: err}
		}
		a.cursorState = state
		return ids, nil
	}
	state, ids, err := a.emailChanges(ctx, a.cursorState)
	if err != nil {
		return nil, &ClientError{Err: err}
	}
	a.cursorState = state
	return ids, nil
}

// FetchMessage fetches one Email by id, including its attachments'
// bytes, and normalizes it into an InboundMessage.
func (a *JMAPAdapter) FetchMessage(ctx context.Context, externalID string) (model.InboundMessage, error) {
	args := map[string]any{
		"accountId": a.accountID,
		"ids":       []string{externalID},
		"properties": []string{
			"id", "subject", "from", "to", "cc", "receivedAt",
			"bodyValues", "textBody", "htmlBody", "messageId", "attachments",
		},
	}
	resp, err := a.call(ctx, "Email/get", args)
	if err != nil {
		return model.InboundMessage{}, &ClientError{Err: err}
	}
	list, _ := resp["list"].([]any)
	if len(list) == 0 {
		return model.InboundMessage{}, fmt.Errorf("jmap: email %s not found", externalID)
	}
	raw, ok := list[0].(map[string]any)
	if !ok {
		return model.InboundMessage{}, fmt.Errorf("jmap: malformed email %s", externalID)
	}

	sender := firstParticipantEmail(raw["from"])
	canonicalSender, _, _, err := emailaddr.Canonicalize(sender)
	if err != nil {
		canonicalSender = strings.ToLower(strings.TrimSpace(sender))
	}

	received := time.Now().UTC()
	if rawReceived := getString(raw, "receivedAt"); rawReceived != "" {
		if parsed, err := time.Parse(time.RFC3339, rawReceived); err == nil {
			received = parsed
		}
	}

	text, html := extractBodies(raw)

	msg := model.InboundMessage{
		Channel:     model.ChannelEmail,
		Provider:    "jmap",
		Account:     a.cfg.Account,
		ExternalUID: externalID,
		MessageID:   emailaddr.NormalizeMessageID(getString(raw, "messageId")),
		SenderID:    canonicalSender,
		Recipients:  participantEmails(raw["to"]),
		CC:          participantEmails(raw["cc"]),
		Subject:     getString(raw, "subject"),
		BodyText:    text,
		BodyHTML:    html,
		ReceivedAt:  received,
	}

	attachments, err := a.fetchAttachments(ctx, raw["attachments"])
	if err != nil {
		return model.InboundMessage{}, &ClientError{Err: err}
	}
	msg.Attachments = attachments
	return msg, nil
}

func (a *JMAPAdapter) fetchAttachments(ctx context.Context, raw any) ([]model.Attachment, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	var out []model.Attachment
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		blobID := getString(m, "blobId")
		name := getString(m, "name")
		contentType := getString(m, "type")
		size := int64(getFloat(m, "size"))
		if blobID == "" {
			continue
		}

		payload, err := a.downloadBlob(ctx, blobID, name, contentType)
		if err != nil {
			// Attachment fetch failures are a warning, not a fatal poll
			// error: spec.md §4.1 "empty payloads are skipped with a
			// warning". The caller's ledger/blob write simply never sees
			// this attachment.
			slog.Warn("jmap: attachment download failed, skipped", "blob_id", blobID, "error", err)
			continue
		}
		if len(payload) == 0 {
			slog.Warn("jmap: empty attachment skipped", "blob_id", blobID)
			continue
		}
		if size > model.MaxAttachmentBytes {
			continue
		}
		sum := sha256.Sum256(payload)
		out = append(out, model.Attachment{
			AttachmentID: fmt.Sprintf("%s-%d", blobID, i),
			Filename:     name,
			ContentType:  contentType,
			SizeBytes:    size,
			SHA256:       hex.EncodeToString(sum[:]),
			Payload:      payload,
		})
	}
	return out, nil
}

func (a *JMAPAdapter) downloadBlob(ctx context.Context, blobID, name, contentType string) ([]byte, error) {
	if a.downloadURLTmpl == "" {
		return nil, errors.New("jmap: no download url template")
	}
	target := strings.NewReplacer(
		"{accountId}", a.accountID,
		"{blobId}", blobID,
		"{name}", url.PathEscape(name),
		"{type}", url.QueryEscape(contentType),
	).Replace(a.downloadURLTmpl)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jmap: blob download %s failed: %d", blobID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MarkProcessed sets the $seen keyword on the provider side, best-effort.
func (a *JMAPAdapter) MarkProcessed(ctx context.Context, externalID string) error {
	args := map[string]any{
		"accountId": a.accountID,
		"update": map[string]any{
			externalID: map[string]any{"keywords/$seen": true},
		},
	}
	_, err := a.call(ctx, "Email/set", args)
	return err
}

func (a *JMAPAdapter) ensureSession(ctx context.Context) error {
	if a.apiURL != "" && a.accountID != "" {
		return nil
	}
	sessionURL := a.cfg.SessionURL
	if sessionURL == "" {
		parsed, err := url.Parse(a.cfg.URL)
		if err != nil {
			return err
		}
		sessionURL = fmt.Sprintf("%s://%s/.well-known/jmap", parsed.Scheme, parsed.Host)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &ClientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Err: fmt.Errorf("jmap session unauthorized")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClientError{Err: fmt.Errorf("jmap session error: %d", resp.StatusCode)}
	}

	var session struct {
		APIURL          string            `json:"apiUrl"`
		DownloadURL     string            `json:"downloadUrl"`
		PrimaryAccounts map[string]string `json:"primaryAccounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return err
	}
	if session.APIURL == "" {
		return errors.New("jmap: missing apiUrl in session")
	}
	accountID := session.PrimaryAccounts[jmapMailCapability]
	if accountID == "" {
		return errors.New("jmap: missing mail account id")
	}
	a.apiURL = resolveURL(sessionURL, session.APIURL)
	a.downloadURLTmpl = session.DownloadURL
	if strings.HasPrefix(a.downloadURLTmpl, "/") {
		// Prefix rather than resolveURL: URL resolution would escape the
		// template's {placeholders}.
		if base, err := url.Parse(sessionURL); err == nil {
			a.downloadURLTmpl = base.Scheme + "://" + base.Host + a.downloadURLTmpl
		}
	}
	a.accountID = accountID
	return nil
}

func (a *JMAPAdapter) ensureInboxMailbox(ctx context.Context) error {
	if a.inboxMailboxID != "" {
		return nil
	}
	args := map[string]any{
		"accountId":  a.accountID,
		"properties": []string{"id", "name", "role"},
	}
	resp, err := a.call(ctx, "Mailbox/get", args)
	if err != nil {
		return err
	}
	list, ok := resp["list"].([]any)
	if !ok {
		return errors.New("jmap: invalid mailbox list")
	}
	for _, item := range list {
		mbox, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role := getString(mbox, "role")
		name := strings.ToLower(getString(mbox, "name"))
		if role == "inbox" || name == "inbox" {
			a.inboxMailboxID = getString(mbox, "id")
			return nil
		}
	}
	return errors.New("jmap: inbox mailbox not found")
}

func (a *JMAPAdapter) emailQuery(ctx context.Context) (string, []string, error) {
	args := map[string]any{
		"accountId": a.accountID,
		"filter":    map[string]any{"inMailbox": a.inboxMailboxID},
		"sort":      []map[string]any{{"property": "receivedAt", "isAscending": false}},
		"position":  0,
		"limit":     50,
	}
	resp, err := a.call(ctx, "Email/query", args)
	if err != nil {
		return "", nil, err
	}
	return getString(resp, "queryState"), toStringSlice(resp["ids"]), nil
}

func (a *JMAPAdapter) emailChanges(ctx context.Context, sinceState string) (string, []string, error) {
	args := map[string]any{
		"accountId":  a.accountID,
		"sinceState": sinceState,
		"maxChanges": 50,
	}
	resp, err := a.call(ctx, "Email/changes", args)
	if err != nil {
		return sinceState, nil, err
	}
	newState := getString(resp, "newState")
	created := toStringSlice(resp["created"])
	updated := toStringSlice(resp["updated"])
	return newState, append(created, updated...), nil
}

func (a *JMAPAdapter) call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"using":       []string{jmapMailCapability},
		"methodCalls": []any{[]any{method, args, "c1"}},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jmap call %s failed: %d", method, resp.StatusCode)
	}

	var decoded struct {
		MethodResponses []any `json:"methodResponses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	for _, rawResp := range decoded.MethodResponses {
		arr, ok := rawResp.([]any)
		if !ok || len(arr) < 2 {
			continue
		}
		name, _ := arr[0].(string)
		if name == "error" {
			return nil, fmt.Errorf("jmap error response for %s", method)
		}
		if name == method {
			if argsMap, ok := arr[1].(map[string]any); ok {
				return argsMap, nil
			}
		}
	}
	return nil, errors.New("jmap: missing response")
}

func resolveURL(base, target string) string {
	if strings.HasPrefix(target, "http") {
		return target
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return baseURL.ResolveReference(ref).String()
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getFloat(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	f, _ := m[key].(float64)
	return f
}

func toStringSlice(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func participantEmails(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if email := getString(m, "email"); email != "" {
			out = append(out, strings.ToLower(strings.TrimSpace(email)))
		}
	}
	return out
}

func firstParticipantEmail(raw any) string {
	emails := participantEmails(raw)
	if len(emails) == 0 {
		return ""
	}
	return emails[0]
}

func extractBodies(email map[string]any) (string, string) {
	bodyValues, _ := email["bodyValues"].(map[string]any)
	return extractBodyValue(bodyValues, email["textBody"]), extractBodyValue(bodyValues, email["htmlBody"])
}

func extractBodyValue(values map[string]any, raw any) string {
	if values == nil {
		return ""
	}
	parts, ok := raw.([]any)
	if !ok || len(parts) == 0 {
		return ""
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return ""
	}
	partID := getString(part, "partId")
	if partID == "" {
		return ""
	}
	valueRaw, ok := values[partID].(map[string]any)
	if !ok {
		return ""
	}
	return getString(valueRaw, "value")
}
