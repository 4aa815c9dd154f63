// Package llmclient implements spec.md §4.8 C8: a JSON-returning RPC client
// for the LLM vendor (treated as an interface, not a design per spec.md §1
// Non-goals). Grounded on original_source/.../tools/dify_client.py's
// chatflow-call shape.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"

	"github.com/loudon84/mcs-orchestrator/internal/retryx"
)

// File is a remote-url file reference attached to a chatflow call.
type File struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

// Answer is the vendor's parsed JSON answer. Schema validation (when a
// schema is configured) happens against the decoded map before the caller
// unmarshals it into a concrete result type.
type Answer map[string]any

// Client calls a single Dify-style chatflow endpoint. One Client per
// LLM "app key" (the teacher's per-tool client-per-credential shape).
type Client struct {
	BaseURL    string
	AppKey     string
	HTTPClient *http.Client
	Retry      retryx.Config
	Breaker    *gobreaker.CircuitBreaker
	Schema     *jsonschema.Schema
}

// New builds a Client with the spec.md §5 default 120s LLM timeout and a
// gobreaker.CircuitBreaker named after the app key, mirroring the
// teacher's jsonschema.Compile-once-reuse-many pattern for LoadSchema.
func New(baseURL, appKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		AppKey:     appKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Retry:      retryx.DefaultConfig,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llmclient:" + appKey,
			Timeout: 30 * time.Second,
		}),
	}
}

// WithSchema compiles schemaJSON once and attaches it; subsequent Answer
// values from Chatflow are validated against it. Grounded on the teacher's
// tools.LoadSchema/validateJSON pair.
func (c *Client) WithSchema(schemaJSON map[string]any) (*Client, error) {
	data, err := json.Marshal(schemaJSON)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(data)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	c.Schema = compiled
	return c, nil
}

// Chatflow calls the vendor's chat-messages endpoint in blocking mode and
// parses the `answer` field as JSON, tolerating fenced-code-block wrappers
// (spec.md §4.8). Retries up to 3 times on 5xx/timeouts/429 with
// exponential backoff, via retryx + a circuit breaker per app key.
func (c *Client) Chatflow(ctx context.Context, query, user string, inputs map[string]any, files []File) (Answer, error) {
	payload := map[string]any{
		"inputs":        inputs,
		"query":         query,
		"user":          user,
		"response_mode": "blocking",
	}
	if len(files) > 0 {
		payload["files"] = files
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var rawAnswer string
	err = retryx.Do(ctx, c.Retry, func(ctx context.Context) error {
		result, err := c.Breaker.Execute(func() (any, error) {
			return c.post(ctx, body)
		})
		if err != nil {
			return err
		}
		rawAnswer = result.(string)
		return nil
	})
	if err != nil {
		return Answer{"ok": false, "reason": fmt.Sprintf("llm call failed: %v", err), "raw_answer": nil}, nil
	}

	answer := parseAnswer(rawAnswer)
	if c.Schema != nil {
		if err := c.Schema.Validate(map[string]any(answer)); err != nil {
			return Answer{"ok": false, "reason": fmt.Sprintf("answer failed schema validation: %v", err), "raw_answer": rawAnswer}, nil
		}
	}
	return answer, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat-messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.AppKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", retryx.Transient(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retryx.Transient(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", retryx.Transient(fmt.Errorf("llm call returned %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm call returned %d", resp.StatusCode)
	}

	var envelope struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("decode llm envelope: %w", err)
	}
	return envelope.Answer, nil
}

// parseAnswer tries a direct JSON parse, then a ```json fenced block, then
// the widest {...} span, mirroring DifyClient._parse_json_answer's
// fallback chain exactly.
func parseAnswer(raw string) Answer {
	var direct map[string]any
	if err := json.Unmarshal([]byte(raw), &direct); err == nil {
		return Answer(direct)
	}

	if idx := strings.Index(raw, "```json"); idx >= 0 {
		start := idx + len("```json")
		if end := strings.Index(raw[start:], "```"); end >= 0 {
			fenced := strings.TrimSpace(raw[start : start+end])
			var parsed map[string]any
			if err := json.Unmarshal([]byte(fenced), &parsed); err == nil {
				return Answer(parsed)
			}
		}
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil {
				return Answer(parsed)
			}
		}
	}

	return Answer{"ok": false, "reason": "failed to parse JSON from LLM answer", "raw_answer": raw}
}
