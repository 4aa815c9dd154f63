// Package erpclient implements spec.md §4.8 C8: the ERP order-submit RPC
// (treated as an interface per spec.md §1 Non-goals: "no ERP data model").
// Grounded on original_source/.../nodes/call_gateway.py.
package erpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/loudon84/mcs-orchestrator/internal/retryx"
)

// Result mirrors model.ERPCreateOrderResult's shape without importing
// model, keeping this package a thin transport client; the orchestrator
// node translates Result into model.ERPCreateOrderResult.
type Result struct {
	OK           bool
	SalesOrderNo string
	OrderURL     string
	ErrorCode    string
	Err          error
}

const (
	ErrCodeAuthFailed = "ERP_AUTH_FAILED"
	ErrCodeCreateFailed = "ERP_CREATE_FAILED"
)

// Client posts an order payload to the ERP's /v1/orders endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	HTTPClient *http.Client
	Retry      retryx.Config
	Breaker    *gobreaker.CircuitBreaker
}

// New builds a Client with the spec.md §5 default 30s ERP timeout.
func New(baseURL, apiKey, tenantID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TenantID:   tenantID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      retryx.DefaultConfig,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "erpclient",
			Timeout: 30 * time.Second,
		}),
	}
}

// CreateOrder submits orderPayload. 401 maps to ERP_AUTH_FAILED and is
// never retried; other 4xx map to ERP_CREATE_FAILED and are never
// retried; network errors/5xx are retried up to 3 times with backoff
// (spec.md §4.8).
func (c *Client) CreateOrder(ctx context.Context, orderPayload map[string]any) Result {
	body, err := json.Marshal(orderPayload)
	if err != nil {
		return Result{ErrorCode: ErrCodeCreateFailed, Err: err}
	}

	var result Result
	err = retryx.Do(ctx, c.Retry, func(ctx context.Context) error {
		out, execErr := c.Breaker.Execute(func() (any, error) {
			return c.post(ctx, body)
		})
		if execErr != nil {
			return execErr
		}
		result = out.(Result)
		return nil
	})
	if err != nil {
		return Result{ErrorCode: ErrCodeCreateFailed, Err: err}
	}
	return result
}

func (c *Client) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.TenantID != "" {
		req.Header.Set("X-Tenant-Id", c.TenantID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, retryx.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{ErrorCode: ErrCodeAuthFailed, Err: fmt.Errorf("erp auth failed")}, nil
	case resp.StatusCode >= 500:
		return Result{}, retryx.Transient(fmt.Errorf("erp returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Result{ErrorCode: ErrCodeCreateFailed, Err: fmt.Errorf("erp returned %d", resp.StatusCode)}, nil
	}

	var out struct {
		SalesOrderNo string `json:"sales_order_no"`
		OrderURL     string `json:"order_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, retryx.Transient(fmt.Errorf("decode erp response: %w", err))
	}
	return Result{OK: true, SalesOrderNo: out.SalesOrderNo, OrderURL: out.OrderURL}, nil
}
