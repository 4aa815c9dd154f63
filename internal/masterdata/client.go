// Package masterdata implements spec.md §4.3 C3: a read-through, versioned
// snapshot cache in front of the out-of-scope master-data CRUD service.
package masterdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// Client is the out-of-scope master-data CRUD service's read surface. Only
// its interface matters (spec.md §1 "OUT OF SCOPE... only their interfaces
// matter").
type Client interface {
	CurrentVersion(ctx context.Context) (int64, error)
	FetchSnapshot(ctx context.Context) (*model.MasterDataSnapshot, error)
}

// HTTPClient is the concrete Client grounded on the teacher's
// jmap.JMAPClient HTTP-call shape (bearer-authed POST/GET, JSON decode),
// generalized from JMAP's JSON-RPC envelope to a plain REST pair.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) CurrentVersion(ctx context.Context) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	if err := c.getJSON(ctx, "/v1/masterdata/version", &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

func (c *HTTPClient) FetchSnapshot(ctx context.Context) (*model.MasterDataSnapshot, error) {
	var out struct {
		Version   int64            `json:"version"`
		Customers []model.Customer `json:"customers"`
		Contacts  []model.Contact  `json:"contacts"`
		Companies []model.Company  `json:"companies"`
		Products  []model.Product  `json:"products"`
	}
	if err := c.getJSON(ctx, "/v1/masterdata/snapshot", &out); err != nil {
		return nil, err
	}
	return model.NewMasterDataSnapshot(out.Version, out.Customers, out.Contacts, out.Companies, out.Products), nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("masterdata request %s failed: %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
