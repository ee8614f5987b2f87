// Package adform wraps the Adform DMP segment API. Only the calls the
// delivery pipeline needs are covered; the API itself is an external
// collaborator.
package adform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/c4m-data/actionhub/internal/config"
)

// scopes required for segment search and creation.
var scopes = []string{
	"https://api.adform.com/scope/dmp.segments",
	"https://api.adform.com/scope/dmp.segments.readonly",
	"https://api.adform.com/scope/dmp.categories",
	"https://api.adform.com/scope/dmp.categories.readonly",
	"https://api.adform.com/scope/dmp.reports.readonly",
	"https://api.adform.com/scope/dmp.accountpermissions",
	"https://api.adform.com/scope/dmp.accountpermissions.readonly",
}

// Segment is the DMP-side audience entity, keyed by RefID per
// (brand, campaign) pair.
type Segment struct {
	ID        int64  `json:"id"`
	RefID     string `json:"refId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	TTL       int    `json:"ttl"`
	Fee       int    `json:"fee"`
	Frequency int    `json:"frequency"`
}

// CreateSegmentRequest mirrors the DMP create payload.
type CreateSegmentRequest struct {
	DataProviderID int    `json:"DataProviderId"`
	Status         string `json:"Status"`
	CategoryID     int    `json:"CategoryId"`
	RefID          string `json:"RefId"`
	TTL            int    `json:"Ttl"`
	Name           string `json:"Name"`
	Fee            int    `json:"Fee"`
	Frequency      int    `json:"Frequency"`
}

// API is the surface the DMP destination adapter consumes.
type API interface {
	SearchSegment(ctx context.Context, refID string) (*Segment, error)
	CreateSegment(ctx context.Context, req CreateSegmentRequest) (*Segment, error)
}

// Client talks to the Adform REST API with a client-credentials token.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client whose transport refreshes the OAuth token as needed.
func New(ctx context.Context, cfg config.Adform) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       scopes,
	}
	return &Client{
		httpClient: cc.Client(ctx),
		baseURL:    cfg.APIBaseURL,
	}
}

// SearchSegment looks a segment up by exact RefID match. A miss returns
// (nil, nil); the search endpoint matches loosely, so results are filtered.
func (c *Client) SearchSegment(ctx context.Context, refID string) (*Segment, error) {
	u := fmt.Sprintf("%s/v1/dmp/segments?search=%s", c.baseURL, url.QueryEscape(refID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adform segment search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("segment search", resp)
	}

	var segments []Segment
	if err := json.NewDecoder(resp.Body).Decode(&segments); err != nil {
		return nil, fmt.Errorf("adform segment search: decode: %w", err)
	}
	for i := range segments {
		if segments[i].RefID == refID {
			return &segments[i], nil
		}
	}
	return nil, nil
}

// CreateSegment creates a segment and returns the DMP's view of it.
func (c *Client) CreateSegment(ctx context.Context, create CreateSegmentRequest) (*Segment, error) {
	body, err := json.Marshal(create)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/dmp/segments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adform segment create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError("segment create", resp)
	}

	var seg Segment
	if err := json.NewDecoder(resp.Body).Decode(&seg); err != nil {
		return nil, fmt.Errorf("adform segment create: decode: %w", err)
	}
	return &seg, nil
}

func apiError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("adform %s: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(snippet))
}
