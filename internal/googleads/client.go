// Package googleads is a thin REST wrapper around the Google Ads API,
// limited to customer-match user lists and offline user data jobs. There
// is no official Go SDK, so the calls are issued directly against the
// JSON transport.
package googleads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/c4m-data/actionhub/internal/config"
)

// UserDataOperation is one membership change inside an offline user data
// job. Remove flips the operation from "create" to "remove".
type UserDataOperation struct {
	Remove      bool
	HashedEmail string
	HashedPhone string
}

// API is the surface the audience destination adapter consumes.
type API interface {
	// FindUserList returns the resource name of the user list with the
	// given display name, or found=false when no such list exists.
	FindUserList(ctx context.Context, name string) (resource string, found bool, err error)
	// CreateUserList creates an open CRM-based user list and returns its
	// resource name.
	CreateUserList(ctx context.Context, name string, membershipDays int) (string, error)
	// CreateJob opens an offline user data job targeting the list.
	CreateJob(ctx context.Context, listResource string) (jobResource string, err error)
	// AddOperations appends membership operations to a pending job.
	AddOperations(ctx context.Context, jobResource string, ops []UserDataOperation) error
	// RunJob submits the job for asynchronous processing.
	RunJob(ctx context.Context, jobResource string) error
}

// Client issues Google Ads REST calls for a single customer account.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	customerID      string
	developerToken  string
	loginCustomerID string
}

// New builds a Client for one customer account. The transport refreshes
// the OAuth access token from the configured refresh token.
func New(ctx context.Context, cfg config.GoogleAds, customerID string) *Client {
	oc := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return &Client{
		httpClient:      oauth2.NewClient(ctx, ts),
		baseURL:         cfg.APIBaseURL,
		customerID:      customerID,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: cfg.LoginCustomerID,
	}
}

func (c *Client) do(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set("login-customer-id", c.loginCustomerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("googleads %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("googleads %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("googleads %s: decode: %w", path, err)
		}
	}
	return nil
}

func (c *Client) FindUserList(ctx context.Context, name string) (string, bool, error) {
	query := fmt.Sprintf(
		"SELECT user_list.resource_name, user_list.name FROM user_list WHERE user_list.name = '%s'", name)
	var result struct {
		Results []struct {
			UserList struct {
				ResourceName string `json:"resourceName"`
			} `json:"userList"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/customers/%s/googleAds:search", c.customerID)
	if err := c.do(ctx, path, map[string]string{"query": query}, &result); err != nil {
		return "", false, err
	}
	if len(result.Results) == 0 {
		return "", false, nil
	}
	return result.Results[0].UserList.ResourceName, true, nil
}

func (c *Client) CreateUserList(ctx context.Context, name string, membershipDays int) (string, error) {
	body := map[string]any{
		"operations": []map[string]any{{
			"create": map[string]any{
				"name":               name,
				"membershipStatus":   "OPEN",
				"membershipLifeSpan": fmt.Sprintf("%d", membershipDays),
				"crmBasedUserList": map[string]any{
					"uploadKeyType": "CONTACT_INFO",
				},
			},
		}},
	}
	var result struct {
		Results []struct {
			ResourceName string `json:"resourceName"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/customers/%s/userLists:mutate", c.customerID)
	if err := c.do(ctx, path, body, &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("googleads user list create: empty mutate response")
	}
	return result.Results[0].ResourceName, nil
}

func (c *Client) CreateJob(ctx context.Context, listResource string) (string, error) {
	body := map[string]any{
		"job": map[string]any{
			"type": "CUSTOMER_MATCH_USER_LIST",
			"customerMatchUserListMetadata": map[string]any{
				"userList": listResource,
				"consent": map[string]any{
					"adUserData":        "GRANTED",
					"adPersonalization": "GRANTED",
				},
			},
		},
	}
	var result struct {
		ResourceName string `json:"resourceName"`
	}
	path := fmt.Sprintf("/customers/%s/offlineUserDataJobs:create", c.customerID)
	if err := c.do(ctx, path, body, &result); err != nil {
		return "", err
	}
	if result.ResourceName == "" {
		return "", fmt.Errorf("googleads job create: empty resource name")
	}
	return result.ResourceName, nil
}

func (c *Client) AddOperations(ctx context.Context, jobResource string, ops []UserDataOperation) error {
	encoded := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		ids := make([]map[string]string, 0, 2)
		if op.HashedEmail != "" {
			ids = append(ids, map[string]string{"hashedEmail": op.HashedEmail})
		}
		if op.HashedPhone != "" {
			ids = append(ids, map[string]string{"hashedPhoneNumber": op.HashedPhone})
		}
		if len(ids) == 0 {
			continue
		}
		userData := map[string]any{"userIdentifiers": ids}
		if op.Remove {
			encoded = append(encoded, map[string]any{"remove": userData})
		} else {
			encoded = append(encoded, map[string]any{"create": userData})
		}
	}
	if len(encoded) == 0 {
		return nil
	}
	body := map[string]any{
		"operations":           encoded,
		"enablePartialFailure": true,
	}
	return c.do(ctx, "/"+jobResource+":addOperations", body, nil)
}

func (c *Client) RunJob(ctx context.Context, jobResource string) error {
	return c.do(ctx, "/"+jobResource+":run", map[string]any{}, nil)
}
