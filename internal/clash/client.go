package clash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// Client is a thin wrapper over the Clash of Clans REST API. It returns
// (nil, nil) when the requested resource does not exist.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *Client) CurrentWar(ctx context.Context, clanTag string) (*WarSnapshot, error) {
	var snapshot WarSnapshot
	found, err := c.get(ctx, fmt.Sprintf("/clans/%s/currentwar", url.PathEscape(clanTag)), &snapshot)
	if err != nil {
		return nil, fmt.Errorf("fetch current war for %s: %w", clanTag, err)
	}
	if !found {
		return nil, nil
	}
	if snapshot.State == "" {
		return nil, fmt.Errorf("malformed war payload for %s: missing state", clanTag)
	}
	return &snapshot, nil
}

func (c *Client) ClanByTag(ctx context.Context, clanTag string) (*ClanInfo, error) {
	var info ClanInfo
	found, err := c.get(ctx, fmt.Sprintf("/clans/%s", url.PathEscape(clanTag)), &info)
	if err != nil {
		return nil, fmt.Errorf("fetch clan %s: %w", clanTag, err)
	}
	if !found {
		return nil, nil
	}
	return &info, nil
}

func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
