package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opnet-io/admitd/internal/server"
)

// apiClient is a minimal HTTP/JSON client for the admitd admin API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) *apiClient {
	return &apiClient{baseURL: baseURL, http: httpClient}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) queueStats(ctx context.Context) (*server.QueueStats, error) {
	var stats server.QueueStats
	if err := c.get(ctx, "/v1/queue/stats", &stats); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

func (c *apiClient) setQueueActive(ctx context.Context, active bool) (*server.QueueStats, error) {
	var stats server.QueueStats
	req := server.SetActiveRequest{Active: active}
	if err := c.post(ctx, "/v1/queue/active", req, &stats); err != nil {
		return nil, fmt.Errorf("set queue active: %w", err)
	}
	return &stats, nil
}

func (c *apiClient) ddfStats(ctx context.Context) (*server.DDFStats, error) {
	var stats server.DDFStats
	if err := c.get(ctx, "/v1/ddf/stats", &stats); err != nil {
		return nil, fmt.Errorf("ddf stats: %w", err)
	}
	return &stats, nil
}

func (c *apiClient) ddfKnown(ctx context.Context, entryHex string) (*server.DDFKnownResponse, error) {
	var resp server.DDFKnownResponse
	if err := c.get(ctx, "/v1/ddf/known/"+entryHex, &resp); err != nil {
		return nil, fmt.Errorf("ddf known: %w", err)
	}
	return &resp, nil
}

// streamEvents streams the NDJSON /v1/events feed, calling onEvent for each
// decoded line until ctx is cancelled or the connection closes.
func (c *apiClient) streamEvents(ctx context.Context, onEvent func(server.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/v1/events: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev server.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		onEvent(ev)
	}
	return scanner.Err()
}
