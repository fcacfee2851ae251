package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DedicatedClient talks to the dedicated-hardware inventory API using HTTP
// basic auth. This source has no utilization metrics; those arrive through
// agent reports.
type DedicatedClient struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	retry    retryConfig
}

// NewDedicatedClient creates a client for the dedicated inventory API.
func NewDedicatedClient(baseURL, user, password string, timeout time.Duration) *DedicatedClient {
	return &DedicatedClient{
		baseURL:  baseURL,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: timeout},
		retry:    defaultRetryConfig(),
	}
}

// Configured reports whether credentials are present. An unconfigured
// source is skipped by the collector rather than treated as a failure.
func (c *DedicatedClient) Configured() bool {
	return c.user != ""
}

// DedicatedServer is the raw inventory record for one dedicated machine.
type DedicatedServer struct {
	ServerNumber int    `json:"server_number"`
	ServerIP     string `json:"server_ip"`
	ServerName   string `json:"server_name"`
	Product      string `json:"product"`
	DC           string `json:"dc"`
	Status       string `json:"status"`
}

// The inventory API wraps each record under a "server" key.
type dedicatedEnvelope struct {
	Server DedicatedServer `json:"server"`
}

// ListServers returns all dedicated servers.
func (c *DedicatedClient) ListServers(ctx context.Context) ([]DedicatedServer, error) {
	var envelopes []dedicatedEnvelope
	if err := c.get(ctx, "/server", &envelopes); err != nil {
		return nil, fmt.Errorf("failed to list dedicated servers: %w", err)
	}

	servers := make([]DedicatedServer, 0, len(envelopes))
	for _, e := range envelopes {
		servers = append(servers, e.Server)
	}
	return servers, nil
}

// GetServer returns detail for a single dedicated server by its number.
func (c *DedicatedClient) GetServer(ctx context.Context, serverNumber int) (*DedicatedServer, error) {
	var envelope dedicatedEnvelope
	path := fmt.Sprintf("/server/%d", serverNumber)
	if err := c.get(ctx, path, &envelope); err != nil {
		return nil, fmt.Errorf("failed to fetch dedicated server %d: %w", serverNumber, err)
	}
	return &envelope.Server, nil
}

func (c *DedicatedClient) get(ctx context.Context, path string, out any) error {
	return executeWithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return classifyTransport(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return classifyTransport(err)
		}

		if resp.StatusCode >= 400 {
			return classifyStatus(resp, truncate(string(body), 500))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
		return nil
	})
}
