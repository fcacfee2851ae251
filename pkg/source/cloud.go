package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// CloudClient talks to the cloud provider's REST API: bearer-token auth,
// page/per_page pagination, per-server metric time series. All calls carry
// a timeout and go through the shared rate limiter so a parallel sync
// cannot exceed the provider's request budget.
type CloudClient struct {
	baseURL  string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	retry    retryConfig
}

// NewCloudClient creates a client for the cloud inventory API.
// rps bounds outbound requests per second; pageSize bounds listing pages.
func NewCloudClient(baseURL, token string, timeout time.Duration, rps, pageSize int) *CloudClient {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	if rps <= 0 {
		rps = 5
	}
	return &CloudClient{
		baseURL:  baseURL,
		token:    token,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), rps*2),
		pageSize: pageSize,
		retry:    defaultRetryConfig(),
	}
}

// CloudServer is the raw inventory record returned by the provider.
type CloudServer struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	ServerType CloudServerType   `json:"server_type"`
	Datacenter CloudDatacenter   `json:"datacenter"`
	PublicNet  CloudPublicNet    `json:"public_net"`
	Labels     map[string]string `json:"labels"`
}

// CloudServerType carries the SKU's capacity and price entries.
type CloudServerType struct {
	Name   string       `json:"name"`
	Cores  int          `json:"cores"`
	Memory float64      `json:"memory"`
	Disk   int          `json:"disk"`
	Prices []CloudPrice `json:"prices"`
}

// MonthlyGross returns the first available monthly gross price, or 0.
// The provider serializes prices as decimal strings.
func (t CloudServerType) MonthlyGross() float64 {
	for _, p := range t.Prices {
		if v, err := strconv.ParseFloat(p.PriceMonthly.Gross, 64); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

type CloudPrice struct {
	Location     string      `json:"location"`
	PriceMonthly CloudAmount `json:"price_monthly"`
}

type CloudAmount struct {
	Gross string `json:"gross"`
}

type CloudDatacenter struct {
	Name string `json:"name"`
}

type CloudPublicNet struct {
	IPv4 struct {
		IP string `json:"ip"`
	} `json:"ipv4"`
}

// MetricsResponse is the per-server metrics payload.
type MetricsResponse struct {
	Metrics struct {
		TimeSeries map[string]TimeSeries `json:"time_series"`
	} `json:"metrics"`
}

type TimeSeries struct {
	Values []TimeSeriesPoint `json:"values"`
}

// TimeSeriesPoint is one [timestamp, value] pair. The provider encodes the
// value as a decimal string.
type TimeSeriesPoint struct {
	Timestamp float64
	Value     float64
}

func (p *TimeSeriesPoint) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("time series point has %d elements, want 2", len(raw))
	}

	ts, ok := raw[0].(float64)
	if !ok {
		return fmt.Errorf("time series timestamp is %T, want number", raw[0])
	}
	p.Timestamp = ts

	switch v := raw[1].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("time series value %q is not numeric", v)
		}
		p.Value = f
	case float64:
		p.Value = v
	default:
		return fmt.Errorf("time series value is %T, want string or number", raw[1])
	}
	return nil
}

type cloudServerPage struct {
	Servers []CloudServer `json:"servers"`
	Meta    cloudMeta     `json:"meta"`
}

type cloudTypePage struct {
	ServerTypes []CloudServerType `json:"server_types"`
	Meta        cloudMeta         `json:"meta"`
}

type cloudMeta struct {
	Pagination struct {
		Page     int `json:"page"`
		LastPage int `json:"last_page"`
	} `json:"pagination"`
}

// ListServers returns all cloud servers, following pagination until the
// listing is exhausted.
func (c *CloudClient) ListServers(ctx context.Context) ([]CloudServer, error) {
	var all []CloudServer

	for page := 1; ; page++ {
		var result cloudServerPage
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.pageSize))

		if err := c.get(ctx, "/servers", params, &result); err != nil {
			return nil, fmt.Errorf("failed to list cloud servers (page %d): %w", page, err)
		}
		all = append(all, result.Servers...)

		lastPage := result.Meta.Pagination.LastPage
		if lastPage == 0 || page >= lastPage {
			break
		}
	}

	return all, nil
}

// ListServerTypes returns all server types with specs and pricing, used to
// fill capacity and cost for servers whose listing omits them.
func (c *CloudClient) ListServerTypes(ctx context.Context) ([]CloudServerType, error) {
	var all []CloudServerType

	for page := 1; ; page++ {
		var result cloudTypePage
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(c.pageSize))

		if err := c.get(ctx, "/server_types", params, &result); err != nil {
			return nil, fmt.Errorf("failed to list server types (page %d): %w", page, err)
		}
		all = append(all, result.ServerTypes...)

		lastPage := result.Meta.Pagination.LastPage
		if lastPage == 0 || page >= lastPage {
			break
		}
	}

	return all, nil
}

// GetServerMetrics fetches one metric family (cpu, disk or network) for a
// server over the given window.
func (c *CloudClient) GetServerMetrics(ctx context.Context, serverID int64, metricType string, start, end time.Time) (*MetricsResponse, error) {
	params := url.Values{}
	params.Set("type", metricType)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	var result MetricsResponse
	path := fmt.Sprintf("/servers/%d/metrics", serverID)
	if err := c.get(ctx, path, params, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch %s metrics for server %d: %w", metricType, serverID, err)
	}
	return &result, nil
}

func (c *CloudClient) get(ctx context.Context, path string, params url.Values, out any) error {
	return executeWithRetry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
