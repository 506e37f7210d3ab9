// Package telemetry queries the metrics and log backend the Health
// Scanner reduces into a ServiceHealth (spec §4.1). The concrete client
// speaks the Prometheus HTTP query API, the shape Cloud Monitoring and
// most self-hosted telemetry backends front-end with.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/httpclient"
)

// Client is the Health Scanner's view of the telemetry backend: three
// independent signal queries plus one log query, all labeled by
// (service, region) (spec §4.1). PrometheusClient evaluates each signal
// as one instant query over the whole window; it does not align results
// to 60-second buckets.
type Client interface {
	RequestCount(ctx context.Context, service, region string, window time.Duration) (int64, error)
	ErrorCount(ctx context.Context, service, region string, window time.Duration) (int64, error)
	P95LatencyMS(ctx context.Context, service, region string, window time.Duration) (*float64, error)
	ErrorLogs(ctx context.Context, service, region string, window time.Duration, limit int) ([]domain.LogSample, error)
}

// PrometheusClient implements Client against a Prometheus-compatible
// `/api/v1/query` endpoint.
type PrometheusClient struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

// NewPrometheusClient builds a PrometheusClient against endpoint, trimming
// any trailing slash.
func NewPrometheusClient(endpoint string, timeout time.Duration, log *zap.Logger) *PrometheusClient {
	for len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		endpoint = endpoint[:len(endpoint)-1]
	}
	return &PrometheusClient{
		endpoint: endpoint,
		http:     httpclient.NewClient(httpclient.PrometheusClientConfig(timeout)),
		log:      log,
	}
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  [2]interface{}    `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// query returns nil when the backend has no result for promql (an empty
// vector, or a non-success status), distinct from a genuine zero value.
func (c *PrometheusClient) query(ctx context.Context, promql string) (*float64, error) {
	u := fmt.Sprintf("%s/api/v1/query?query=%s", c.endpoint, url.QueryEscape(promql))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building telemetry request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry backend returned status %d", resp.StatusCode)
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding telemetry response: %w", err)
	}
	if parsed.Status != "success" || len(parsed.Data.Result) == 0 {
		return nil, nil
	}

	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected telemetry value shape")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *PrometheusClient) RequestCount(ctx context.Context, service, region string, window time.Duration) (int64, error) {
	q := fmt.Sprintf(`sum(increase(http_requests_total{service=%q,region=%q}[%s]))`, service, region, window)
	v, err := c.query(ctx, q)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return int64(*v), nil
}

func (c *PrometheusClient) ErrorCount(ctx context.Context, service, region string, window time.Duration) (int64, error) {
	q := fmt.Sprintf(`sum(increase(http_requests_total{service=%q,region=%q,code=~"5.."}[%s]))`, service, region, window)
	v, err := c.query(ctx, q)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return int64(*v), nil
}

// P95LatencyMS returns nil, rather than a zero value, when the backend has
// no latency histogram for the window (spec §4.1: keep p95 as-is or null,
// never fabricate a zero that would never trip the latency threshold).
func (c *PrometheusClient) P95LatencyMS(ctx context.Context, service, region string, window time.Duration) (*float64, error) {
	q := fmt.Sprintf(`histogram_quantile(0.95, sum(rate(http_request_duration_ms_bucket{service=%q,region=%q}[%s])) by (le))`, service, region, window)
	return c.query(ctx, q)
}

// ErrorLogs fetches entries at severity >= ERROR in the scan window,
// truncated and capped per spec §4.1.
func (c *PrometheusClient) ErrorLogs(ctx context.Context, service, region string, window time.Duration, limit int) ([]domain.LogSample, error) {
	u := fmt.Sprintf("%s/api/v1/logs?service=%s&region=%s&window=%s&min_severity=ERROR&limit=%d",
		c.endpoint, url.QueryEscape(service), url.QueryEscape(region), window, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building log request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying log backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log backend returned status %d", resp.StatusCode)
	}

	var entries []domain.LogSample
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding log response: %w", err)
	}

	for i := range entries {
		entries[i].Message = domain.TruncateLogMessage(entries[i].Message)
	}
	return domain.CapLogSamples(entries), nil
}
