package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MetricsClient queries a Prometheus-compatible backend over the
// /api/v1/query HTTP API. Both Prometheus and VictoriaMetrics speak it.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// QueryResult represents an instant query response.
type QueryResult struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
}

// QueryData holds the query result data.
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []MetricResult `json:"result"`
}

// MetricResult represents a single series in the result.
type MetricResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value"`
}

// NewMetricsClient creates a new metrics client.
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Query executes a PromQL instant query.
func (c *MetricsClient) Query(ctx context.Context, query string) (QueryResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return QueryResult{}, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return result, nil
}

// QueryHTTPRate queries the HTTP request rate in requests per minute.
func (c *MetricsClient) QueryHTTPRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(rate(specfactory_http_requests_total[1m])) * 60")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryHTTPLatencyP95 queries the HTTP p95 latency in seconds.
func (c *MetricsClient) QueryHTTPLatencyP95(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "histogram_quantile(0.95, sum(rate(specfactory_http_request_duration_seconds_bucket[1m])) by (le))")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryActiveSessions queries the number of live sessions.
func (c *MetricsClient) QueryActiveSessions(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(specfactory_session_active)")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryTurnRate queries completed conversation turns per minute.
func (c *MetricsClient) QueryTurnRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(rate(specfactory_session_turns_total[1m])) * 60")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryTurnLatencyP95 queries the p95 turn duration in seconds. A turn
// spans every agent call it triggers, so this runs far above HTTP latency.
func (c *MetricsClient) QueryTurnLatencyP95(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "histogram_quantile(0.95, sum(rate(specfactory_session_turn_duration_seconds_bucket[1m])) by (le))")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryAgentRate queries agent invocations per minute across all roles.
func (c *MetricsClient) QueryAgentRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(rate(specfactory_agents_invocations_total[1m])) * 60")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryAgentLatencyP95 queries the p95 agent call duration in seconds.
func (c *MetricsClient) QueryAgentLatencyP95(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "histogram_quantile(0.95, sum(rate(specfactory_agents_invoke_duration_seconds_bucket[1m])) by (le))")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryAppendRate queries document versions appended per minute.
func (c *MetricsClient) QueryAppendRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(rate(specfactory_document_appends_total[5m])) * 60")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryReviewRate queries reviews completed per minute.
func (c *MetricsClient) QueryReviewRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "sum(rate(specfactory_review_reviews_total[5m])) * 60")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryApprovalRate queries session approvals per minute.
func (c *MetricsClient) QueryApprovalRate(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, `sum(rate(specfactory_events_published_total{event="approved"}[5m])) * 60`)
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryGoroutines queries the daemon goroutine count. The series comes
// from the Go collector behind the daemon's /metrics scrape endpoint.
func (c *MetricsClient) QueryGoroutines(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "go_goroutines")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryMemoryBytes queries the daemon resident memory in bytes.
func (c *MetricsClient) QueryMemoryBytes(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "process_resident_memory_bytes")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// QueryUptimeSeconds queries seconds since the daemon process started.
func (c *MetricsClient) QueryUptimeSeconds(ctx context.Context) (float64, error) {
	result, err := c.Query(ctx, "time() - process_start_time_seconds")
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// extractFloatValue extracts a float value from a query result. Queries
// aggregate with sum() so at most one series comes back.
func extractFloatValue(result QueryResult) (float64, error) {
	if len(result.Data.Result) == 0 {
		return 0, nil
	}

	valueStr, ok := result.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("value is not a string")
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}

	return value, nil
}
