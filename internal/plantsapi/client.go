package plantsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"plant-monitor/internal/config"
	"plant-monitor/pkg/logging"
	"plant-monitor/pkg/metrics"
)

// ErrPlantNotFound signals that the API returned an error object for the
// requested id. The record is treated as absent: skipped, never retried.
var ErrPlantNotFound = errors.New("plant not found")

// Client fetches raw plant records from the plants API. One GET per id.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClient creates a plants API client. A non-positive requests_per_second
// disables throttling.
func NewClient(cfg config.APIConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		limiter: limiter,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// FetchPlant retrieves the raw record for one plant id as an untyped map.
// An error-object payload returns ErrPlantNotFound; any network, status, or
// decode failure returns an error that the caller isolates to this one id.
func (c *Client) FetchPlant(ctx context.Context, id int) (map[string]interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter interrupted: %w", err)
		}
	}

	url := fmt.Sprintf("%s/plants/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for plant %d: %w", id, err)
	}

	timer := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordFetch("error")
		return nil, fmt.Errorf("failed to fetch plant %d: %w", id, err)
	}
	defer resp.Body.Close()

	c.metrics.FetchDuration.Observe(time.Since(timer).Seconds())

	var record map[string]interface{}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&record); decodeErr != nil {
		c.metrics.RecordFetch("error")
		return nil, fmt.Errorf("failed to decode plant %d response: %w", id, decodeErr)
	}

	// The API signals "no such plant" with an error key in the body,
	// regardless of status code.
	if _, absent := record["error"]; absent {
		c.metrics.RecordFetch("missing")
		c.logger.Debug(ctx, "[FETCH_MISSING] Plant id has no record", logging.Fields{
			"plant_id": id,
		})
		return nil, ErrPlantNotFound
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordFetch("error")
		return nil, fmt.Errorf("unexpected status %d fetching plant %d", resp.StatusCode, id)
	}

	c.metrics.RecordFetch("ok")

	return record, nil
}
