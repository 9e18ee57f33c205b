package statsapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds configuration for the stats API client
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64

	// Breaker opens after this many consecutive failures.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig(baseURL, apiKey string) *Config {
	return &Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5, // documented API ceiling
		BreakerFailures:   10,
		BreakerTimeout:    30 * time.Second,
	}
}

// Client provides access to the game statistics API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logger.Logger
}

// NewClient creates a new stats API client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig("", "")
	}

	log := logger.New("stats-api")

	failures := config.BreakerFailures
	if failures == 0 {
		failures = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stats-api",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A confirmed absence is a valid answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("action", "breaker_state_change").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Stats API circuit breaker changed state")
		},
	})

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		breaker:    breaker,
		logger:     log,
	}
}

// GetMaxMatchID returns the highest match id the API knows about
func (c *Client) GetMaxMatchID(ctx context.Context) (int64, error) {
	var result models.MaxMatchIDResponse
	found, err := c.get(ctx, "/getmaxmatchid", nil, &result)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("empty max match id response")
	}
	return int64(result.MaxMatchID.API), nil
}

// GetMatchStatistic fetches the statistics of one match. A nil payload with
// a nil error means the API answered with an empty document. A document
// without stats is returned as is and skipped by the importer.
func (c *Client) GetMatchStatistic(ctx context.Context, id models.MatchID) (*models.MatchPayload, error) {
	params := map[string]string{"id": strconv.FormatInt(int64(id), 10)}

	var payload models.MatchPayload
	found, err := c.get(ctx, "/getmatchstatistic", params, &payload)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if payload.MatchID == 0 {
		payload.MatchID = models.FlexInt(id)
	}
	return &payload, nil
}

// GetNewMatches returns match id to finish timestamp for matches finished
// strictly after timestamp. An empty map means nothing new is available.
func (c *Client) GetNewMatches(ctx context.Context, timestamp int64, limit, offset int) (map[models.MatchID]int64, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(timestamp, 10),
		"limit":     strconv.Itoa(limit),
		"offset":    strconv.Itoa(offset),
	}

	var result models.NewMatchesResponse
	found, err := c.get(ctx, "/getnewmatchesfromtimestamp", params, &result)
	if err != nil {
		return nil, err
	}

	matches := make(map[models.MatchID]int64, len(result.Matches))
	if !found {
		return matches, nil
	}
	for key, ts := range result.Matches {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			c.logger.Warn().
				Str("action", "invalid_match_id").
				Str("match_id", key).
				Msg("Skipping invalid match id in new matches response")
			continue
		}
		matches[models.MatchID(id)] = int64(ts)
	}
	return matches, nil
}

// get performs a rate limited, breaker guarded GET and decodes the body
// into target. It reports false when the body is empty or null.
func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, target interface{}) (bool, error) {
	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, endpoint, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, fmt.Errorf("stats API unavailable: %w", err)
		}
		return false, err
	}

	data := bytes.TrimSpace(body.([]byte))
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false, nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return true, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	query := u.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.LogAPICall(http.MethodGet, endpoint, 0, time.Since(start), err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		c.logger.LogAPICall(http.MethodGet, endpoint, resp.StatusCode, time.Since(start), nil)
		return nil, ErrNoData
	case resp.StatusCode == http.StatusTooManyRequests:
		err := &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Message:    "request rate exceeded",
		}
		c.logger.LogAPICall(http.MethodGet, endpoint, resp.StatusCode, time.Since(start), err)
		return nil, err
	case resp.StatusCode != http.StatusOK:
		err := &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API returned status %d", resp.StatusCode),
		}
		c.logger.LogAPICall(http.MethodGet, endpoint, resp.StatusCode, time.Since(start), err)
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.LogAPICall(http.MethodGet, endpoint, resp.StatusCode, time.Since(start), nil)
	return data, nil
}
