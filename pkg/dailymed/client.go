// Package dailymed provides a client for the DailyMed v2 REST services and
// parsers for the SPL list and detail payloads it returns.
package dailymed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/apperrors"
	"github.com/ekaya-inc/medsearch/pkg/config"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/retry"
)

// DefaultBaseURL is the public DailyMed v2 services root.
const DefaultBaseURL = "https://dailymed.nlm.nih.gov/dailymed/services/v2/"

// DefaultTimeout bounds one request attempt when no timeout is configured.
const DefaultTimeout = 30 * time.Second

const publishedDateLayout = "2006-01-02"

// Fetcher retrieves raw payloads from the feed.
type Fetcher interface {
	// FetchSPLs returns one page of the SPL list. A non-nil publishedAfter
	// restricts the list to SPLs published strictly after that day.
	FetchSPLs(ctx context.Context, page int, publishedAfter *time.Time) ([]byte, error)

	// FetchSPL returns the XML detail document of one SPL. version is the
	// spl_version the list feed reported for it; the upstream always serves
	// the current document, so version only identifies which payload is
	// expected.
	FetchSPL(ctx context.Context, setID string, version int) ([]byte, error)
}

// StatusError is returned for a non-2xx response. It matches
// apperrors.ErrNotFound, and 429 and 5xx responses are retryable.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dailymed returned status %d for %s", e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error {
	return apperrors.ErrNotFound
}

func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var _ retry.RetryableError = (*StatusError)(nil)

// Client provides access to the DailyMed API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	format     string
	pageSize   int
	timeout    time.Duration
	retry      *retry.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a DailyMed client from cfg. m may be nil.
func NewClient(cfg config.DailyMedConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	format := cfg.Format
	if format == "" {
		format = "xml"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		format:     format,
		pageSize:   cfg.PageSize,
		timeout:    timeout,
		logger:     logger.Named("dailymed"),
		metrics:    m,
	}

	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.MaxRetries
	if cfg.RetryInitialDelay > 0 {
		rc.InitialDelay = cfg.RetryInitialDelay
	}
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("Retrying DailyMed request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	c.retry = rc

	return c
}

// Format returns the list payload format the client requests ("xml" or "json").
func (c *Client) Format() string {
	return c.format
}

func (c *Client) FetchSPLs(ctx context.Context, page int, publishedAfter *time.Time) ([]byte, error) {
	endpoint, err := buildURL(c.baseURL, "spls."+c.format)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	if c.pageSize > 0 {
		params.Set("pagesize", strconv.Itoa(c.pageSize))
	}
	if publishedAfter != nil {
		params.Set("published_date", publishedAfter.Format(publishedDateLayout))
		params.Set("published_date_comparison", "gt")
	}
	endpoint += "?" + params.Encode()

	c.logger.Info("Fetching SPL list page",
		zap.Int("page", page),
		zap.String("url", endpoint))

	return c.get(ctx, metrics.EndpointList, endpoint)
}

func (c *Client) FetchSPL(ctx context.Context, setID string, version int) ([]byte, error) {
	if setID == "" {
		return nil, fmt.Errorf("set id is required")
	}
	endpoint, err := buildURL(c.baseURL, "spls", setID+".xml")
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	c.logger.Debug("Fetching SPL detail",
		zap.String("set_id", setID),
		zap.Int("version", version),
		zap.String("url", endpoint))

	return c.get(ctx, metrics.EndpointDetail, endpoint)
}

func (c *Client) get(ctx context.Context, endpointName, endpoint string) ([]byte, error) {
	start := time.Now()
	body, err := retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, endpoint)
	})

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	c.metrics.UpstreamRequest(endpointName, outcome, time.Since(start))

	if err != nil {
		return nil, err
	}
	return body, nil
}

// doRequest performs one attempt under its own deadline.
func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if path.Ext(req.URL.Path) == ".json" {
		req.Header.Set("Accept", "application/json")
	} else {
		req.Header.Set("Accept", "application/xml")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call dailymed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("DailyMed returned error",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Int("body_bytes", len(body)))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: string(body)}
	}

	c.logger.Debug("Successful response from DailyMed",
		zap.String("url", endpoint),
		zap.Int("body_bytes", len(body)))

	return body, nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)

	return u.String(), nil
}
