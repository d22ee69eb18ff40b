package jma

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/nowcast-alert-service/internal/observability"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the root of the JMA nowcast tile feed.
const DefaultBaseURL = "https://www.jma.go.jp/bosai/jmatile/data/nowc"

const (
	userAgent   = "nowcast-alert-service/1.0"
	maxRetries  = 3
	maxBodySize = 8 << 20
)

// Request kinds, used to label feed metrics.
const (
	RequestCatalog = "catalog"
	RequestTile    = "tile"
)

// retryable lists the HTTP statuses that are retried with backoff.
var retryable = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Fetcher is the shared HTTP client for catalog and tile requests. Transient
// failures are retried with exponential backoff; all other statuses are
// returned to the caller as-is.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher with the given request timeout and rate limit
// (requests per second, <= 0 disables limiting).
func NewFetcher(timeout time.Duration, rps float64, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		newBackOff: defaultBackOff,
		metrics:    metrics,
		logger:     logger,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, maxRetries)
}

// Response is the final outcome of a request after retries.
type Response struct {
	Status int
	Body   []byte
}

// statusError reports a transient status that survived all retries.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

// Get performs a GET, retrying network errors and retryable statuses. A
// non-retryable status is not an error: it is returned in the response.
// kind is RequestCatalog or RequestTile.
func (f *Fetcher) Get(ctx context.Context, kind, url string) (Response, error) {
	var out Response
	attempt := 0

	op := func() error {
		if attempt > 0 {
			f.metrics.FeedRetries.Inc()
		}
		attempt++

		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		status, body, err := f.do(ctx, url)
		f.metrics.FeedRequests.WithLabelValues(kind, statusLabel(status)).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			f.logger.Debug("feed request failed", "kind", kind, "url", url, "attempt", attempt, "error", err)
			return err
		}
		out = Response{Status: status, Body: body}
		if retryable[status] {
			f.logger.Debug("feed request retryable status", "url", url, "attempt", attempt, "status", status)
			return &statusError{status: status}
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(f.newBackOff(), ctx))
	var se *statusError
	if errors.As(err, &se) {
		// Retries exhausted on a transient status; hand the status back.
		return out, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("get %s: %w", url, err)
	}
	return out, nil
}

func (f *Fetcher) do(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
