// Package fetcher issues network requests with retry and backoff. The
// actual page load is delegated to a Mechanism (colly, headless browser or
// the Common Crawl archive); the retry policy lives here and nowhere else.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/IliaW/catalog-crawl-worker/config"
	"github.com/IliaW/catalog-crawl-worker/internal/model"
)

type Fetcher interface {
	Fetch(ctx context.Context, task *model.Task) *model.FetchResult
}

// Mechanism performs a single page load with no retries. HTTP error
// statuses are reported through the status code with a nil error; a non-nil
// error means the transport failed.
type Mechanism interface {
	Name() string
	Load(ctx context.Context, url string) (body string, statusCode int, err error)
}

type Client struct {
	mechanism Mechanism
	cfg       *config.WorkerConfig
	log       *slog.Logger
	sleep     func(time.Duration) // replaced in tests
}

func New(mechanism Mechanism, cfg *config.WorkerConfig, log *slog.Logger) *Client {
	return &Client{
		mechanism: mechanism,
		cfg:       cfg,
		log:       log,
		sleep:     time.Sleep,
	}
}

// Fetch runs up to RetryAttempts page loads for the task. Timeouts, network
// errors, 429 and 5xx are retried with exponential backoff; other HTTP
// errors are terminal immediately. Exhaustion returns the last failed
// result, never an error.
func (c *Client) Fetch(ctx context.Context, task *model.Task) *model.FetchResult {
	result := &model.FetchResult{Task: task}
	maxAttempts := c.cfg.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	startTime := time.Now()
	defer func() {
		result.TimeToFetch = time.Since(startTime).Milliseconds()
	}()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		body, statusCode, err := c.mechanism.Load(ctx, task.URL)
		switch {
		case err != nil:
			result.Status = classify(err)
			result.StatusCode = 0
			c.log.Warn("fetch attempt failed.", slog.String("url", task.URL),
				slog.String("status", result.Status.String()),
				slog.Int("attempt", attempt), slog.String("err", err.Error()))
		case retryableStatus(statusCode):
			result.Status = model.FetchHTTPError
			result.StatusCode = statusCode
			c.log.Warn("retryable status code.", slog.String("url", task.URL),
				slog.Int("status_code", statusCode), slog.Int("attempt", attempt))
		case statusCode >= http.StatusBadRequest:
			result.Status = model.FetchHTTPError
			result.StatusCode = statusCode
			return result
		default:
			result.Status = model.FetchOK
			result.StatusCode = statusCode
			result.Body = body
			return result
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		c.sleep(backoffDelay(c.cfg.RetryDelay, attempt))
	}

	return result
}

func retryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// backoffDelay doubles the base delay per attempt and adds a jitter term so
// retries against one host do not align.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)

	return delay + time.Duration(rand.Int63n(int64(base)))
}

func classify(err error) model.FetchStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FetchTimeout
	}

	return model.FetchNetworkError
}
