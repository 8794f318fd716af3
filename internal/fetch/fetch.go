// Package fetch implements the HTTP transport of the pipeline: manifest text
// retrieval and the ordered concurrent segment fetcher.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Minute

	// DefaultConcurrency caps simultaneous segment requests.
	DefaultConcurrency = 16

	// DefaultRetries is the number of extra attempts per segment.
	DefaultRetries = 2

	// DefaultRetryDelay is the pause between segment attempts.
	DefaultRetryDelay = 200 * time.Millisecond
)

// Config holds the transport settings.
type Config struct {
	// Timeout is the per-request timeout
	Timeout time.Duration
	// UserAgent is sent with every request when not empty
	UserAgent string
	// Concurrency caps in-flight segment requests; 0 means one goroutine per segment
	Concurrency int
	// Retries is the number of extra attempts after a failed segment request
	Retries int
	// RetryDelay is the pause between attempts
	RetryDelay time.Duration
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		Retries:     DefaultRetries,
		RetryDelay:  DefaultRetryDelay,
	}
}

// Observer receives segment progress notifications. Implementations must be
// safe for concurrent use.
type Observer interface {
	// Queued is called once per FetchAll call with the number of segments
	Queued(n int)
	// Fetched is called when one segment settles, successfully or not
	Fetched(bytes int)
}

// Report summarizes one FetchAll call.
type Report struct {
	Total  int
	Failed int
	Bytes  int64
}

// Fetcher performs HTTP requests on behalf of the resolvers.
type Fetcher struct {
	client   *http.Client
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// New creates a Fetcher with its own HTTP client.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return NewWithClient(&http.Client{Timeout: cfg.Timeout}, cfg, logger)
}

// NewWithClient creates a Fetcher around an existing HTTP client.
func NewWithClient(client *http.Client, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// SetObserver installs a progress observer. It must be called before the
// Fetcher is used concurrently.
func (f *Fetcher) SetObserver(o Observer) {
	f.observer = o
}

// Client returns the underlying HTTP client.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Text fetches a manifest as text.
func (f *Fetcher) Text(ctx context.Context, url string) (string, error) {
	f.logger.Debug("fetching manifest", "url", url)
	data, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Bytes fetches one URL, retrying according to the configuration.
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	attempts := f.cfg.Retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := f.get(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if attempt == attempts || ctx.Err() != nil {
			break
		}
		f.logger.Debug("retrying segment", "url", url, "attempt", attempt, "error", err)

		select {
		case <-time.After(f.cfg.RetryDelay):
		case <-ctx.Done():
			return nil, hlserr.Wrap(hlserr.ErrFetch, url, ctx.Err())
		}
	}

	return nil, lastErr
}

// FetchAll fetches every URL concurrently and returns the bodies in input
// order. Output length always equals input length. A URL that cannot be
// fetched leaves an empty slot; the call itself never fails and returns only
// after every request has settled.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([][]byte, Report) {
	results := make([][]byte, len(urls))
	report := Report{Total: len(urls)}
	if len(urls) == 0 {
		return results, report
	}

	if f.observer != nil {
		f.observer.Queued(len(urls))
	}

	var (
		g      errgroup.Group
		failed atomic.Int64
		total  atomic.Int64
	)
	if f.cfg.Concurrency > 0 {
		g.SetLimit(f.cfg.Concurrency)
	}

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			data, err := f.Bytes(ctx, url)
			if err != nil {
				f.logger.Warn("segment failed, leaving empty slot", "index", i, "url", url, "error", err)
				failed.Add(1)
			} else {
				results[i] = data
				total.Add(int64(len(data)))
			}
			if f.observer != nil {
				f.observer.Fetched(len(data))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Failed = int(failed.Load())
	report.Bytes = total.Load()

	f.logger.Debug("fetched segments",
		"total", report.Total,
		"failed", report.Failed,
		"size", humanize.Bytes(uint64(report.Bytes)),
	)
	return results, report
}

// get performs a single GET and reads the full body.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, hlserr.Wrap(hlserr.ErrFetch, "create request", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, hlserr.Wrap(hlserr.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, hlserr.Wrap(hlserr.ErrFetch, fmt.Sprintf("%s: HTTP %d", url, resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hlserr.Wrap(hlserr.ErrFetch, "read body", err)
	}
	return data, nil
}
