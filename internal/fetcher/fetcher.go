// Package fetcher implements rate-limited HTTP retrieval with retry and
// backoff on top of the Colly collector.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/metrics"
	"github.com/docfoundry/docscraper/internal/ratelimit"
)

// Config controls the fetcher.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	RespectRobots  bool
	Concurrency    int
}

// Fetcher retrieves pages through a shared Colly collector, serialized by
// the process-wide rate limiter. Network I/O only; it never touches shared
// crawl state.
type Fetcher struct {
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	policy        crawler.RetryPolicy
	logger        *zap.Logger
}

// New constructs a configured Fetcher.
func New(cfg Config, limiter *ratelimit.Limiter, policy crawler.RetryPolicy, logger *zap.Logger) (*Fetcher, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy(cfg.MaxRetries)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	}
	if !cfg.RespectRobots {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{
		baseCollector: base,
		limiter:       limiter,
		policy:        policy,
		logger:        logger,
	}, nil
}

// Fetch retrieves rawURL, retrying transient failures with backoff. The
// rate limiter gates every attempt, including retries. On exhaustion the
// returned error is a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.RawPage, error) {
	var lastErr *crawler.FetchError
	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return crawler.RawPage{}, &crawler.FetchError{
				Kind: crawler.FetchConnectionFailed,
				URL:  rawURL,
				Err:  err,
			}
		}

		start := time.Now()
		res := f.fetchOnce(rawURL)
		if res.err == nil && res.page.StatusCode < 400 {
			page := res.page
			page.Duration = time.Since(start)
			return page, nil
		}

		fetchErr, retryAfter := f.classify(rawURL, res)
		lastErr = fetchErr

		attemptErr := error(fetchErr)
		if retryable(fetchErr) {
			attemptErr = crawler.Retryable(fetchErr)
		}
		if ctx.Err() != nil || !f.policy.ShouldRetry(attemptErr, attempt) {
			return crawler.RawPage{}, lastErr
		}

		delay := f.policy.Backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(fetchErr.Kind)),
			zap.Duration("backoff", delay),
		)
		metrics.ObserveRetry()
		if err := sleep(ctx, delay); err != nil {
			return crawler.RawPage{}, lastErr
		}
	}
}

type fetchResult struct {
	page crawler.RawPage
	err  error
}

// fetchOnce performs a single HTTP attempt via a collector clone: one
// result per Visit/Wait cycle.
func (f *Fetcher) fetchOnce(rawURL string) fetchResult {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: pageFromResponse(rawURL, r)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		res := fetchResult{err: err}
		if r != nil {
			res.page = pageFromResponse(rawURL, r)
		}
		send(res)
	})

	if err := collector.Visit(rawURL); err != nil {
		return fetchResult{err: err}
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		return res
	default:
		return fetchResult{err: errors.New("fetch produced no result")}
	}
}

func pageFromResponse(rawURL string, r *colly.Response) crawler.RawPage {
	headers := http.Header{}
	if r.Headers != nil {
		for k, v := range *r.Headers {
			cp := make([]string, len(v))
			copy(cp, v)
			headers[k] = cp
		}
	}
	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return crawler.RawPage{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte{}, r.Body...),
	}
}

// classify buckets an attempt failure into the fetch error taxonomy,
// returning a Retry-After hint for 429 responses when the server sent one.
func (f *Fetcher) classify(rawURL string, res fetchResult) (*crawler.FetchError, time.Duration) {
	status := res.page.StatusCode

	switch {
	case status == http.StatusTooManyRequests:
		return &crawler.FetchError{
			Kind:   crawler.FetchHTTPError,
			URL:    rawURL,
			Status: status,
			Err:    res.err,
		}, parseRetryAfter(res.page.Headers.Get("Retry-After"))
	case status >= 400:
		return &crawler.FetchError{
			Kind:   crawler.FetchHTTPError,
			URL:    rawURL,
			Status: status,
			Err:    res.err,
		}, 0
	}

	err := res.err
	var netErr net.Error
	switch {
	case err == nil:
		err = fmt.Errorf("status %d with no error detail", status)
		return &crawler.FetchError{Kind: crawler.FetchConnectionFailed, URL: rawURL, Err: err}, 0
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		return &crawler.FetchError{Kind: crawler.FetchTimeout, URL: rawURL, Err: err}, 0
	case strings.Contains(err.Error(), "stopped after"):
		return &crawler.FetchError{Kind: crawler.FetchTooManyRedirects, URL: rawURL, Err: err}, 0
	case strings.Contains(err.Error(), "unsupported protocol scheme"),
		strings.Contains(err.Error(), "missing URL"),
		strings.Contains(err.Error(), "invalid URL"):
		return &crawler.FetchError{Kind: crawler.FetchBadURL, URL: rawURL, Err: err}, 0
	default:
		return &crawler.FetchError{Kind: crawler.FetchConnectionFailed, URL: rawURL, Err: err}, 0
	}
}

// retryable classifies failures: timeouts, connection failures, 5xx, and
// 429 are transient; other 4xx and malformed URLs are permanent.
func retryable(fe *crawler.FetchError) bool {
	switch fe.Kind {
	case crawler.FetchTimeout, crawler.FetchConnectionFailed:
		return true
	case crawler.FetchHTTPError:
		return fe.Status >= 500 || fe.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
