package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/ratelimit"
)

// fastPolicy retries transient errors with a negligible backoff so tests
// stay quick.
type fastPolicy struct {
	max int
}

func (p fastPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.max && crawler.IsRetryable(err)
}

func (p fastPolicy) Backoff(int) time.Duration {
	return time.Millisecond
}

func newTestFetcher(t *testing.T, maxRetries int) *Fetcher {
	t.Helper()
	f, err := New(Config{
		UserAgent:      "docscraper-test/0.1",
		RequestTimeout: 2 * time.Second,
		MaxRetries:     maxRetries,
	}, ratelimit.New(0), fastPolicy{max: maxRetries}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "docscraper-test/0.1", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Equal(t, srv.URL, page.URL)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, []byte("<html><body>ok</body></html>"), page.Body)
	require.Equal(t, "text/html", page.Headers.Get("Content-Type"))
	require.Greater(t, page.Duration, time.Duration(0))
	require.False(t, page.UsedJS)
}

func TestFetch404IsPermanent(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 3)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchHTTPError, fe.Kind)
	require.Equal(t, http.StatusNotFound, fe.Status)
	require.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}

func TestFetchRetriesTransient5xx(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 3)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("recovered"), page.Body)
	require.Equal(t, int32(3), attempts.Load())
}

func TestFetchRetriesExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchHTTPError, fe.Kind)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.Equal(t, int32(3), attempts.Load(), "initial attempt plus two retries")
}

func TestFetch429Retried(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), page.Body)
	require.Equal(t, int32(2), attempts.Load())
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	// Bind then close to get a port with nothing listening.
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	f := newTestFetcher(t, 1)
	_, err := f.Fetch(context.Background(), dead)
	require.Error(t, err)

	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, crawler.FetchConnectionFailed, fe.Kind)
}

func TestFetchCancelledContext(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(t, 5)
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
	require.LessOrEqual(t, attempts.Load(), int32(1), "no retries after cancellation")
}

func TestRetryableTaxonomy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fe   *crawler.FetchError
		want bool
	}{
		{"timeout", &crawler.FetchError{Kind: crawler.FetchTimeout}, true},
		{"connection failed", &crawler.FetchError{Kind: crawler.FetchConnectionFailed}, true},
		{"http 500", &crawler.FetchError{Kind: crawler.FetchHTTPError, Status: 500}, true},
		{"http 503", &crawler.FetchError{Kind: crawler.FetchHTTPError, Status: 503}, true},
		{"http 429", &crawler.FetchError{Kind: crawler.FetchHTTPError, Status: 429}, true},
		{"http 404", &crawler.FetchError{Kind: crawler.FetchHTTPError, Status: 404}, false},
		{"http 401", &crawler.FetchError{Kind: crawler.FetchHTTPError, Status: 401}, false},
		{"bad url", &crawler.FetchError{Kind: crawler.FetchBadURL}, false},
		{"redirect loop", &crawler.FetchError{Kind: crawler.FetchTooManyRedirects}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, retryable(tc.fe))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	require.Equal(t, 7*time.Second, parseRetryAfter("7"))
	require.Equal(t, time.Duration(0), parseRetryAfter("0"))
	require.Equal(t, time.Duration(0), parseRetryAfter(""))
	require.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
	require.Equal(t, time.Duration(0), parseRetryAfter("-3"))

	future := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	require.Greater(t, got, 25*time.Second)
	require.LessOrEqual(t, got, 30*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	require.Equal(t, time.Duration(0), parseRetryAfter(past))
}

func TestClassifyRedirectLoop(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, 1)
	fe, retryAfter := f.classify("https://example.com", fetchResult{
		err: errors.New("Get \"/loop\": stopped after 10 redirects"),
	})
	require.Equal(t, crawler.FetchTooManyRedirects, fe.Kind)
	require.Zero(t, retryAfter)
}
