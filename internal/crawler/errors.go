package crawler

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies terminal fetch failures after retries are spent.
type FetchErrorKind string

// Fetch failure classes recorded in the crawl report.
const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchConnectionFailed FetchErrorKind = "connection_failed"
	FetchHTTPError        FetchErrorKind = "http_error"
	FetchTooManyRedirects FetchErrorKind = "too_many_redirects"
	FetchBadURL           FetchErrorKind = "bad_url"
)

// FetchError is the terminal error returned by a Fetcher once retries are
// exhausted. It is non-fatal to the crawl: the engine records the URL as
// visited-with-failure and continues.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPError {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrNoContentMatch indicates the configured content selector matched no
// element. The page is dropped from the corpus but its links are kept.
var ErrNoContentMatch = errors.New("content selector matched nothing")

// ExtractError wraps extraction failures with the page URL.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// ErrPageCapReached signals a driver stopped dispatching because the
// configured page cap was hit. It marks normal completion, not failure.
var ErrPageCapReached = errors.New("page cap reached")
