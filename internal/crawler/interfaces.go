package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL, applying rate limiting and retry internally.
// A returned error is always a *FetchError once retries are exhausted.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (RawPage, error)
}

// Renderer produces a DOM snapshot with JavaScript executed. Used as a
// second chance when static extraction finds nothing on a page that looks
// client-rendered.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (RawPage, error)
	Close(ctx context.Context) error
}

// Detector decides whether a fetched page needs JavaScript rendering.
type Detector interface {
	NeedsJS(ctx context.Context, page RawPage) bool
}

// Extractor turns a raw page into structured content.
type Extractor interface {
	Extract(page RawPage) (ExtractedPage, error)
}

// Categorizer assigns a topic label to an extracted page.
type Categorizer interface {
	Categorize(page ExtractedPage) string
}

// CheckpointStore is the durable blob location supplied by the caller.
// Read reports absence via the boolean, not an error.
type CheckpointStore interface {
	Write(ctx context.Context, blob []byte) error
	Read(ctx context.Context) ([]byte, bool, error)
}

// Sink receives the corpus as it is produced.
type Sink interface {
	RecordPage(ctx context.Context, page PageRecord) error
	RecordChunks(ctx context.Context, chunks []Chunk) error
}

// Publisher pushes per-page events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for content integrity and dedup downstream.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
