// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// RawPage is the result of a successful HTTP fetch, before extraction.
type RawPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	UsedJS     bool
}

// ContentLength returns the size of the fetched body in bytes.
func (p RawPage) ContentLength() int {
	return len(p.Body)
}

// CodeBlock is one fenced or <pre>/<code> block extracted from a page.
// Language is a best-effort heuristic tag; empty means undetected.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// ExtractedPage holds the structured content pulled out of a RawPage.
type ExtractedPage struct {
	URL           string
	Title         string
	Content       string
	CodeBlocks    []CodeBlock
	OutboundLinks []string
}

// PageRecord is the normalized corpus entry persisted for each page that
// survived fetch and extraction. URL is the canonical form and the unique key.
type PageRecord struct {
	RunID       string      `json:"run_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	CodeBlocks  []CodeBlock `json:"code_blocks,omitempty"`
	Category    string      `json:"category"`
	Links       []string    `json:"outbound_links,omitempty"`
	ContentHash string      `json:"content_hash"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// Chunk is a bounded-size slice of an oversized document, carrying enough
// metadata to stand alone without the parent PageRecord.
type Chunk struct {
	Text         string `json:"text"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	IsChunked    bool   `json:"is_chunked"`
	HasCodeBlock bool   `json:"has_code_block"`
	SourceURL    string `json:"source_url"`
	SourceTitle  string `json:"source_title"`
	Category     string `json:"category"`
}

// Snapshot is the durable image of crawl state written by the checkpoint
// manager. Visited and Frontier are disjoint by construction.
type Snapshot struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	Visited   []string  `json:"visited"`
	Frontier  []string  `json:"frontier"`
	PageCount int       `json:"page_count"`
	SavedAt   time.Time `json:"saved_at"`
}

// SnapshotVersion is bumped when the checkpoint wire format changes.
const SnapshotVersion = 1

// Report summarizes a finished crawl. Every run produces one, including
// aborted runs, so failure categories are never silently dropped.
type Report struct {
	RunID             string        `json:"run_id"`
	Succeeded         int           `json:"succeeded"`
	ExtractionSkipped int           `json:"extraction_skipped"`
	FetchFailed       int           `json:"fetch_failed"`
	ChunksProduced    int           `json:"chunks_produced"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Total returns the number of URLs whose fetch was attempted.
func (r Report) Total() int {
	return r.Succeeded + r.ExtractionSkipped + r.FetchFailed
}
