package sink

import (
	"context"
	"sync"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// MemorySink collects records in memory. Used in tests and dry runs.
type MemorySink struct {
	mu     sync.Mutex
	pages  []crawler.PageRecord
	chunks []crawler.Chunk
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordPage(_ context.Context, page crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
	return nil
}

func (s *MemorySink) RecordChunks(_ context.Context, chunks []crawler.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Pages returns a copy of the recorded pages.
func (s *MemorySink) Pages() []crawler.PageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.PageRecord, len(s.pages))
	copy(out, s.pages)
	return out
}

// Chunks returns a copy of the recorded chunks.
func (s *MemorySink) Chunks() []crawler.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}
