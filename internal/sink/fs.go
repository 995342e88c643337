// Package sink persists crawl output: one JSON document per page, with
// chunk files alongside for documents that were split.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// FileSystemSink writes page records and chunks to disk.
type FileSystemSink struct {
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewFileSystemSink returns a sink rooted at dir. Pages and chunks land
// under pages/ and chunks/ respectively.
func NewFileSystemSink(root string, maxBytes int64, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(filepath.Join(root, "pages"), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(root, "chunks"), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemSink{
		root:     root,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// RecordPage writes one metadata json per page.
func (s *FileSystemSink) RecordPage(ctx context.Context, page crawler.PageRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if s.maxBytes > 0 && int64(len(page.Content)) > s.maxBytes {
		return fmt.Errorf("page size %d exceeds max %d", len(page.Content), s.maxBytes)
	}
	payload, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal page %s: %w", page.URL, err)
	}
	target := filepath.Join(s.root, "pages", safeBasename(page.URL)+".json")
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write page %s: %w", target, err)
	}
	s.logger.Debug("page recorded", zap.String("url", page.URL), zap.String("path", target))
	return nil
}

// RecordChunks writes the chunk set of one source document as a single
// json array. All chunks in a call share SourceURL.
func (s *FileSystemSink) RecordChunks(ctx context.Context, chunks []crawler.Chunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	payload, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunks for %s: %w", chunks[0].SourceURL, err)
	}
	target := filepath.Join(s.root, "chunks", safeBasename(chunks[0].SourceURL)+".json")
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write chunks %s: %w", target, err)
	}
	return nil
}
