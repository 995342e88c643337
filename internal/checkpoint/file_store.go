package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the checkpoint blob as a single file, written via a
// temp file and rename so readers never observe a partial snapshot.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore rooted at path, creating parent
// directories as needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Write replaces the stored checkpoint atomically.
func (s *FileStore) Write(ctx context.Context, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace checkpoint file: %w", err)
	}
	return nil
}

// Read returns the stored blob, or present=false when no checkpoint exists.
func (s *FileStore) Read(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context canceled: %w", err)
	}
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read checkpoint file: %w", err)
	}
	return blob, true, nil
}
