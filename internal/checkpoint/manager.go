// Package checkpoint persists crawl state so an interrupted run can resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// Manager writes periodic snapshots of crawl state to a durable store.
// Write failures are logged and swallowed: losing one checkpoint cycle is
// preferable to aborting the crawl. Safe for concurrent use: the pool and
// async drivers call MaybeCheckpoint from every worker.
type Manager struct {
	store    crawler.CheckpointStore
	interval int
	clock    crawler.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	lastSaved int
}

// NewManager builds a Manager. interval is the number of pages between
// snapshots; interval <= 0 disables periodic checkpointing (Final still
// works).
func NewManager(store crawler.CheckpointStore, interval int, clock crawler.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// MaybeCheckpoint persists the snapshot once PageCount crosses a multiple
// of the configured interval. Called after every successful extraction.
func (m *Manager) MaybeCheckpoint(ctx context.Context, snap crawler.Snapshot) {
	if m == nil || m.store == nil || m.interval <= 0 {
		return
	}
	// The gate check and the write stay under one lock so concurrent
	// workers crossing the same interval produce exactly one snapshot.
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.PageCount < m.lastSaved+m.interval {
		return
	}
	if err := m.write(ctx, snap); err != nil {
		m.logger.Warn("checkpoint write failed; continuing without durability for this cycle",
			zap.Int("page_count", snap.PageCount),
			zap.Error(err),
		)
		return
	}
	m.lastSaved = snap.PageCount
	m.logger.Debug("checkpoint saved",
		zap.Int("page_count", snap.PageCount),
		zap.Int("frontier", len(snap.Frontier)),
	)
}

// Final performs a best-effort snapshot at shutdown or interrupt.
func (m *Manager) Final(ctx context.Context, snap crawler.Snapshot) {
	if m == nil || m.store == nil {
		return
	}
	if err := m.write(ctx, snap); err != nil {
		m.logger.Warn("final checkpoint failed", zap.Error(err))
		return
	}
	m.logger.Info("final checkpoint saved", zap.Int("page_count", snap.PageCount))
}

// Restore loads the most recent snapshot. ok is false when the store holds
// no checkpoint.
func (m *Manager) Restore(ctx context.Context) (crawler.Snapshot, bool, error) {
	if m == nil || m.store == nil {
		return crawler.Snapshot{}, false, nil
	}
	blob, present, err := m.store.Read(ctx)
	if err != nil {
		return crawler.Snapshot{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if !present {
		return crawler.Snapshot{}, false, nil
	}
	var snap crawler.Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return crawler.Snapshot{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if snap.Version != crawler.SnapshotVersion {
		return crawler.Snapshot{}, false, fmt.Errorf("unsupported checkpoint version %d", snap.Version)
	}
	m.mu.Lock()
	m.lastSaved = snap.PageCount
	m.mu.Unlock()
	return snap, true, nil
}

func (m *Manager) write(ctx context.Context, snap crawler.Snapshot) error {
	snap.Version = crawler.SnapshotVersion
	if m.clock != nil {
		snap.SavedAt = m.clock.Now()
	}
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := m.store.Write(ctx, blob); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
