package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/metrics"
)

// asyncDriver spawns one goroutine per dequeued URL, gated by a weighted
// semaphore so no more than the configured limit are in flight at once.
// Unlike the pool, goroutines are ephemeral: the dispatcher is the only
// long-lived loop.
type asyncDriver struct {
	limit int64
}

func (d *asyncDriver) Crawl(ctx context.Context, e *Engine) error {
	sem := semaphore.NewWeighted(d.limit)
	var wg sync.WaitGroup
	var exitErr error

dispatch:
	for {
		if err := ctx.Err(); err != nil {
			exitErr = err
			break
		}
		if e.capReached() {
			exitErr = crawler.ErrPageCapReached
			break
		}
		pageURL, ok := e.deps.Tracker.Dequeue()
		if !ok {
			if e.deps.Tracker.Idle() {
				break
			}
			// In-flight pages may still feed the frontier.
			select {
			case <-ctx.Done():
				exitErr = ctx.Err()
				break dispatch
			case <-time.After(idlePollInterval):
			}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot. The dequeued URL stays
			// in the in-flight set and folds back into the next snapshot.
			exitErr = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			e.processURL(ctx, pageURL)
			metrics.SetFrontierDepth(e.deps.Tracker.Len())
		}()
	}

	// In-flight pages run to completion even on cancellation.
	wg.Wait()
	return exitErr
}
