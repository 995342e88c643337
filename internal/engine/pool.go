package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/metrics"
)

// poolDriver runs a fixed set of workers that pull from the shared
// frontier. A starved worker cannot exit until the frontier is drained AND
// no peer is mid-page, since an in-flight page may discover new links.
type poolDriver struct {
	workers int
}

func (d *poolDriver) Crawl(ctx context.Context, e *Engine) error {
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			return d.runWorker(ctx, e)
		})
	}
	return g.Wait()
}

func (d *poolDriver) runWorker(ctx context.Context, e *Engine) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.capReached() {
			return crawler.ErrPageCapReached
		}
		pageURL, ok := e.deps.Tracker.Dequeue()
		if !ok {
			if e.deps.Tracker.Idle() {
				return nil
			}
			// Peers are still processing; their pages may feed the
			// frontier, so poll rather than exit.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollInterval):
			}
			continue
		}
		e.processURL(ctx, pageURL)
		metrics.SetFrontierDepth(e.deps.Tracker.Len())
	}
}
