package engine

import (
	"context"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/metrics"
)

// sequentialDriver processes the frontier one URL at a time on the calling
// goroutine. Deterministic ordering makes it the reference for the other
// two drivers.
type sequentialDriver struct{}

func (d *sequentialDriver) Crawl(ctx context.Context, e *Engine) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.capReached() {
			return crawler.ErrPageCapReached
		}
		pageURL, ok := e.deps.Tracker.Dequeue()
		if !ok {
			return nil
		}
		e.processURL(ctx, pageURL)
		metrics.SetFrontierDepth(e.deps.Tracker.Len())
	}
}
