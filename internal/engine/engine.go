// Package engine drives the breadth-first crawl loop through one of three
// interchangeable concurrency strategies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/checkpoint"
	"github.com/docfoundry/docscraper/internal/chunker"
	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/frontier"
	"github.com/docfoundry/docscraper/internal/metrics"
)

// idlePollInterval is how often a starved worker re-checks the frontier
// before concluding the crawl is globally done.
const idlePollInterval = 25 * time.Millisecond

// Driver runs the crawl loop to completion under one concurrency model.
// All three implementations share the engine's pipeline and observable
// contract; only scheduling differs.
type Driver interface {
	Crawl(ctx context.Context, e *Engine) error
}

// Deps bundles the collaborators an Engine needs.
type Deps struct {
	Tracker     *frontier.Tracker
	Fetcher     crawler.Fetcher
	Renderer    crawler.Renderer
	Detector    crawler.Detector
	Extractor   crawler.Extractor
	Categorizer crawler.Categorizer
	Chunker     *chunker.Chunker
	Checkpoints *checkpoint.Manager
	Sink        crawler.Sink
	Publisher   crawler.Publisher
	Hasher      crawler.Hasher
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
	Logger      *zap.Logger
}

// Engine owns the crawl state machine: Idle -> Running -> {Completed,
// Aborted}. Individual page failures never escape it; only resource-level
// failures abort a run.
type Engine struct {
	cfg    crawler.Config
	deps   Deps
	driver Driver
	runID  string
	topic  string

	mu        sync.Mutex
	report    crawler.Report
	pageCount int
}

// New validates the configuration, picks the driver for the configured
// strategy, and returns an Engine in the Idle state. Contradictory
// configuration (unknown strategy, pool with zero workers) is fatal here.
func New(cfg crawler.Config, deps Deps) (*Engine, error) {
	if deps.Tracker == nil || deps.Fetcher == nil || deps.Extractor == nil ||
		deps.Categorizer == nil || deps.Sink == nil {
		return nil, errors.New("engine requires tracker, fetcher, extractor, categorizer, and sink")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New(chunker.Config{
			MaxTokens:            cfg.Chunking.MaxTokens,
			OverlapRatio:         cfg.Chunking.OverlapRatio,
			PreserveCode:         cfg.Chunking.PreserveCode,
			SparseBoundaryFactor: cfg.Chunking.SparseBoundaryFactor,
		})
	}

	var driver Driver
	switch cfg.Strategy {
	case crawler.StrategySequential:
		driver = &sequentialDriver{}
	case crawler.StrategyPool:
		if cfg.Concurrency <= 0 {
			return nil, fmt.Errorf("pool strategy requires at least one worker, got %d", cfg.Concurrency)
		}
		driver = &poolDriver{workers: cfg.Concurrency}
	case crawler.StrategyAsync:
		if cfg.Concurrency <= 0 {
			return nil, fmt.Errorf("async strategy requires a positive in-flight limit, got %d", cfg.Concurrency)
		}
		driver = &asyncDriver{limit: int64(cfg.Concurrency)}
	default:
		return nil, fmt.Errorf("unknown crawl strategy %q", cfg.Strategy)
	}

	runID := "run"
	if deps.IDs != nil {
		id, err := deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}

	return &Engine{
		cfg:    cfg,
		deps:   deps,
		driver: driver,
		runID:  runID,
		topic:  "docscraper.pages",
	}, nil
}

// RunID returns the identifier attached to every record of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Progress returns a point-in-time view of the run counters. Safe to call
// from another goroutine while the crawl is running.
func (e *Engine) Progress() crawler.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// FrontierState returns the visited count and current frontier depth.
func (e *Engine) FrontierState() (visited, depth int) {
	return e.deps.Tracker.VisitedCount(), e.deps.Tracker.Len()
}

// Run executes the crawl: seed (or resume), drive to completion, final
// checkpoint. The report is returned even when the run was interrupted, so
// failure categories are never dropped.
func (e *Engine) Run(ctx context.Context, resume bool) (crawler.Report, error) {
	start := time.Now()
	e.report = crawler.Report{RunID: e.runID}

	restored, err := e.seed(ctx, resume)
	if err != nil {
		return e.snapshotReport(start), err
	}
	if restored {
		e.deps.Logger.Info("resuming from checkpoint",
			zap.Int("visited", e.deps.Tracker.VisitedCount()),
			zap.Int("frontier", e.deps.Tracker.Len()),
			zap.Int("page_count", e.pageCount),
		)
	}

	runErr := e.driver.Crawl(ctx, e)
	if errors.Is(runErr, crawler.ErrPageCapReached) {
		runErr = nil
	}

	e.deps.Checkpoints.Final(context.WithoutCancel(ctx), e.snapshot())

	report := e.snapshotReport(start)
	e.deps.Logger.Info("crawl finished",
		zap.String("run_id", e.runID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("extraction_skipped", report.ExtractionSkipped),
		zap.Int("fetch_failed", report.FetchFailed),
		zap.Int("chunks", report.ChunksProduced),
		zap.Duration("elapsed", report.Elapsed),
	)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return report, fmt.Errorf("crawl run: %w", runErr)
	}
	return report, nil
}

// seed initializes the frontier, either fresh from the configured seeds or
// from a restored checkpoint. An explicit resume request against an
// unreadable store is fatal: a partial corpus must not silently pass for a
// complete one.
func (e *Engine) seed(ctx context.Context, resume bool) (bool, error) {
	if resume {
		snap, present, err := e.deps.Checkpoints.Restore(ctx)
		if err != nil {
			return false, fmt.Errorf("resume requested but checkpoint unavailable: %w", err)
		}
		if present {
			e.deps.Tracker.Restore(snap.Visited, snap.Frontier)
			e.mu.Lock()
			e.pageCount = snap.PageCount
			e.mu.Unlock()
			return true, nil
		}
		e.deps.Logger.Info("no checkpoint found; starting fresh")
	}
	for _, seed := range e.cfg.Seeds {
		if !e.deps.Tracker.Enqueue(seed) {
			e.deps.Logger.Warn("seed rejected by frontier filters", zap.String("url", seed))
		}
	}
	return false, nil
}

// capReached reports whether the configured page cap has been hit.
func (e *Engine) capReached() bool {
	if e.cfg.MaxPages <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pageCount >= e.cfg.MaxPages
}

// processURL runs the full pipeline for one dequeued URL. Every path marks
// the URL visited exactly once; errors are absorbed into the report.
func (e *Engine) processURL(ctx context.Context, pageURL string) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer e.deps.Tracker.MarkVisited(pageURL)

	raw, err := e.deps.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		e.recordFetchFailure(pageURL, err)
		return
	}

	extracted, extractErr := e.extractWithFallback(ctx, raw)

	// Links discovered on the page are followed even when its own content
	// is unusable.
	enqueued := 0
	for _, link := range extracted.OutboundLinks {
		if e.deps.Tracker.Enqueue(link) {
			enqueued++
		}
	}

	if extractErr != nil {
		e.mu.Lock()
		e.report.ExtractionSkipped++
		e.mu.Unlock()
		metrics.ObservePage(pageURL, "extraction_skipped", raw.ContentLength())
		e.deps.Logger.Debug("page skipped: no content match",
			zap.String("url", pageURL),
			zap.Int("links_followed", enqueued),
		)
		return
	}

	record := e.buildRecord(pageURL, extracted)
	if err := e.deps.Sink.RecordPage(ctx, record); err != nil {
		e.deps.Logger.Warn("record page failed", zap.String("url", pageURL), zap.Error(err))
	}
	e.publish(ctx, record)

	e.mu.Lock()
	e.report.Succeeded++
	e.pageCount++
	e.mu.Unlock()
	metrics.ObservePage(pageURL, "succeeded", raw.ContentLength())

	e.deps.Checkpoints.MaybeCheckpoint(ctx, e.snapshot())
	e.chunkRecord(ctx, record)
}

// extractWithFallback extracts the raw page, escalating once to the
// headless renderer when the selector misses on a page that looks
// client-rendered.
func (e *Engine) extractWithFallback(ctx context.Context, raw crawler.RawPage) (crawler.ExtractedPage, error) {
	extracted, err := e.deps.Extractor.Extract(raw)
	if err == nil || !errors.Is(err, crawler.ErrNoContentMatch) {
		return extracted, err
	}
	if e.deps.Renderer == nil || e.deps.Detector == nil || !e.deps.Detector.NeedsJS(ctx, raw) {
		return extracted, err
	}

	rendered, renderErr := e.deps.Renderer.Render(ctx, raw.URL)
	if renderErr != nil {
		e.deps.Logger.Warn("headless render failed", zap.String("url", raw.URL), zap.Error(renderErr))
		return extracted, err
	}
	e.deps.Logger.Debug("headless fallback applied", zap.String("url", raw.URL))
	reExtracted, reErr := e.deps.Extractor.Extract(rendered)
	if reErr != nil {
		return extracted, err
	}
	return reExtracted, nil
}

func (e *Engine) buildRecord(pageURL string, extracted crawler.ExtractedPage) crawler.PageRecord {
	record := crawler.PageRecord{
		RunID:      e.runID,
		URL:        pageURL,
		Title:      extracted.Title,
		Content:    extracted.Content,
		CodeBlocks: extracted.CodeBlocks,
		Links:      extracted.OutboundLinks,
	}
	record.Category = e.deps.Categorizer.Categorize(extracted)
	if e.deps.Clock != nil {
		record.FetchedAt = e.deps.Clock.Now()
	}
	if e.deps.Hasher != nil {
		if hash, err := e.deps.Hasher.Hash([]byte(record.Content)); err == nil {
			record.ContentHash = hash
		}
	}
	return record
}

func (e *Engine) recordFetchFailure(pageURL string, err error) {
	e.mu.Lock()
	e.report.FetchFailed++
	e.mu.Unlock()
	metrics.ObservePage(pageURL, "fetch_failed", 0)

	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		e.deps.Logger.Warn("fetch failed",
			zap.String("url", pageURL),
			zap.String("kind", string(fe.Kind)),
			zap.Int("status", fe.Status),
		)
		return
	}
	e.deps.Logger.Warn("fetch failed", zap.String("url", pageURL), zap.Error(err))
}

// chunkRecord splits an oversized document and records the chunks. Small
// documents produce no chunk artifacts.
func (e *Engine) chunkRecord(ctx context.Context, record crawler.PageRecord) {
	doc := composeDocument(record)
	chunks := e.deps.Chunker.Chunk(doc, record.URL, record.Title, record.Category)
	if len(chunks) == 1 && !chunks[0].IsChunked {
		return
	}
	if err := e.deps.Sink.RecordChunks(ctx, chunks); err != nil {
		e.deps.Logger.Warn("record chunks failed", zap.String("url", record.URL), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.report.ChunksProduced += len(chunks)
	e.mu.Unlock()
	metrics.ObserveChunks(len(chunks))
}

// composeDocument renders a PageRecord back into one text document, code
// blocks fenced, for size estimation and chunking.
func composeDocument(record crawler.PageRecord) string {
	var b strings.Builder
	b.WriteString(record.Content)
	for _, block := range record.CodeBlocks {
		b.WriteString("\n\n```")
		b.WriteString(block.Language)
		b.WriteString("\n")
		b.WriteString(block.Code)
		if !strings.HasSuffix(block.Code, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```")
	}
	return b.String()
}

func (e *Engine) publish(ctx context.Context, record crawler.PageRecord) {
	if e.deps.Publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":   record.RunID,
		"url":      record.URL,
		"category": record.Category,
		"hash":     record.ContentHash,
	}
	if _, err := e.deps.Publisher.Publish(ctx, e.topic, payload); err != nil {
		e.deps.Logger.Warn("publish page event failed", zap.String("url", record.URL), zap.Error(err))
	}
}

// snapshot captures the durable crawl state. The tracker provides a
// consistent frontier/visited image under its own lock.
func (e *Engine) snapshot() crawler.Snapshot {
	visited, pending := e.deps.Tracker.Snapshot()
	e.mu.Lock()
	count := e.pageCount
	e.mu.Unlock()
	return crawler.Snapshot{
		RunID:     e.runID,
		Visited:   visited,
		Frontier:  pending,
		PageCount: count,
	}
}

func (e *Engine) snapshotReport(start time.Time) crawler.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	report := e.report
	report.Elapsed = time.Since(start)
	return report
}
