package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docfoundry/docscraper/internal/categorize"
	"github.com/docfoundry/docscraper/internal/checkpoint"
	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/extract"
	"github.com/docfoundry/docscraper/internal/frontier"
	memorypublisher "github.com/docfoundry/docscraper/internal/publisher/memory"
	"github.com/docfoundry/docscraper/internal/sink"
)

var allStrategies = []crawler.Strategy{
	crawler.StrategySequential,
	crawler.StrategyPool,
	crawler.StrategyAsync,
}

// stubFetcher serves canned HTML and counts fetches per URL.
type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fail    map[string]*crawler.FetchError
	fetches map[string]int
}

func newStubFetcher(pages map[string]string) *stubFetcher {
	return &stubFetcher{
		pages:   pages,
		fail:    make(map[string]*crawler.FetchError),
		fetches: make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (crawler.RawPage, error) {
	f.mu.Lock()
	f.fetches[rawURL]++
	f.mu.Unlock()

	if fe, ok := f.fail[rawURL]; ok {
		return crawler.RawPage{}, fe
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return crawler.RawPage{}, &crawler.FetchError{
			Kind: crawler.FetchHTTPError, URL: rawURL, Status: 404,
		}
	}
	return crawler.RawPage{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(html)}, nil
}

func (f *stubFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[rawURL]
}

func docPage(title, body string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><main><p>%s</p>", title, body)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, l)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func baseConfig(strategy crawler.Strategy) crawler.Config {
	return crawler.Config{
		Seeds:       []string{"https://docs.test/a"},
		UserAgent:   "docscraper-test",
		Strategy:    strategy,
		Concurrency: 3,
		Selectors:   crawler.Selectors{Content: "main"},
		Categories: []crawler.CategoryRule{
			{Name: "api-reference", Keywords: []string{"api", "endpoint"}},
			{Name: "tutorial", Keywords: []string{"tutorial"}},
		},
		Chunking: crawler.ChunkingConfig{MaxTokens: 512, OverlapRatio: 0.1, PreserveCode: true},
	}
}

type harness struct {
	engine    *Engine
	sink      *sink.MemorySink
	publisher *memorypublisher.Publisher
	tracker   *frontier.Tracker
}

func newHarness(t *testing.T, cfg crawler.Config, fetch crawler.Fetcher, cp *checkpoint.Manager) *harness {
	t.Helper()
	mem := sink.NewMemorySink()
	pub := memorypublisher.New()
	tracker := frontier.New(frontier.Config{})
	eng, err := New(cfg, Deps{
		Tracker:     tracker,
		Fetcher:     fetch,
		Extractor:   extract.New(cfg.Selectors),
		Categorizer: categorize.New(cfg.Categories),
		Checkpoints: cp,
		Sink:        mem,
		Publisher:   pub,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return &harness{engine: eng, sink: mem, publisher: pub, tracker: tracker}
}

func TestEngineCrawlsSiteWithCycle(t *testing.T) {
	t.Parallel()

	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			// a -> b, c; b -> c and back to a (a cycle). Every page must
			// be fetched exactly once regardless of strategy.
			fetch := newStubFetcher(map[string]string{
				"https://docs.test/a": docPage("A", "About the api endpoint.", "/b", "/c"),
				"https://docs.test/b": docPage("B", "A tutorial page.", "/c", "/a"),
				"https://docs.test/c": docPage("C", "Nothing special."),
			})
			h := newHarness(t, baseConfig(strategy), fetch, nil)

			report, err := h.engine.Run(context.Background(), false)
			require.NoError(t, err)

			require.Equal(t, 3, report.Succeeded)
			require.Zero(t, report.FetchFailed)
			require.Zero(t, report.ExtractionSkipped)
			require.Equal(t, 3, report.Total())

			for _, u := range []string{"https://docs.test/a", "https://docs.test/b", "https://docs.test/c"} {
				require.Equal(t, 1, fetch.count(u), "url %s fetched exactly once", u)
			}

			pages := h.sink.Pages()
			require.Len(t, pages, 3)
			byURL := make(map[string]crawler.PageRecord, len(pages))
			for _, p := range pages {
				byURL[p.URL] = p
			}
			require.Equal(t, "api-reference", byURL["https://docs.test/a"].Category)
			require.Equal(t, "tutorial", byURL["https://docs.test/b"].Category)
			require.Equal(t, categorize.Uncategorized, byURL["https://docs.test/c"].Category)
			require.Equal(t, "A", byURL["https://docs.test/a"].Title)

			require.Len(t, h.publisher.Messages(), 3, "one event per successful page")
			require.True(t, h.tracker.Idle())
		})
	}
}

func TestEngineFetchFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			fetch := newStubFetcher(map[string]string{
				"https://docs.test/a": docPage("A", "Root.", "/bad", "/c"),
				"https://docs.test/c": docPage("C", "Fine."),
			})
			fetch.fail["https://docs.test/bad"] = &crawler.FetchError{
				Kind: crawler.FetchTimeout, URL: "https://docs.test/bad",
			}
			h := newHarness(t, baseConfig(strategy), fetch, nil)

			report, err := h.engine.Run(context.Background(), false)
			require.NoError(t, err)

			require.Equal(t, 2, report.Succeeded)
			require.Equal(t, 1, report.FetchFailed)
			require.Len(t, h.sink.Pages(), 2)
			// The failed URL is visited; it will not be retried by a
			// later enqueue.
			require.False(t, h.tracker.Enqueue("https://docs.test/bad"))
		})
	}
}

func TestEngineExtractionSkipStillFollowsLinks(t *testing.T) {
	t.Parallel()

	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			// The seed has no <main> region, only links.
			fetch := newStubFetcher(map[string]string{
				"https://docs.test/a": `<html><body><div id="root"><a href="/b">b</a></div></body></html>`,
				"https://docs.test/b": docPage("B", "Reachable."),
			})
			h := newHarness(t, baseConfig(strategy), fetch, nil)

			report, err := h.engine.Run(context.Background(), false)
			require.NoError(t, err)

			require.Equal(t, 1, report.ExtractionSkipped)
			require.Equal(t, 1, report.Succeeded)
			require.Equal(t, 1, fetch.count("https://docs.test/b"),
				"links from an unextractable page are still followed")
			require.Len(t, h.sink.Pages(), 1)
		})
	}
}

func TestEnginePageCap(t *testing.T) {
	t.Parallel()

	// A long chain a -> p0 -> p1 -> ... with a cap of 3.
	pages := map[string]string{
		"https://docs.test/a": docPage("A", "Start.", "/p0"),
	}
	for i := 0; i < 10; i++ {
		pages[fmt.Sprintf("https://docs.test/p%d", i)] =
			docPage(fmt.Sprintf("P%d", i), "Chain.", fmt.Sprintf("/p%d", i+1))
	}

	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			cfg := baseConfig(strategy)
			cfg.MaxPages = 3
			h := newHarness(t, cfg, newStubFetcher(pages), nil)

			report, err := h.engine.Run(context.Background(), false)
			require.NoError(t, err, "hitting the cap is normal completion")
			require.Equal(t, 3, report.Succeeded)
		})
	}
}

func TestEngineChunksOversizedPages(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Documentation prose goes on and on. ", 200)
	fetch := newStubFetcher(map[string]string{
		"https://docs.test/a": docPage("Long", long),
	})
	cfg := baseConfig(crawler.StrategySequential)
	cfg.Chunking.MaxTokens = 100
	h := newHarness(t, cfg, fetch, nil)

	report, err := h.engine.Run(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, 1, report.Succeeded)
	require.Greater(t, report.ChunksProduced, 1)

	chunks := h.sink.Chunks()
	require.Len(t, chunks, report.ChunksProduced)
	for _, ch := range chunks {
		require.True(t, ch.IsChunked)
		require.Equal(t, "https://docs.test/a", ch.SourceURL)
		require.Equal(t, "Long", ch.SourceTitle)
		require.Equal(t, len(chunks), ch.TotalChunks)
	}
}

func TestEngineSmallPagesProduceNoChunks(t *testing.T) {
	t.Parallel()

	fetch := newStubFetcher(map[string]string{
		"https://docs.test/a": docPage("Small", "Tiny page."),
	})
	h := newHarness(t, baseConfig(crawler.StrategySequential), fetch, nil)

	report, err := h.engine.Run(context.Background(), false)
	require.NoError(t, err)
	require.Zero(t, report.ChunksProduced)
	require.Empty(t, h.sink.Chunks())
}

func TestEngineCheckpointAndResume(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://docs.test/a": docPage("A", "Root.", "/b", "/c"),
		"https://docs.test/b": docPage("B", "Middle.", "/c"),
		"https://docs.test/c": docPage("C", "Leaf."),
	}
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, err)

	first := newStubFetcher(pages)
	cp := checkpoint.NewManager(store, 1, nil, zap.NewNop())
	h := newHarness(t, baseConfig(crawler.StrategySequential), first, cp)
	report, err := h.engine.Run(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 3, report.Succeeded)

	// Resuming against the completed checkpoint fetches nothing new.
	second := newStubFetcher(pages)
	cp2 := checkpoint.NewManager(store, 1, nil, zap.NewNop())
	h2 := newHarness(t, baseConfig(crawler.StrategySequential), second, cp2)
	report2, err := h2.engine.Run(context.Background(), true)
	require.NoError(t, err)

	require.Zero(t, report2.Succeeded)
	for u := range pages {
		require.Zero(t, second.count(u), "url %s must not be refetched after resume", u)
	}
}

func TestEngineResumeMidCrawl(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"https://docs.test/a": docPage("A", "Root.", "/b"),
		"https://docs.test/b": docPage("B", "Leaf."),
	}
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, err)

	// Hand-build a mid-crawl snapshot: a visited, b still pending.
	cp := checkpoint.NewManager(store, 1, nil, zap.NewNop())
	cp.Final(context.Background(), crawler.Snapshot{
		RunID:     "earlier-run",
		Visited:   []string{"https://docs.test/a"},
		Frontier:  []string{"https://docs.test/b"},
		PageCount: 1,
	})

	fetch := newStubFetcher(pages)
	h := newHarness(t, baseConfig(crawler.StrategySequential), fetch,
		checkpoint.NewManager(store, 1, nil, zap.NewNop()))
	report, err := h.engine.Run(context.Background(), true)
	require.NoError(t, err)

	require.Zero(t, fetch.count("https://docs.test/a"), "visited URLs stay visited")
	require.Equal(t, 1, fetch.count("https://docs.test/b"))
	require.Equal(t, 1, report.Succeeded)
}

func TestEngineCancellation(t *testing.T) {
	t.Parallel()

	// An endless chain; cancel shortly after starting.
	pages := make(map[string]string)
	pages["https://docs.test/a"] = docPage("A", "Start.", "/p0")
	for i := 0; i < 500; i++ {
		pages[fmt.Sprintf("https://docs.test/p%d", i)] =
			docPage(fmt.Sprintf("P%d", i), "Chain.", fmt.Sprintf("/p%d", i+1))
	}

	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			slow := &slowFetcher{inner: newStubFetcher(pages), delay: 5 * time.Millisecond}
			h := newHarness(t, baseConfig(strategy), slow, nil)

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()

			report, err := h.engine.Run(ctx, false)
			require.NoError(t, err, "cancellation is not an engine failure")
			require.Less(t, report.Total(), len(pages), "crawl stopped early")
		})
	}
}

type slowFetcher struct {
	inner *stubFetcher
	delay time.Duration
}

func (f *slowFetcher) Fetch(ctx context.Context, rawURL string) (crawler.RawPage, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return crawler.RawPage{}, &crawler.FetchError{
			Kind: crawler.FetchConnectionFailed, URL: rawURL, Err: ctx.Err(),
		}
	}
	return f.inner.Fetch(ctx, rawURL)
}

func TestEngineConstructorValidation(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(crawler.StrategyPool)
	cfg.Concurrency = 0
	_, err := New(cfg, Deps{
		Tracker:     frontier.New(frontier.Config{}),
		Fetcher:     newStubFetcher(nil),
		Extractor:   extract.New(cfg.Selectors),
		Categorizer: categorize.New(nil),
		Sink:        sink.NewMemorySink(),
	})
	require.Error(t, err, "pool with zero workers is a configuration contradiction")

	cfg = baseConfig("fibers")
	_, err = New(cfg, Deps{
		Tracker:     frontier.New(frontier.Config{}),
		Fetcher:     newStubFetcher(nil),
		Extractor:   extract.New(cfg.Selectors),
		Categorizer: categorize.New(nil),
		Sink:        sink.NewMemorySink(),
	})
	require.Error(t, err)

	_, err = New(baseConfig(crawler.StrategySequential), Deps{})
	require.Error(t, err, "missing collaborators")
}

// renderFetcher pairs with a renderer: the static body has no content
// region, the rendered body does.
type stubRenderer struct {
	html string
}

func (r *stubRenderer) Render(_ context.Context, rawURL string) (crawler.RawPage, error) {
	return crawler.RawPage{URL: rawURL, StatusCode: 200, Body: []byte(r.html), UsedJS: true}, nil
}

func (r *stubRenderer) Close(context.Context) error { return nil }

type alwaysJSDetector struct{}

func (alwaysJSDetector) NeedsJS(context.Context, crawler.RawPage) bool { return true }

func TestEngineHeadlessFallback(t *testing.T) {
	t.Parallel()

	fetch := newStubFetcher(map[string]string{
		"https://docs.test/a": `<html><body><div id="root"></div></body></html>`,
	})
	cfg := baseConfig(crawler.StrategySequential)

	mem := sink.NewMemorySink()
	eng, err := New(cfg, Deps{
		Tracker:     frontier.New(frontier.Config{}),
		Fetcher:     fetch,
		Renderer:    &stubRenderer{html: docPage("Rendered", "Client side content.")},
		Detector:    alwaysJSDetector{},
		Extractor:   extract.New(cfg.Selectors),
		Categorizer: categorize.New(cfg.Categories),
		Sink:        mem,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	report, err := eng.Run(context.Background(), false)
	require.NoError(t, err)

	require.Equal(t, 1, report.Succeeded)
	require.Zero(t, report.ExtractionSkipped)
	pages := mem.Pages()
	require.Len(t, pages, 1)
	require.Equal(t, "Rendered", pages[0].Title)
}
