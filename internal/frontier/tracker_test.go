package frontier

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerEnqueueDedup(t *testing.T) {
	t.Parallel()

	tr := New(Config{})

	require.True(t, tr.Enqueue("https://example.com/docs"))
	// Equivalent spellings collapse to the same canonical entry.
	require.False(t, tr.Enqueue("https://example.com/docs/"))
	require.False(t, tr.Enqueue("HTTPS://EXAMPLE.COM/docs#intro"))
	require.False(t, tr.Enqueue("https://example.com:443/docs?utm_source=x"))
	require.Equal(t, 1, tr.Len())

	url, ok := tr.Dequeue()
	require.True(t, ok)
	require.Equal(t, "https://example.com/docs", url)

	// In-flight URLs cannot be re-enqueued.
	require.False(t, tr.Enqueue("https://example.com/docs"))

	tr.MarkVisited(url)
	// Visited URLs cannot be re-enqueued either.
	require.False(t, tr.Enqueue("https://example.com/docs"))
	require.Equal(t, 1, tr.VisitedCount())
	require.True(t, tr.Idle())
}

func TestTrackerFIFOOrder(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	for _, u := range urls {
		require.True(t, tr.Enqueue(u))
	}
	for _, want := range urls {
		got, ok := tr.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := tr.Dequeue()
	require.False(t, ok)
}

func TestTrackerRejectsMalformed(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	require.False(t, tr.Enqueue("not a url"))
	require.False(t, tr.Enqueue("/relative/path"))
	require.False(t, tr.Enqueue("ftp://example.com/file"))
	require.Equal(t, 0, tr.Len())
}

func TestTrackerAdmissionFilters(t *testing.T) {
	t.Parallel()

	tr := New(Config{
		IncludePatterns: []*regexp.Regexp{regexp.MustCompile(`^https://docs\.example\.com/`)},
		ExcludePatterns: []*regexp.Regexp{regexp.MustCompile(`\.pdf$`)},
		BlockedDomains:  []string{"*.ads.example.com", "tracker.net"},
	})

	require.True(t, tr.Enqueue("https://docs.example.com/guide"))
	require.False(t, tr.Enqueue("https://blog.example.com/post"), "outside include")
	require.False(t, tr.Enqueue("https://docs.example.com/manual.pdf"), "excluded")
	require.False(t, tr.Enqueue("https://sub.ads.example.com/x"), "blocked wildcard")
	require.False(t, tr.Enqueue("https://tracker.net/x"), "blocked exact")
	require.Equal(t, 1, tr.Len())
}

func TestTrackerSnapshotFoldsInflight(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	require.True(t, tr.Enqueue("https://example.com/a"))
	require.True(t, tr.Enqueue("https://example.com/b"))
	require.True(t, tr.Enqueue("https://example.com/c"))

	a, _ := tr.Dequeue()
	tr.MarkVisited(a)
	b, _ := tr.Dequeue() // left in flight

	visited, pending := tr.Snapshot()
	require.Equal(t, []string{a}, visited)
	require.ElementsMatch(t, []string{b, "https://example.com/c"}, pending,
		"in-flight URL must reappear as pending")
}

func TestTrackerRestoreDropsDuplicates(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	tr.Restore(
		[]string{"https://example.com/a"},
		[]string{"https://example.com/a", "https://example.com/b", "https://example.com/b"},
	)

	require.Equal(t, 1, tr.VisitedCount())
	require.Equal(t, 1, tr.Len(), "visited and duplicate entries dropped from frontier")

	got, ok := tr.Dequeue()
	require.True(t, ok)
	require.Equal(t, "https://example.com/b", got)
}

func TestTrackerConcurrentEnqueueDequeue(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n; j++ {
				tr.Enqueue(fmt.Sprintf("https://example.com/p%d", j))
			}
		}()
	}
	wg.Wait()

	// Despite 4 goroutines racing, each URL was admitted exactly once.
	seen := make(map[string]struct{})
	for {
		u, ok := tr.Dequeue()
		if !ok {
			break
		}
		_, dup := seen[u]
		require.False(t, dup, "url %s dequeued twice", u)
		seen[u] = struct{}{}
		tr.MarkVisited(u)
	}
	require.Len(t, seen, n)
}
