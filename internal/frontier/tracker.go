// Package frontier maintains the set of discovered-but-unvisited URLs and
// the set of already-visited URLs for one crawl run.
package frontier

import (
	"net/url"
	"regexp"
	"sync"

	"github.com/docfoundry/docscraper/internal/crawler"
	"github.com/docfoundry/docscraper/internal/metrics"
)

// Config carries the admission filters applied at enqueue time.
type Config struct {
	IncludePatterns []*regexp.Regexp
	ExcludePatterns []*regexp.Regexp
	BlockedDomains  []string
}

// Tracker owns the frontier queue and the visited set under one mutex so
// every strategy shares a single consistent locking discipline. A URL is in
// exactly one of {visited, frontier, in-flight} at any time.
type Tracker struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	queued   map[string]struct{}
	inflight map[string]struct{}
	queue    []string

	include   []*regexp.Regexp
	exclude   []*regexp.Regexp
	blocklist *domainBlocklist
}

// New creates an empty Tracker with the given admission filters.
func New(cfg Config) *Tracker {
	return &Tracker{
		visited:   make(map[string]struct{}),
		queued:    make(map[string]struct{}),
		inflight:  make(map[string]struct{}),
		include:   cfg.IncludePatterns,
		exclude:   cfg.ExcludePatterns,
		blocklist: newDomainBlocklist(cfg.BlockedDomains),
	}
}

// Enqueue normalizes rawURL and adds it to the frontier iff it is new and
// passes the admission filters. Idempotent; returns true when the URL was
// actually queued.
func (t *Tracker) Enqueue(rawURL string) bool {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if !t.admits(canonical) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.visited[canonical]; seen {
		return false
	}
	if _, queued := t.queued[canonical]; queued {
		return false
	}
	if _, busy := t.inflight[canonical]; busy {
		return false
	}
	t.queued[canonical] = struct{}{}
	t.queue = append(t.queue, canonical)
	metrics.SetFrontierDepth(len(t.queue))
	return true
}

// Dequeue removes and returns the oldest-enqueued URL, moving it into
// in-flight bookkeeping. ok is false when the frontier is empty.
func (t *Tracker) Dequeue() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return "", false
	}
	canonical := t.queue[0]
	t.queue = t.queue[1:]
	delete(t.queued, canonical)
	t.inflight[canonical] = struct{}{}
	metrics.SetFrontierDepth(len(t.queue))
	return canonical, true
}

// MarkVisited moves a dequeued URL from in-flight into the visited set.
// Both successful fetches and permanent failures end up here so a URL is
// never fetched twice in a single crawl.
func (t *Tracker) MarkVisited(canonical string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, canonical)
	t.visited[canonical] = struct{}{}
}

// Len reports the current frontier depth.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Idle reports whether no URLs are queued and none are in flight; the
// pooled strategies use this to detect global completion.
func (t *Tracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue) == 0 && len(t.inflight) == 0
}

// VisitedCount reports how many URLs have been marked visited.
func (t *Tracker) VisitedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visited)
}

// Snapshot captures visited and frontier under the tracker lock so the
// checkpoint manager never observes a torn state. In-flight URLs are folded
// back into the frontier: after a restore they must be fetched again.
func (t *Tracker) Snapshot() (visited, pending []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	visited = make([]string, 0, len(t.visited))
	for u := range t.visited {
		visited = append(visited, u)
	}
	pending = make([]string, 0, len(t.queue)+len(t.inflight))
	pending = append(pending, t.queue...)
	for u := range t.inflight {
		pending = append(pending, u)
	}
	return visited, pending
}

// Restore replaces the tracker state with a checkpoint image. Frontier
// entries duplicated in visited are dropped to preserve the invariant.
func (t *Tracker) Restore(visited, pending []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visited = make(map[string]struct{}, len(visited))
	for _, u := range visited {
		t.visited[u] = struct{}{}
	}
	t.queued = make(map[string]struct{}, len(pending))
	t.inflight = make(map[string]struct{})
	t.queue = t.queue[:0]
	for _, u := range pending {
		if _, seen := t.visited[u]; seen {
			continue
		}
		if _, dup := t.queued[u]; dup {
			continue
		}
		t.queued[u] = struct{}{}
		t.queue = append(t.queue, u)
	}
	metrics.SetFrontierDepth(len(t.queue))
}

func (t *Tracker) admits(canonical string) bool {
	if t.blocklist != nil {
		if u, err := url.Parse(canonical); err == nil && t.blocklist.IsBlocked(u.Hostname()) {
			return false
		}
	}
	for _, re := range t.exclude {
		if re.MatchString(canonical) {
			return false
		}
	}
	if len(t.include) == 0 {
		return true
	}
	for _, re := range t.include {
		if re.MatchString(canonical) {
			return true
		}
	}
	return false
}
