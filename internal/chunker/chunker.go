// Package chunker splits oversized documents into overlapping chunks that
// respect embedding-model token limits while never severing a fenced code
// block.
package chunker

import (
	"sort"
	"strings"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// charsPerToken is the characters-per-token heuristic used for size
// estimates.
const charsPerToken = 4

// passthroughRatio leaves a buffer margin below the hard token ceiling:
// documents under MaxTokens*passthroughRatio are returned whole.
const passthroughRatio = 0.8

// Config controls the splitter. SparseBoundaryFactor scales the threshold
// below which synthetic boundaries are added; the specific value is tuning
// policy, not a hard rule.
type Config struct {
	MaxTokens            int
	OverlapRatio         float64
	PreserveCode         bool
	SparseBoundaryFactor float64
}

// Chunker splits documents per its Config. Safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New builds a Chunker, applying defaults for unset knobs.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.OverlapRatio <= 0 {
		cfg.OverlapRatio = 0.1
	}
	if cfg.SparseBoundaryFactor <= 0 {
		cfg.SparseBoundaryFactor = 1.0
	}
	return &Chunker{cfg: cfg}
}

// EstimateTokens applies the charsPerToken heuristic.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Chunk splits doc into chunks carrying the given source metadata.
// Concatenating the chunks' core (non-overlap) text reconstructs doc.
func (c *Chunker) Chunk(doc string, sourceURL, sourceTitle, category string) []crawler.Chunk {
	meta := func(ch *crawler.Chunk) {
		ch.SourceURL = sourceURL
		ch.SourceTitle = sourceTitle
		ch.Category = category
	}

	if EstimateTokens(doc) <= int(float64(c.cfg.MaxTokens)*passthroughRatio) {
		single := crawler.Chunk{
			Text:         doc,
			ChunkIndex:   0,
			TotalChunks:  1,
			IsChunked:    false,
			HasCodeBlock: strings.Contains(doc, "```"),
		}
		meta(&single)
		return []crawler.Chunk{single}
	}

	spans := fencedCodeSpans(doc)
	cuts := c.boundaries(doc, spans)
	cores := c.split(doc, cuts, spans)

	overlapChars := int(c.cfg.OverlapRatio * float64(c.cfg.MaxTokens) * charsPerToken)
	chunks := make([]crawler.Chunk, len(cores))
	for i, core := range cores {
		text := doc[core.start:core.end]
		if i > 0 && overlapChars > 0 {
			from := core.start - overlapChars
			if from < 0 {
				from = 0
			}
			text = doc[from:core.start] + text
		}
		chunks[i] = crawler.Chunk{
			Text:         text,
			ChunkIndex:   i,
			TotalChunks:  len(cores),
			IsChunked:    true,
			HasCodeBlock: strings.Contains(doc[core.start:core.end], "```"),
		}
		meta(&chunks[i])
	}
	return chunks
}

type span struct {
	start, end int
}

func (s span) contains(pos int) bool {
	return pos > s.start && pos < s.end
}

// fencedCodeSpans locates ``` fenced regions. An unterminated fence runs to
// the end of the document.
func fencedCodeSpans(doc string) []span {
	var spans []span
	offset := 0
	open := -1
	for _, line := range strings.SplitAfter(doc, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if open < 0 {
				open = offset
			} else {
				spans = append(spans, span{start: open, end: offset + len(line)})
				open = -1
			}
		}
		offset += len(line)
	}
	if open >= 0 {
		spans = append(spans, span{start: open, end: len(doc)})
	}
	return spans
}

// boundaries collects natural break offsets (paragraph breaks and heading
// markers), relocates any that fall inside a code span to the span's end,
// and synthesizes uniform boundaries when natural ones are too sparse for
// the document size.
func (c *Chunker) boundaries(doc string, spans []span) []int {
	targetChars := c.cfg.MaxTokens * charsPerToken
	set := make(map[int]struct{})

	add := func(pos int) {
		if pos <= 0 || pos >= len(doc) {
			return
		}
		if c.cfg.PreserveCode {
			for _, s := range spans {
				if s.contains(pos) {
					pos = s.end
					break
				}
			}
		}
		if pos <= 0 || pos >= len(doc) {
			return
		}
		set[pos] = struct{}{}
	}

	offset := 0
	prevBlank := false
	for _, line := range strings.SplitAfter(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if prevBlank && trimmed != "" {
			add(offset)
		}
		if strings.HasPrefix(trimmed, "#") && offset > 0 {
			add(offset)
		}
		prevBlank = trimmed == ""
		offset += len(line)
	}

	// Header-leading documents cluster all their natural breaks near the
	// start and would otherwise come out as one oversized chunk; pad with
	// uniform synthetic boundaries when coverage is too thin.
	needed := int(float64(len(doc)) / float64(targetChars) * c.cfg.SparseBoundaryFactor)
	if len(set) < needed {
		for pos := targetChars; pos < len(doc); pos += targetChars {
			add(pos)
		}
	}

	cuts := make([]int, 0, len(set))
	for pos := range set {
		cuts = append(cuts, pos)
	}
	sort.Ints(cuts)
	return cuts
}

type core struct {
	start, end int
}

// split walks the boundary candidates greedily, cutting at the last
// candidate that keeps the chunk within the character budget. A plain-text
// gap wider than the budget is hard-cut at the budget; only a fenced block
// is crossed whole, as the documented oversized-code exception.
func (c *Chunker) split(doc string, cuts []int, spans []span) []core {
	targetChars := c.cfg.MaxTokens * charsPerToken
	var cores []core
	start := 0
	i := 0
	for start < len(doc) {
		if len(doc)-start <= targetChars {
			cores = append(cores, core{start: start, end: len(doc)})
			break
		}

		cut := -1
		for i < len(cuts) && cuts[i]-start <= targetChars {
			if cuts[i] > start {
				cut = cuts[i]
			}
			i++
		}
		if cut < 0 {
			// No candidate fits. Hard-cut at the budget; when that lands
			// inside a fenced block, take the block whole instead.
			cut = start + targetChars
			if c.cfg.PreserveCode {
				if s, ok := spanAt(cut, spans); ok {
					cut = s.end
				}
			}
			for i < len(cuts) && cuts[i] <= cut {
				i++
			}
		}
		cores = append(cores, core{start: start, end: cut})
		start = cut
	}
	if len(cores) == 0 {
		cores = append(cores, core{start: 0, end: len(doc)})
	}
	return cores
}

func spanAt(pos int, spans []span) (span, bool) {
	for _, s := range spans {
		if s.contains(pos) {
			return s, true
		}
	}
	return span{}, false
}
