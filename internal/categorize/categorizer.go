// Package categorize assigns topic labels to extracted pages via a
// weighted keyword scoring heuristic.
package categorize

import (
	"net/url"
	"strings"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// Uncategorized is the reserved label used when no rule scores above zero.
const Uncategorized = "uncategorized"

// Keyword weights: a hit in the URL path is the strongest signal, then the
// title, then the content body.
const (
	urlWeight     = 3
	titleWeight   = 2
	contentWeight = 1
)

// Categorizer scores pages against an ordered rule list. Deterministic and
// side-effect-free; ties break toward the first-declared rule.
type Categorizer struct {
	rules []crawler.CategoryRule
}

// New builds a Categorizer from configuration.
func New(rules []crawler.CategoryRule) *Categorizer {
	return &Categorizer{rules: rules}
}

// Categorize returns the winning category label for the page.
func (c *Categorizer) Categorize(page crawler.ExtractedPage) string {
	path := pagePath(page.URL)
	title := strings.ToLower(page.Title)
	content := strings.ToLower(page.Content)

	best := Uncategorized
	bestScore := 0
	for _, rule := range c.rules {
		score := 0
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(path, kw) {
				score += urlWeight
			}
			if strings.Contains(title, kw) {
				score += titleWeight
			}
			if strings.Contains(content, kw) {
				score += contentWeight
			}
		}
		// Strictly greater keeps the first-declared rule on ties.
		if score > bestScore {
			best = rule.Name
			bestScore = score
		}
	}
	return best
}

func pagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Path)
}
