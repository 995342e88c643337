// Package extract parses fetched pages into structured documents using a
// declarative selector configuration.
package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docfoundry/docscraper/internal/crawler"
)

// nonContentSelectors lists elements stripped before extracting body text.
const nonContentSelectors = "script, style, nav, header, footer"

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

// Extractor pulls title, main content, code blocks, and outbound links out
// of a raw page. It is a pure function of its inputs and the configured
// selectors.
type Extractor struct {
	selectors crawler.Selectors
}

// New builds an Extractor for the given selector configuration.
func New(selectors crawler.Selectors) *Extractor {
	if selectors.Title == "" {
		selectors.Title = "title"
	}
	if selectors.Code == "" {
		selectors.Code = "pre code, pre"
	}
	return &Extractor{selectors: selectors}
}

// Extract parses page.Body. A content-selector miss returns an
// *ExtractError wrapping ErrNoContentMatch; the caller still receives the
// outbound links in the returned page so the crawl can follow them.
func (e *Extractor) Extract(page crawler.RawPage) (crawler.ExtractedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.ExtractedPage{}, &crawler.ExtractError{
			URL: page.URL,
			Err: fmt.Errorf("parse html: %w", err),
		}
	}

	out := crawler.ExtractedPage{
		URL:           page.URL,
		Title:         e.extractTitle(doc),
		OutboundLinks: extractLinks(doc, page.URL),
	}

	region := doc.Find(e.selectors.Content).First()
	if region.Length() == 0 {
		return out, &crawler.ExtractError{URL: page.URL, Err: crawler.ErrNoContentMatch}
	}

	out.CodeBlocks = extractCodeBlocks(region, e.selectors.Code)

	clone := region.Clone()
	clone.Find(nonContentSelectors).Remove()
	out.Content = collapseWhitespace(clone.Text())

	return out, nil
}

func (e *Extractor) extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find(e.selectors.Title).First().Text()); title != "" {
		return title
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists {
		return strings.TrimSpace(ogTitle)
	}
	return ""
}

func extractCodeBlocks(region *goquery.Selection, codeSelector string) []crawler.CodeBlock {
	var blocks []crawler.CodeBlock
	seen := make(map[*goquery.Selection]struct{})
	region.Find(codeSelector).Each(func(_ int, sel *goquery.Selection) {
		// "pre code, pre" matches both the inner and outer node of the
		// same block; skip a <pre> whose <code> child was already taken.
		if sel.Is("pre") && sel.Find("code").Length() > 0 {
			return
		}
		if _, dup := seen[sel]; dup {
			return
		}
		seen[sel] = struct{}{}

		code := sel.Text()
		if strings.TrimSpace(code) == "" {
			return
		}
		blocks = append(blocks, crawler.CodeBlock{
			Language: DetectLanguage(classHint(sel), code),
			Code:     code,
		})
	})
	return blocks
}

// classHint collects class attributes from the node and its parent, where
// highlighters put language-xxx / highlight-xxx markers.
func classHint(sel *goquery.Selection) string {
	hint, _ := sel.Attr("class")
	if parent, ok := sel.Parent().Attr("class"); ok {
		hint += " " + parent
	}
	return hint
}

func extractLinks(doc *goquery.Document, pageURL string) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, err := crawler.ResolveLink(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// collapseWhitespace trims each line and squeezes runs of blank lines so
// selector-extracted text keeps paragraph structure without HTML noise.
func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
