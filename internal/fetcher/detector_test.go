package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docfoundry/docscraper/internal/crawler"
)

func rawHTML(body string) crawler.RawPage {
	return crawler.RawPage{URL: "https://example.com", Body: []byte(body)}
}

func TestDetectorSmallBody(t *testing.T) {
	t.Parallel()

	d := NewHeuristicDetector(1024, nil, nil)
	require.True(t, d.NeedsJS(context.Background(), rawHTML("<html><body></body></html>")))

	big := "<html><body>" + strings.Repeat("content ", 200) + "</body></html>"
	require.False(t, d.NeedsJS(context.Background(), rawHTML(big)))
}

func TestDetectorFrameworkKeywords(t *testing.T) {
	t.Parallel()

	d := NewHeuristicDetector(0, nil, nil)
	pad := strings.Repeat("x", 100)

	cases := []string{
		`<script id="__NEXT_DATA__" type="application/json">{}</script>` + pad,
		`<div data-reactroot>` + pad + `</div>`,
		`<body ng-app="docs">` + pad + `</body>`,
		`<script>window.__APOLLO_STATE__ = {}</script>` + pad,
	}
	for _, html := range cases {
		require.True(t, d.NeedsJS(context.Background(), rawHTML(html)), "html: %.40s", html)
	}

	require.False(t, d.NeedsJS(context.Background(), rawHTML("<html><body>server rendered</body></html>")))
}

func TestDetectorCustomKeywordsAndSelectors(t *testing.T) {
	t.Parallel()

	d := NewHeuristicDetector(0, []string{"main.docs"}, []string{"window.bootstrap"})

	require.True(t, d.NeedsJS(context.Background(),
		rawHTML(`<script>window.BOOTSTRAP()</script>`)), "keyword match is case-insensitive")

	require.True(t, d.NeedsJS(context.Background(),
		rawHTML(`<html><body><div>no main region</div></body></html>`)), "missing must-have selector")

	require.False(t, d.NeedsJS(context.Background(),
		rawHTML(`<html><body><main class="docs">content</main></body></html>`)))
}

func TestNilDetector(t *testing.T) {
	t.Parallel()

	var d *HeuristicDetector
	require.False(t, d.NeedsJS(context.Background(), rawHTML("anything")))
}
