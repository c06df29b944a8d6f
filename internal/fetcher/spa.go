package fetcher

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Indicator thresholds for the SPA heuristic.
const (
	spaVisibleTextMax  = 500
	spaScriptCountMin  = 5
	spaMarkerTextLimit = 1000
	spaIndicatorsMin   = 2
)

var spaMarkers = []string{
	"__NEXT_DATA__",
	"window.__NUXT__",
	"ng-app",
}

// IsSPA estimates whether the page needs JavaScript execution to reveal its
// real content. It scores independent indicators and declares a SPA when at
// least two fire: sparse visible text, script-heavy markup, and known
// framework markers.
func IsSPA(html []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return false
	}

	scriptCount := doc.Find("script").Length()
	doc.Find("script, style, noscript").Remove()
	visibleText := strings.TrimSpace(doc.Text())

	indicators := 0
	if len(visibleText) < spaVisibleTextMax {
		indicators++
	}
	if scriptCount > spaScriptCountMin {
		indicators++
	}
	if hasFrameworkMarker(html, doc, len(visibleText)) {
		indicators++
	}
	return indicators >= spaIndicatorsMin
}

func hasFrameworkMarker(html []byte, doc *goquery.Document, visibleTextLen int) bool {
	for _, marker := range spaMarkers {
		if bytes.Contains(html, []byte(marker)) {
			return true
		}
	}
	if visibleTextLen < spaMarkerTextLimit {
		return doc.Find(`[data-reactroot], #__next`).Length() > 0
	}
	return false
}
