// internal/extract/markers.go

package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors whose presence marks real article-like content.
var semanticSelectors = []string{
	"article", "main", "[role=main]", "h1",
	`meta[property="og:title"]`, `script[type="application/ld+json"]`,
	"[itemtype]", "time[datetime]",
}

// Phrases that identify challenge pages and unrendered loading shells.
var incompleteMarkers = []string{
	"just a moment",
	"checking your browser",
	"verifying you are human",
	"enable javascript and cookies",
	"please enable javascript",
	"javascript is required",
	"browser is not supported",
	"access denied",
	"are you a robot",
	"captcha",
	"loading...",
	"please wait",
}

// CountSemanticMarkers counts semantic content signals in a document.
func CountSemanticMarkers(doc *goquery.Document) int {
	count := 0
	for _, sel := range semanticSelectors {
		if doc.Find(sel).Length() > 0 {
			count++
		}
	}
	return count
}

// CountSemanticMarkersHTML parses and counts; zero on unparseable input.
func CountSemanticMarkersHTML(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	return CountSemanticMarkers(doc)
}

// FindIncompleteMarker returns the first challenge/loading marker found in
// the text, or empty when the content looks complete.
func FindIncompleteMarker(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range incompleteMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}
