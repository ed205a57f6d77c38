// Package extract turns raw HTML into the content shape the engine returns:
// title, plain text, markdown, and any structured data embedded in the page.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content is the extracted form of one page.
type Content struct {
	Title      string                 `json:"title"`
	Text       string                 `json:"text"`
	Markdown   string                 `json:"markdown"`
	Structured map[string]interface{} `json:"structured,omitempty"`
}

// Elements stripped before text extraction.
var strippedSelectors = []string{
	"script", "style", "noscript", "template", "svg",
	"nav", "header", "footer", "aside", "form",
}

// FromHTML extracts content from an HTML document.
func FromHTML(html string) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return FromDocument(doc), nil
}

// FromDocument extracts content from a parsed document.
func FromDocument(doc *goquery.Document) *Content {
	content := &Content{
		Title:      extractTitle(doc),
		Structured: extractStructured(doc),
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	cleaned := body.Clone()
	for _, sel := range strippedSelectors {
		cleaned.Find(sel).Remove()
	}

	// Prefer the semantic main region when one exists.
	root := cleaned
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if region := cleaned.Find(sel).First(); region.Length() > 0 {
			root = region
			break
		}
	}

	content.Text = normalizeWhitespace(root.Text())
	content.Markdown = renderMarkdown(content.Title, root)
	return content
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// extractStructured collects JSON-LD blocks and OpenGraph properties.
func extractStructured(doc *goquery.Document) map[string]interface{} {
	structured := make(map[string]interface{})

	var jsonLD []interface{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var decoded interface{}
		if err := json.Unmarshal([]byte(s.Text()), &decoded); err == nil {
			jsonLD = append(jsonLD, decoded)
		}
	})
	if len(jsonLD) > 0 {
		structured["jsonld"] = jsonLD
	}

	og := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		if content, ok := s.Attr("content"); ok {
			og[strings.TrimPrefix(prop, "og:")] = content
		}
	})
	if len(og) > 0 {
		structured["opengraph"] = og
	}

	if len(structured) == 0 {
		return nil
	}
	return structured
}

// renderMarkdown walks block elements into a flat markdown rendition. It is a
// readable approximation, not a faithful DOM serialisation.
func renderMarkdown(title string, root *goquery.Selection) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}

	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := normalizeWhitespace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3":
			b.WriteString("### " + text + "\n\n")
		case "h4", "h5", "h6":
			b.WriteString("#### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		case "pre":
			b.WriteString("```\n" + s.Text() + "\n```\n\n")
		case "blockquote":
			b.WriteString("> " + text + "\n\n")
		default:
			// Paragraphs inside list items or quotes were already rendered.
			if s.ParentsFiltered("li, blockquote").Length() == 0 {
				b.WriteString(text + "\n\n")
			}
		}
	})

	return strings.TrimSpace(b.String())
}

// normalizeWhitespace collapses runs of whitespace to single spaces and trims.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
