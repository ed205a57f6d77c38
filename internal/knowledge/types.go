// internal/knowledge/types.go

// Package knowledge stores learned API endpoint patterns and paginated-API
// patterns per domain, persisted as versioned JSON snapshots.
package knowledge

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Confidence grades how much evidence backs a learned pattern.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Template types for learned API patterns.
const (
	TemplateRESTResource = "rest-resource"
	TemplateQueryAPI     = "query-api"
	TemplateGraphQL      = "graphql"
)

// PathSegment is one step into a JSON document: either an object field or an
// array index. Content-mapping paths are parsed once by Compile; the
// pagination code parses its paths each time it uses them.
type PathSegment struct {
	Field   string `json:"field,omitempty"`
	Index   int    `json:"index,omitempty"`
	IsIndex bool   `json:"is_index,omitempty"`
}

// ParsePath parses a dotted path with optional array indices, e.g.
// "data.items[0].title", into segments.
func ParsePath(path string) ([]PathSegment, error) {
	if path == "" {
		return nil, nil
	}

	var segs []PathSegment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segs = append(segs, PathSegment{Field: part})
				}
				break
			}
			if open > 0 {
				segs = append(segs, PathSegment{Field: part[:open]})
			}
			end := strings.IndexByte(part, ']')
			if end < open {
				return nil, fmt.Errorf("unbalanced brackets in path %q", path)
			}
			idx, err := strconv.Atoi(part[open+1 : end])
			if err != nil {
				return nil, fmt.Errorf("invalid index in path %q: %w", path, err)
			}
			segs = append(segs, PathSegment{Index: idx, IsIndex: true})
			part = part[end+1:]
			if part == "" {
				break
			}
		}
	}
	return segs, nil
}

// FormatPath renders segments back to the dotted form.
func FormatPath(segs []PathSegment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Field)
	}
	return b.String()
}

// Resolve walks a decoded JSON value along the segments.
func Resolve(root interface{}, segs []PathSegment) (interface{}, bool) {
	current := root
	for _, s := range segs {
		if s.IsIndex {
			arr, ok := current.([]interface{})
			if !ok || s.Index < 0 || s.Index >= len(arr) {
				return nil, false
			}
			current = arr[s.Index]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[s.Field]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ResolveString resolves a path to a string value.
func ResolveString(root interface{}, segs []PathSegment) (string, bool) {
	v, ok := Resolve(root, segs)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ContentMapping describes where in a JSON response the content lives.
type ContentMapping struct {
	TitlePath string `json:"title_path,omitempty"`
	BodyPath  string `json:"body_path,omitempty"`

	titleSegs []PathSegment
	bodySegs  []PathSegment
}

// Compile parses the mapping's paths once for later resolution.
func (m *ContentMapping) Compile() error {
	var err error
	if m.titleSegs, err = ParsePath(m.TitlePath); err != nil {
		return err
	}
	if m.bodySegs, err = ParsePath(m.BodyPath); err != nil {
		return err
	}
	return nil
}

// Extract pulls title and body out of a decoded JSON response.
func (m *ContentMapping) Extract(root interface{}) (title, body string) {
	title, _ = ResolveString(root, m.titleSegs)
	body, _ = ResolveString(root, m.bodySegs)
	return title, body
}

// ValidationRule guards a pattern's responses before they are trusted.
type ValidationRule struct {
	RequiredFields []string `json:"required_fields,omitempty"`
	MinLength      int      `json:"min_length,omitempty"`
}

// Validate checks a decoded JSON response against the rule.
func (r *ValidationRule) Validate(root interface{}) bool {
	obj, ok := root.(map[string]interface{})
	if !ok {
		return len(r.RequiredFields) == 0
	}
	for _, field := range r.RequiredFields {
		if _, ok := obj[field]; !ok {
			return false
		}
	}
	return true
}

// LearnedApiPattern is a template for reaching a site's API directly.
type LearnedApiPattern struct {
	TemplateType     string            `json:"template_type"`
	URLPatterns      []string          `json:"url_patterns,omitempty"`
	EndpointTemplate string            `json:"endpoint_template"`
	Method           string            `json:"method"`
	RequiredHeaders  map[string]string `json:"required_headers,omitempty"`
	ResponseFormat   string            `json:"response_format,omitempty"`
	Mapping          ContentMapping    `json:"content_mapping"`
	Validation       ValidationRule    `json:"validation"`

	Confidence  Confidence `json:"confidence"`
	CanBypass   bool       `json:"can_bypass"`
	Successes   int64      `json:"successes"`
	Failures    int64      `json:"failures"`
	DomainsSeen []string   `json:"domains_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns the pattern's observed success rate, 1.0 when unused.
func (p *LearnedApiPattern) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 1.0
	}
	return float64(p.Successes) / float64(total)
}

// key identifies a pattern for merging.
func (p *LearnedApiPattern) key() string {
	return p.Method + " " + p.EndpointTemplate
}

// confidenceRank orders confidence levels.
func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}
