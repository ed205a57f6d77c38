// internal/knowledge/types_test.go
package knowledge

import (
	"encoding/json"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    int // segment count
		wantErr bool
	}{
		{"data", 1, false},
		{"data.items", 2, false},
		{"data.items[0].title", 4, false},
		{"[2]", 1, false},
		{"", 0, false},
		{"data.items[x]", 0, true},
		{"data.items[1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			segs, err := ParsePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err == nil && len(segs) != tt.want {
				t.Errorf("ParsePath(%q) = %d segments, want %d", tt.path, len(segs), tt.want)
			}
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	paths := []string{"data", "data.items", "data.items[0].title", "results[3]"}
	for _, path := range paths {
		segs, err := ParsePath(path)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", path, err)
		}
		if got := FormatPath(segs); got != path {
			t.Errorf("round trip: %q -> %q", path, got)
		}
	}
}

func TestResolve(t *testing.T) {
	var root interface{}
	doc := `{
		"data": {
			"items": [
				{"title": "first", "views": 10},
				{"title": "second"}
			],
			"total": 2
		}
	}`
	if err := json.Unmarshal([]byte(doc), &root); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"data.items[0].title", "first", true},
		{"data.items[1].title", "second", true},
		{"data.total", float64(2), true},
		{"data.items[5].title", nil, false},
		{"data.missing", nil, false},
		{"data.items.title", nil, false}, // field access on an array
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			segs, err := ParsePath(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			got, found := Resolve(root, segs)
			if found != tt.found {
				t.Fatalf("Resolve(%q) found = %v, want %v", tt.path, found, tt.found)
			}
			if found && got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestContentMappingExtract(t *testing.T) {
	mapping := ContentMapping{TitlePath: "article.headline", BodyPath: "article.body"}
	if err := mapping.Compile(); err != nil {
		t.Fatal(err)
	}

	var root interface{}
	doc := `{"article": {"headline": "Hello", "body": "World"}}`
	if err := json.Unmarshal([]byte(doc), &root); err != nil {
		t.Fatal(err)
	}

	title, body := mapping.Extract(root)
	if title != "Hello" || body != "World" {
		t.Errorf("Extract = (%q, %q), want (Hello, World)", title, body)
	}
}

func TestValidationRule(t *testing.T) {
	rule := ValidationRule{RequiredFields: []string{"id", "title"}}

	var withAll, missing interface{}
	json.Unmarshal([]byte(`{"id": 1, "title": "x", "extra": true}`), &withAll)
	json.Unmarshal([]byte(`{"id": 1}`), &missing)

	if !rule.Validate(withAll) {
		t.Error("document with all required fields should validate")
	}
	if rule.Validate(missing) {
		t.Error("document missing a required field should not validate")
	}
}
