// internal/fetch/validate_test.go
package fetch

import (
	"strings"
	"testing"

	"github.com/valpere/FetchPilot/internal/extract"
)

func contentOf(text string) *extract.Content {
	return &extract.Content{Text: text}
}

func TestValidateContent(t *testing.T) {
	articleHTML := `<html><body><article><h1>T</h1><p>x</p></article></body></html>`
	bareHTML := `<html><body><div>x</div></body></html>`

	tests := []struct {
		name      string
		html      string
		text      string
		minLength int
		wantValid bool
		wantKind  ErrorKind
	}{
		{
			name:      "long text with markers",
			html:      articleHTML,
			text:      strings.Repeat("a", 600),
			wantValid: true,
		},
		{
			name:      "short text fails floor",
			html:      articleHTML,
			text:      strings.Repeat("a", 120),
			wantValid: false,
			wantKind:  KindTierValidationShort,
		},
		{
			name:      "custom floor",
			html:      articleHTML,
			text:      strings.Repeat("a", 120),
			minLength: 100,
			wantValid: true,
		},
		{
			name:      "no markers but very long",
			html:      bareHTML,
			text:      strings.Repeat("a", 1200),
			wantValid: true,
		},
		{
			name:      "no markers and medium length",
			html:      bareHTML,
			text:      strings.Repeat("a", 600),
			wantValid: false,
			wantKind:  KindTierValidationShort,
		},
		{
			name:      "challenge marker in short text",
			html:      bareHTML,
			text:      "Just a moment... checking your browser",
			wantValid: false,
			wantKind:  KindTierValidationIncomplete,
		},
		{
			name:      "loading shell",
			html:      bareHTML,
			text:      "Loading... please wait",
			wantValid: false,
			wantKind:  KindTierValidationIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateContent(tt.html, contentOf(tt.text), tt.minLength)
			if v.Valid != tt.wantValid {
				t.Fatalf("valid = %v (%s), want %v", v.Valid, v.Reason, tt.wantValid)
			}
			if !v.Valid {
				if got := kindForValidation(v); got != tt.wantKind {
					t.Errorf("kind = %v, want %v", got, tt.wantKind)
				}
			}
		})
	}
}

func TestValidateContent_ReportsCounts(t *testing.T) {
	v := ValidateContent(`<html><body><article><h1>x</h1></article></body></html>`,
		contentOf(strings.Repeat("a", 700)), 0)
	if !v.Valid {
		t.Fatalf("unexpected invalid: %s", v.Reason)
	}
	if v.TextLength != 700 {
		t.Errorf("text length = %d", v.TextLength)
	}
	if v.SemanticMarkers < 2 {
		t.Errorf("semantic markers = %d, want at least article+h1", v.SemanticMarkers)
	}
}
