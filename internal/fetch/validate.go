// internal/fetch/validate.go

package fetch

import (
	"fmt"

	"github.com/valpere/FetchPilot/internal/extract"
)

// DefaultMinContentLength is the validation floor when the caller sets none.
const DefaultMinContentLength = 500

// Texts this long are trusted even without semantic markers.
const markerExemptLength = 1000

// Texts below this length are additionally screened for challenge and
// loading-shell markers.
const incompleteCheckLength = 500

// ValidateContent applies the content rules: the length floor, the semantic
// marker requirement, and the incomplete-page screen for short texts.
func ValidateContent(html string, content *extract.Content, minLength int) *ValidationResult {
	if minLength <= 0 {
		minLength = DefaultMinContentLength
	}

	result := &ValidationResult{
		TextLength:      len(content.Text),
		SemanticMarkers: extract.CountSemanticMarkersHTML(html),
	}

	if len(content.Text) < incompleteCheckLength {
		if marker := extract.FindIncompleteMarker(content.Text); marker != "" {
			result.IncompleteHit = marker
			result.Reason = fmt.Sprintf("incomplete content marker: %q", marker)
			return result
		}
	}

	if len(content.Text) < minLength {
		result.Reason = fmt.Sprintf("Content too short: %d < %d", len(content.Text), minLength)
		return result
	}

	if result.SemanticMarkers == 0 && len(content.Text) < markerExemptLength {
		result.Reason = fmt.Sprintf("no semantic markers and only %d chars", len(content.Text))
		return result
	}

	result.Valid = true
	return result
}

// kindForValidation maps a failed validation to its error kind.
func kindForValidation(v *ValidationResult) ErrorKind {
	if v.IncompleteHit != "" {
		return KindTierValidationIncomplete
	}
	return KindTierValidationShort
}
