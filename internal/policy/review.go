package policy

import (
	"strings"

	"github.com/iago/feedback-insights/internal/domain"
)

// escalationTerms mark feedback that always goes to a human regardless of how
// confident the classifier was.
var escalationTerms = []string{
	"lawyer",
	"lawsuit",
	"legal action",
	"chargeback",
	"fraud",
	"scam",
	"stolen",
	"injury",
	"injured",
	"unsafe",
}

// NeedsHumanReview reports whether a classified message must be flagged for
// manual validation.
func NeedsHumanReview(text string, classification domain.Classification) bool {
	if classification.RequiresValidation {
		return true
	}
	if classification.Source != domain.ClassifiedByAI {
		return true
	}
	normalized := strings.ToLower(text)
	for _, term := range escalationTerms {
		if strings.Contains(normalized, term) {
			return true
		}
	}
	return false
}
