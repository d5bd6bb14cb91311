package classifier

import (
	"strings"
	"unicode"

	"github.com/iago/feedback-insights/internal/domain"
)

// Fallback is the deterministic keyword classifier used whenever the model
// provider cannot be reached. Its labels always require validation.
type Fallback struct {
	lexicon Lexicon
}

func NewFallback(lexicon Lexicon) *Fallback {
	return &Fallback{lexicon: lexicon}
}

func (f *Fallback) Classify(text string) domain.Classification {
	normalized := normalizeWords(text)

	score := countHits(normalized, f.lexicon.Positive) - countHits(normalized, f.lexicon.Negative)
	sentiment := domain.SentimentNeutral
	switch {
	case score > 0:
		sentiment = domain.SentimentPositive
	case score < 0:
		sentiment = domain.SentimentNegative
	}

	return domain.Classification{
		Sentiment:          sentiment,
		Topic:              f.topicOf(normalized),
		Intent:             f.intentOf(text, normalized, sentiment),
		RequiresValidation: true,
		Source:             domain.ClassifiedByFallback,
	}
}

func (f *Fallback) topicOf(normalized string) string {
	best := domain.TopicOther
	bestHits := 0
	// Iterate the fixed vocabulary so ties resolve the same way every run.
	for _, topic := range domain.Topics {
		hits := countHits(normalized, f.lexicon.Topics[topic])
		if hits > bestHits {
			best = topic
			bestHits = hits
		}
	}
	return best
}

func (f *Fallback) intentOf(raw, normalized string, sentiment domain.Sentiment) string {
	switch {
	case sentiment == domain.SentimentNegative:
		return domain.IntentComplaint
	case countHits(normalized, f.lexicon.Suggestion) > 0:
		return domain.IntentSuggestion
	case sentiment == domain.SentimentPositive:
		return domain.IntentPraise
	case strings.Contains(raw, "?"):
		return domain.IntentInquiry
	case countHits(normalized, f.lexicon.Request) > 0:
		return domain.IntentRequest
	}
	return domain.IntentInquiry
}

// normalizeWords lowercases text and collapses it into space separated words
// padded with a leading and trailing space for whole-word matching.
func normalizeWords(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(words, " ") + " "
}

func countHits(normalized string, terms []string) int {
	hits := 0
	for _, term := range terms {
		term = strings.TrimSpace(strings.ToLower(term))
		if term == "" {
			continue
		}
		if strings.Contains(normalized, " "+term+" ") {
			hits++
		}
	}
	return hits
}
