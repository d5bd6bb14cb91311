package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iago/feedback-insights/internal/domain"
)

func TestFallbackClassify(t *testing.T) {
	fallback := NewFallback(DefaultLexicon())

	cases := []struct {
		text      string
		sentiment domain.Sentiment
		topic     string
		intent    string
	}{
		{"Great service", domain.SentimentPositive, domain.TopicCustomerService, domain.IntentPraise},
		{"Late delivery", domain.SentimentNegative, domain.TopicDelivery, domain.IntentComplaint},
		{"Item arrived broken, I want a refund", domain.SentimentNegative, domain.TopicProductQuality, domain.IntentComplaint},
		{"You should add a dark mode to the app", domain.SentimentNeutral, domain.TopicUsability, domain.IntentSuggestion},
		{"How much is shipping?", domain.SentimentNeutral, domain.TopicDelivery, domain.IntentInquiry},
		{"Can you update my invoice address", domain.SentimentNeutral, domain.TopicBilling, domain.IntentRequest},
		{"ok", domain.SentimentNeutral, domain.TopicOther, domain.IntentInquiry},
	}

	for _, tc := range cases {
		got := fallback.Classify(tc.text)
		if got.Sentiment != tc.sentiment || got.Topic != tc.topic || got.Intent != tc.intent {
			t.Fatalf("classify %q: got %s/%s/%s, want %s/%s/%s",
				tc.text, got.Sentiment, got.Topic, got.Intent, tc.sentiment, tc.topic, tc.intent)
		}
		if !got.RequiresValidation {
			t.Fatalf("classify %q: fallback labels must require validation", tc.text)
		}
	}
}

func TestFallbackMatchesWholeWords(t *testing.T) {
	fallback := NewFallback(DefaultLexicon())
	got := fallback.Classify("I saw it lately in the goodwill store")
	if got.Sentiment != domain.SentimentNeutral {
		t.Fatalf("expected partial words not to score, got %s", got.Sentiment)
	}
}

func TestLoadLexiconOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	content := []byte("positive:\n  - brilliant\ntopics:\n  customer service:\n    - concierge\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}

	lexicon, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("load lexicon: %v", err)
	}
	fallback := NewFallback(lexicon)

	got := fallback.Classify("Brilliant concierge")
	if got.Sentiment != domain.SentimentPositive || got.Topic != domain.TopicCustomerService {
		t.Fatalf("expected overlay terms to apply, got %+v", got)
	}
	if len(lexicon.Negative) == 0 {
		t.Fatalf("expected default negative terms to be kept")
	}
}

func TestLoadLexiconRejectsUnknownTopic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	if err := os.WriteFile(path, []byte("topics:\n  weather:\n    - rain\n"), 0o600); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}
	if _, err := LoadLexicon(path); err == nil {
		t.Fatalf("expected unknown topic to be rejected")
	}
}
