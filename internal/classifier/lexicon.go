package classifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iago/feedback-insights/internal/domain"
)

// Lexicon is the word list used by the keyword classifier. Terms may be
// single words or short phrases and are matched on whole words.
type Lexicon struct {
	Positive   []string            `yaml:"positive"`
	Negative   []string            `yaml:"negative"`
	Suggestion []string            `yaml:"suggestion"`
	Request    []string            `yaml:"request"`
	Topics     map[string][]string `yaml:"topics"`
}

func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive: []string{
			"great", "excellent", "good", "love", "loved", "amazing", "awesome", "fast", "quick",
			"perfect", "happy", "helpful", "friendly", "thank", "thanks", "recommend", "best", "nice",
		},
		Negative: []string{
			"late", "bad", "terrible", "awful", "broken", "slow", "refund", "poor", "worst",
			"disappointed", "damaged", "rude", "never", "missing", "wrong", "angry", "cancel",
			"delayed", "horrible", "useless", "overpriced",
		},
		Suggestion: []string{
			"should", "please add", "would be nice", "would be great", "suggest", "suggestion",
			"wish", "could you add", "feature request",
		},
		Request: []string{
			"please", "can you", "could you", "i need", "i want", "help me",
		},
		Topics: map[string][]string{
			domain.TopicDelivery: {
				"delivery", "deliver", "delivered", "shipping", "shipment", "shipped", "package",
				"courier", "arrived", "late", "tracking", "delayed",
			},
			domain.TopicProductQuality: {
				"quality", "broken", "damaged", "defective", "product", "item", "material", "works",
			},
			domain.TopicCustomerService: {
				"service", "support", "agent", "staff", "rude", "helpful", "representative", "friendly",
			},
			domain.TopicPricing: {
				"price", "prices", "pricing", "expensive", "cheap", "cost", "discount", "overpriced",
			},
			domain.TopicBilling: {
				"bill", "billing", "invoice", "charge", "charged", "refund", "payment", "subscription",
			},
			domain.TopicUsability: {
				"app", "website", "site", "interface", "login", "checkout", "navigation", "confusing",
				"easy to use",
			},
		},
	}
}

// LoadLexicon reads a YAML lexicon and overlays it on the defaults. Lists
// present in the file replace the default list for that key.
func LoadLexicon(path string) (Lexicon, error) {
	lexicon := DefaultLexicon()
	if strings.TrimSpace(path) == "" {
		return lexicon, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon %s: %w", path, err)
	}

	var override Lexicon
	if err := yaml.Unmarshal(content, &override); err != nil {
		return Lexicon{}, fmt.Errorf("parse lexicon %s: %w", path, err)
	}

	if len(override.Positive) > 0 {
		lexicon.Positive = override.Positive
	}
	if len(override.Negative) > 0 {
		lexicon.Negative = override.Negative
	}
	if len(override.Suggestion) > 0 {
		lexicon.Suggestion = override.Suggestion
	}
	if len(override.Request) > 0 {
		lexicon.Request = override.Request
	}
	for topic, terms := range override.Topics {
		normalized, ok := domain.NormalizeTopic(topic)
		if !ok || normalized == domain.TopicOther {
			return Lexicon{}, fmt.Errorf("parse lexicon %s: unknown topic %q", path, topic)
		}
		lexicon.Topics[normalized] = terms
	}
	return lexicon, nil
}
