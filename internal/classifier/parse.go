package classifier

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/iago/feedback-insights/internal/domain"
)

type modelLabel struct {
	Sentiment          string `json:"sentiment"`
	Topic              string `json:"topic"`
	Intent             string `json:"intent"`
	RequiresValidation *bool  `json:"requires_validation"`
}

// parseLabels decodes a positional JSON array of labels. The result always has
// exactly count entries; positions the model did not cover get the default
// label. The returned error describes why the output was not fully usable.
func parseLabels(text string, count int) ([]domain.Classification, error) {
	labels := make([]domain.Classification, count)
	for i := range labels {
		labels[i] = domain.DefaultClassification()
	}

	rawArray, err := extractJSONArray(text)
	if err != nil {
		return labels, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawArray, &entries); err != nil {
		return labels, err
	}

	var parseErr error
	if len(entries) != count {
		parseErr = errors.New("model returned a different number of labels")
	}

	for i := 0; i < count && i < len(entries); i++ {
		var label modelLabel
		if err := json.Unmarshal(entries[i], &label); err != nil {
			continue
		}
		labels[i] = normalizeLabel(label)
		if parseErr != nil {
			// Alignment is unreliable once the lengths disagree.
			labels[i].RequiresValidation = true
		}
	}
	return labels, parseErr
}

func normalizeLabel(label modelLabel) domain.Classification {
	sentiment, sentimentOK := domain.NormalizeSentiment(label.Sentiment)
	topic, topicOK := domain.NormalizeTopic(label.Topic)
	intent, intentOK := domain.NormalizeIntent(label.Intent)

	// A label with any field outside the vocabulary (null or {} included) is
	// not a model verdict and must never reach the cache.
	if !sentimentOK || !topicOK || !intentOK {
		return domain.Classification{
			Sentiment:          sentiment,
			Topic:              topic,
			Intent:             intent,
			RequiresValidation: true,
			Source:             domain.ClassifiedByDefault,
		}
	}

	return domain.Classification{
		Sentiment:          sentiment,
		Topic:              topic,
		Intent:             intent,
		RequiresValidation: label.RequiresValidation == nil || *label.RequiresValidation,
		Source:             domain.ClassifiedByAI,
	}
}

func extractJSONArray(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded []any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil {
		for _, key := range []string{"labels", "results", "classifications", "items"} {
			if inner, ok := wrapped[key]; ok {
				if err := json.Unmarshal(inner, &decoded); err == nil {
					return inner, nil
				}
			}
		}
	}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not a JSON array")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
