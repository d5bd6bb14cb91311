package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

const (
	TopicDelivery        = "delivery"
	TopicProductQuality  = "product_quality"
	TopicCustomerService = "customer_service"
	TopicPricing         = "pricing"
	TopicBilling         = "billing"
	TopicUsability       = "usability"
	TopicOther           = "other"
)

const (
	IntentComplaint  = "complaint"
	IntentPraise     = "praise"
	IntentInquiry    = "inquiry"
	IntentSuggestion = "suggestion"
	IntentRequest    = "request"
)

// Topics is the bounded topic vocabulary accepted from classifiers.
var Topics = []string{
	TopicDelivery,
	TopicProductQuality,
	TopicCustomerService,
	TopicPricing,
	TopicBilling,
	TopicUsability,
	TopicOther,
}

var Intents = []string{
	IntentComplaint,
	IntentPraise,
	IntentInquiry,
	IntentSuggestion,
	IntentRequest,
}

const DefaultChannel = "unknown"

type ClassificationSource string

const (
	ClassifiedByAI       ClassificationSource = "ai"
	ClassifiedByFallback ClassificationSource = "fallback"
	ClassifiedByDefault  ClassificationSource = "default"
)

// Record is a normalized, extracted record ready for classification.
type Record struct {
	ID        string
	JobID     string
	ClientID  string
	Text      string
	Channel   string
	Timestamp time.Time
}

// Classification holds the labels assigned to one record.
type Classification struct {
	Sentiment          Sentiment            `json:"sentiment"`
	Topic              string               `json:"topic"`
	Intent             string               `json:"intent"`
	RequiresValidation bool                 `json:"requires_validation"`
	Source             ClassificationSource `json:"-"`
}

// DefaultClassification is used for entries a provider response did not cover.
func DefaultClassification() Classification {
	return Classification{
		Sentiment:          SentimentNeutral,
		Topic:              TopicOther,
		Intent:             IntentInquiry,
		RequiresValidation: true,
		Source:             ClassifiedByDefault,
	}
}

// Message is one classified feedback item as persisted.
type Message struct {
	Record
	Classification
}

// MessageID derives the stable id of the record at index within a job, so that
// re-inserting the same record on retry is a no-op.
func MessageID(jobID string, index int) string {
	return uuid.NewSHA1(messageNamespace, []byte(fmt.Sprintf("%s:%d", jobID, index))).String()
}

var messageNamespace = uuid.MustParse("8f6b1f0e-3c1d-5a55-9a57-2f3c8d1e4b70")

func NormalizeSentiment(value string) (Sentiment, bool) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(value))) {
	case SentimentPositive:
		return SentimentPositive, true
	case SentimentNeutral:
		return SentimentNeutral, true
	case SentimentNegative:
		return SentimentNegative, true
	}
	return SentimentNeutral, false
}

func NormalizeTopic(value string) (string, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), " ", "_")
	for _, topic := range Topics {
		if topic == normalized {
			return topic, true
		}
	}
	return TopicOther, false
}

func NormalizeIntent(value string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, intent := range Intents {
		if intent == normalized {
			return intent, true
		}
	}
	return IntentInquiry, false
}
