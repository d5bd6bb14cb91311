package classifier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/feedback-insights/internal/ai"
	"github.com/iago/feedback-insights/internal/cache"
	"github.com/iago/feedback-insights/internal/domain"
)

type stubGenerator struct {
	mu        sync.Mutex
	available bool
	requests  []ai.GenerateRequest
	respond   func(request ai.GenerateRequest) (ai.GenerateResult, error)
}

func (s *stubGenerator) Available() bool {
	return s.available
}

func (s *stubGenerator) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()
	return s.respond(request)
}

func (s *stubGenerator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

var countPattern = regexp.MustCompile(`Return exactly (\d+) objects`)

// labelEverything answers with one positive delivery label per prompt line.
func labelEverything(request ai.GenerateRequest) (ai.GenerateResult, error) {
	if !request.JSONObject {
		return ai.GenerateResult{}, errors.New("request does not ask for a JSON object")
	}
	match := countPattern.FindStringSubmatch(request.Input)
	if match == nil {
		return ai.GenerateResult{}, errors.New("prompt without count")
	}
	count, _ := strconv.Atoi(match[1])
	entries := make([]string, count)
	for i := range entries {
		entries[i] = `{"sentiment":"positive","topic":"delivery","intent":"praise","requires_validation":false}`
	}
	return ai.GenerateResult{Text: `{"labels":[` + strings.Join(entries, ",") + "]}", ModelID: request.Model}, nil
}

func makeRecords(n int) []domain.Record {
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{
			ID:        domain.MessageID("job-1", i),
			JobID:     "job-1",
			ClientID:  "client-1",
			Text:      fmt.Sprintf("Package %d arrived on time", i),
			Channel:   "email",
			Timestamp: time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
		}
	}
	return records
}

func TestClassifyMessagesBatchesRequests(t *testing.T) {
	generator := &stubGenerator{available: true, respond: labelEverything}
	classifier := New(Dependencies{Client: generator, BatchSize: 50})

	messages := classifier.ClassifyMessages(context.Background(), makeRecords(120))
	if len(messages) != 120 {
		t.Fatalf("expected 120 messages, got %d", len(messages))
	}
	if got := generator.calls(); got != 3 {
		t.Fatalf("expected 3 upstream calls for 120 records, got %d", got)
	}
	for i, message := range messages {
		if message.ID != domain.MessageID("job-1", i) {
			t.Fatalf("message %d out of order", i)
		}
		if message.Source != domain.ClassifiedByAI || message.RequiresValidation {
			t.Fatalf("expected verified AI label at %d, got %+v", i, message.Classification)
		}
	}
}

func TestClassifyMessagesFallsBackWhenProviderFails(t *testing.T) {
	generator := &stubGenerator{
		available: true,
		respond: func(ai.GenerateRequest) (ai.GenerateResult, error) {
			return ai.GenerateResult{}, errors.New("openrouter status 503: unavailable")
		},
	}
	classifier := New(Dependencies{Client: generator, BatchSize: 50})

	messages := classifier.ClassifyMessages(context.Background(), makeRecords(75))
	if len(messages) != 75 {
		t.Fatalf("expected one message per record, got %d", len(messages))
	}
	for _, message := range messages {
		if !message.RequiresValidation {
			t.Fatalf("fallback label must require validation: %+v", message.Classification)
		}
		if message.Source != domain.ClassifiedByFallback {
			t.Fatalf("expected fallback source, got %q", message.Source)
		}
	}
	// Two batches, primary and fallback model each.
	if got := generator.calls(); got != 4 {
		t.Fatalf("expected 4 upstream calls, got %d", got)
	}
}

func TestClassifyMessagesWithoutProviderUsesKeywords(t *testing.T) {
	classifier := New(Dependencies{})
	records := []domain.Record{
		{Text: "Great service", Channel: "email"},
		{Text: "Great service", Channel: "chat"},
		{Text: "Late delivery", Channel: "email"},
	}

	messages := classifier.ClassifyMessages(context.Background(), records)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i := 0; i < 2; i++ {
		if messages[i].Sentiment != domain.SentimentPositive {
			t.Fatalf("expected positive sentiment for %q, got %q", messages[i].Text, messages[i].Sentiment)
		}
		if messages[i].Topic != domain.TopicCustomerService {
			t.Fatalf("expected customer_service topic, got %q", messages[i].Topic)
		}
	}
	if messages[2].Sentiment != domain.SentimentNegative || messages[2].Topic != domain.TopicDelivery {
		t.Fatalf("unexpected label for late delivery: %+v", messages[2].Classification)
	}
	if messages[2].Intent != domain.IntentComplaint {
		t.Fatalf("expected complaint intent, got %q", messages[2].Intent)
	}
}

func TestClassifyMessagesDefaultsMissingEntries(t *testing.T) {
	generator := &stubGenerator{
		available: true,
		respond: func(ai.GenerateRequest) (ai.GenerateResult, error) {
			return ai.GenerateResult{Text: `[{"sentiment":"negative","topic":"billing","intent":"complaint","requires_validation":false}]`}, nil
		},
	}
	classifier := New(Dependencies{Client: generator})

	messages := classifier.ClassifyMessages(context.Background(), makeRecords(3))
	if messages[0].Sentiment != domain.SentimentNegative || messages[0].Topic != domain.TopicBilling {
		t.Fatalf("expected first label to be kept, got %+v", messages[0].Classification)
	}
	if !messages[0].RequiresValidation {
		t.Fatalf("expected mismatched batch to require validation")
	}
	for _, message := range messages[1:] {
		want := domain.DefaultClassification()
		if message.Classification != want {
			t.Fatalf("expected default label, got %+v", message.Classification)
		}
	}
}

func TestClassifyMessagesParsesFencedOutputAndNormalizes(t *testing.T) {
	generator := &stubGenerator{
		available: true,
		respond: func(ai.GenerateRequest) (ai.GenerateResult, error) {
			return ai.GenerateResult{Text: "```json\n[" +
				`{"sentiment":"Positive","topic":"Customer Service","intent":"praise","requires_validation":false},` +
				`{"sentiment":"angry","topic":"weather","intent":"rant","requires_validation":false}` +
				"]\n```"}, nil
		},
	}
	classifier := New(Dependencies{Client: generator})

	messages := classifier.ClassifyMessages(context.Background(), makeRecords(2))
	if messages[0].Topic != domain.TopicCustomerService || messages[0].Sentiment != domain.SentimentPositive {
		t.Fatalf("expected normalized label, got %+v", messages[0].Classification)
	}
	if messages[0].RequiresValidation {
		t.Fatalf("expected clean label not to require validation")
	}
	second := messages[1]
	if second.Sentiment != domain.SentimentNeutral || second.Topic != domain.TopicOther || second.Intent != domain.IntentInquiry {
		t.Fatalf("expected out-of-vocabulary values to default, got %+v", second.Classification)
	}
	if !second.RequiresValidation {
		t.Fatalf("expected out-of-vocabulary label to require validation")
	}
}

func TestClassifyMessagesUsesCacheForRepeatedTexts(t *testing.T) {
	generator := &stubGenerator{available: true, respond: labelEverything}
	classifier := New(Dependencies{
		Client: generator,
		Cache:  cache.NewClassificationCache(cache.Config{}),
	})

	records := makeRecords(4)
	classifier.ClassifyMessages(context.Background(), records)
	messages := classifier.ClassifyMessages(context.Background(), records)

	if got := generator.calls(); got != 1 {
		t.Fatalf("expected second run to be served from cache, got %d calls", got)
	}
	if messages[3].Source != domain.ClassifiedByAI {
		t.Fatalf("expected cached AI label, got %+v", messages[3].Classification)
	}
}

func TestClassifyMessagesMasksPIIInPrompt(t *testing.T) {
	generator := &stubGenerator{available: true, respond: labelEverything}
	classifier := New(Dependencies{Client: generator})

	classifier.ClassifyMessages(context.Background(), []domain.Record{
		{Text: "Write to jane.doe@example.com, the refund never came"},
	})
	if generator.calls() != 1 {
		t.Fatalf("expected one call, got %d", generator.calls())
	}
	if strings.Contains(generator.requests[0].Input, "jane.doe@example.com") {
		t.Fatalf("expected email to be masked in prompt: %s", generator.requests[0].Input)
	}
}

func TestClassifyMessagesFlagsEscalations(t *testing.T) {
	generator := &stubGenerator{available: true, respond: labelEverything}
	classifier := New(Dependencies{Client: generator})

	messages := classifier.ClassifyMessages(context.Background(), []domain.Record{
		{Text: "This is fraud, I am filing a chargeback"},
	})
	if !messages[0].RequiresValidation {
		t.Fatalf("expected escalation terms to require validation")
	}
}

func TestClassifyMessagesDoesNotCacheUnusableEntries(t *testing.T) {
	generator := &stubGenerator{
		available: true,
		respond: func(ai.GenerateRequest) (ai.GenerateResult, error) {
			return ai.GenerateResult{Text: `[null, {}, {"sentiment":"positive","topic":"weather","intent":"praise"}]`}, nil
		},
	}
	labels := cache.NewClassificationCache(cache.Config{})
	classifier := New(Dependencies{Client: generator, Cache: labels})

	records := makeRecords(3)
	messages := classifier.ClassifyMessages(context.Background(), records)
	for i, message := range messages {
		if message.Source != domain.ClassifiedByDefault || !message.RequiresValidation {
			t.Fatalf("entry %d: expected default label flagged for validation, got %+v", i, message.Classification)
		}
	}
	if got := labels.Len(); got != 0 {
		t.Fatalf("expected nothing cached, got %d entries", got)
	}

	classifier.ClassifyMessages(context.Background(), records)
	if got := generator.calls(); got != 2 {
		t.Fatalf("expected provider to be asked again, got %d calls", got)
	}
}
