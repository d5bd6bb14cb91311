package classifier

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"text/template"

	"github.com/iago/feedback-insights/internal/ai"
	"github.com/iago/feedback-insights/internal/cache"
	"github.com/iago/feedback-insights/internal/domain"
	"github.com/iago/feedback-insights/internal/policy"
	"github.com/iago/feedback-insights/internal/ratelimit"
	"github.com/iago/feedback-insights/internal/telemetry"
)

const DefaultBatchSize = 50

//go:embed prompts/classify.tmpl
var classifyPrompt string

var classifyTemplate = template.Must(template.New("classify").Parse(classifyPrompt))

const instructions = `Return only a valid JSON object of the form {"labels": [...]}. Do not use markdown code fences.`

type Dependencies struct {
	// Client may be nil, in which case every record goes through the fallback.
	Client    ai.TextGenerator
	Router    *ai.ModelRouter
	Pacer     ratelimit.Pacer
	Cache     *cache.ClassificationCache
	Fallback  *Fallback
	BatchSize int
	Logger    *log.Logger
}

// Classifier labels extracted records with sentiment, topic and intent.
type Classifier struct {
	client    ai.TextGenerator
	router    *ai.ModelRouter
	pacer     ratelimit.Pacer
	cache     *cache.ClassificationCache
	fallback  *Fallback
	batchSize int
	logger    *log.Logger
}

func New(deps Dependencies) *Classifier {
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimit.NewLocalPacer(0)
	}
	if deps.Fallback == nil {
		deps.Fallback = NewFallback(DefaultLexicon())
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	return &Classifier{
		client:    deps.Client,
		router:    deps.Router,
		pacer:     deps.Pacer,
		cache:     deps.Cache,
		fallback:  deps.Fallback,
		batchSize: deps.BatchSize,
		logger:    deps.Logger,
	}
}

// ClassifyMessages returns one message per record, in input order. It never
// fails: provider errors degrade to the keyword classifier.
func (c *Classifier) ClassifyMessages(ctx context.Context, records []domain.Record) []domain.Message {
	messages := make([]domain.Message, 0, len(records))
	for start := 0; start < len(records); start += c.batchSize {
		end := start + c.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		labels := c.classifyBatch(ctx, batch)
		for i, record := range batch {
			messages = append(messages, domain.Message{Record: record, Classification: labels[i]})
		}
	}
	return messages
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []domain.Record) []domain.Classification {
	labels := make([]domain.Classification, len(batch))
	if c.client == nil || !c.client.Available() {
		c.applyFallback(batch, labels, allPositions(len(batch)))
		return labels
	}

	profile := c.router.Select(ai.TaskClassification)
	pending := make([]int, 0, len(batch))
	for i, record := range batch {
		if entry, ok := c.cache.Get(cache.BuildSignature(profile.PrimaryModel, record.Text)); ok {
			labels[i] = entry.Classification
			telemetry.ClassifierCache.WithLabelValues("hit").Inc()
			continue
		}
		if c.cache != nil {
			telemetry.ClassifierCache.WithLabelValues("miss").Inc()
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return labels
	}

	if err := c.pacer.Wait(ctx); err != nil {
		c.logf("classifier pacing interrupted size=%d err=%v", len(pending), err)
		c.applyFallback(batch, labels, pending)
		return labels
	}

	prompt, err := renderPrompt(batch, pending)
	if err != nil {
		c.logf("classifier prompt render failed err=%v", err)
		c.applyFallback(batch, labels, pending)
		return labels
	}

	text, modelID, err := c.generateText(ctx, profile, prompt)
	if err != nil {
		c.logf("classifier provider failed size=%d err=%v", len(pending), err)
		c.applyFallback(batch, labels, pending)
		return labels
	}

	parsed, parseErr := parseLabels(text, len(pending))
	if parseErr != nil {
		c.logf("classifier output partially unusable model=%s size=%d err=%v", modelID, len(pending), parseErr)
	}
	for position, index := range pending {
		label := parsed[position]
		if label.Source == domain.ClassifiedByAI {
			label.RequiresValidation = policy.NeedsHumanReview(batch[index].Text, label)
			if parseErr == nil {
				c.cache.Set(cache.BuildSignature(profile.PrimaryModel, batch[index].Text), cache.Entry{
					Classification: label,
					ModelID:        modelID,
				})
			}
		}
		labels[index] = label
	}
	telemetry.ClassifierBatches.WithLabelValues(string(domain.ClassifiedByAI)).Inc()
	return labels
}

func (c *Classifier) applyFallback(batch []domain.Record, labels []domain.Classification, positions []int) {
	for _, index := range positions {
		labels[index] = c.fallback.Classify(batch[index].Text)
	}
	telemetry.ClassifierBatches.WithLabelValues(string(domain.ClassifiedByFallback)).Inc()
}

// generateText tries the primary model and then the fallback model of the profile.
func (c *Classifier) generateText(ctx context.Context, profile ai.ModelProfile, prompt string) (string, string, error) {
	primaryResult, err := c.client.Generate(ctx, ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    instructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONObject:      true,
	})
	if err == nil {
		return primaryResult.Text, firstNonEmpty(primaryResult.ModelID, profile.PrimaryModel), nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel || ctx.Err() != nil {
		return "", "", err
	}

	fallbackResult, fallbackErr := c.client.Generate(ctx, ai.GenerateRequest{
		Model:           profile.FallbackModel,
		Instructions:    instructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONObject:      true,
	})
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return fallbackResult.Text, firstNonEmpty(fallbackResult.ModelID, profile.FallbackModel), nil
}

type promptItem struct {
	Position int
	Channel  string
	Text     string
}

func renderPrompt(batch []domain.Record, pending []int) (string, error) {
	items := make([]promptItem, 0, len(pending))
	for position, index := range pending {
		record := batch[index]
		channel := record.Channel
		if channel == "" {
			channel = domain.DefaultChannel
		}
		items = append(items, promptItem{
			Position: position + 1,
			Channel:  channel,
			Text:     strings.Join(strings.Fields(policy.MaskPIIString(record.Text)), " "),
		})
	}

	buffer := bytes.NewBuffer(nil)
	err := classifyTemplate.Execute(buffer, map[string]any{
		"Sentiments": strings.Join([]string{
			string(domain.SentimentPositive),
			string(domain.SentimentNeutral),
			string(domain.SentimentNegative),
		}, ", "),
		"Topics":  strings.Join(domain.Topics, ", "),
		"Intents": strings.Join(domain.Intents, ", "),
		"Count":   len(items),
		"Items":   items,
	})
	if err != nil {
		return "", fmt.Errorf("execute classify template: %w", err)
	}
	return buffer.String(), nil
}

func allPositions(n int) []int {
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}
	return positions
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (c *Classifier) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
