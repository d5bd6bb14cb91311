package ai

import "strings"

type TaskKind string

const (
	TaskClassification TaskKind = "classification"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	ClassificationPrimary  string
	ClassificationFallback string
	// MaxOutputTokens caps one batch response; a batch of 50 labels fits well below 4k.
	MaxOutputTokens int
}

// ModelRouter picks the model pair used for a task.
type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.ClassificationPrimary) == "" {
		config.ClassificationPrimary = "openai/gpt-4.1-mini"
	}
	if strings.TrimSpace(config.ClassificationFallback) == "" {
		config.ClassificationFallback = "openai/gpt-4.1-nano"
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 4000
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskClassification:
		return ModelProfile{
			PrimaryModel:    r.config.ClassificationPrimary,
			FallbackModel:   r.config.ClassificationFallback,
			Temperature:     0,
			MaxOutputTokens: r.config.MaxOutputTokens,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.ClassificationPrimary,
			FallbackModel:   r.config.ClassificationFallback,
			Temperature:     0.2,
			MaxOutputTokens: r.config.MaxOutputTokens,
		}
	}
}
