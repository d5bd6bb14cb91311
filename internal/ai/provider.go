package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrProviderUnavailable is returned when no API key is configured.
var ErrProviderUnavailable = errors.New("ai provider unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	// JSONObject asks the provider to constrain the output to one JSON object.
	JSONObject bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is the request/response contract of an upstream model provider.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

func validateRequest(request GenerateRequest) error {
	if strings.TrimSpace(request.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return errors.New("input is required")
	}
	return nil
}

// callWithRetry retries transient provider errors (429, 5xx, timeouts) with a short
// linear backoff. The per-call timeout is applied by the caller's call function.
func callWithRetry(
	ctx context.Context,
	provider string,
	maxRetries int,
	call func(ctx context.Context) (GenerateResult, error),
) (GenerateResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, callErr := call(ctx)
		if callErr == nil {
			return result, nil
		}
		lastErr = callErr

		if !isRetryableProviderError(callErr) || attempt == maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return GenerateResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("unknown %s error", provider)
	}
	return GenerateResult{}, lastErr
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

type providerHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func newProviderHTTPError(provider string, statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 700 {
		message = message[:700]
	}
	return &providerHTTPError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "tempor")
}
