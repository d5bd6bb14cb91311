package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	SiteURL    string
	AppName    string
}

// OpenRouterClient talks to the OpenRouter chat completions API.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	siteURL    string
	appName    string
}

func NewOpenRouterClient(config OpenRouterClientConfig) *OpenRouterClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(config.AppName) == "" {
		config.AppName = "Feedback Insights"
	}

	return &OpenRouterClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		httpClient: config.HTTPClient,
		siteURL:    strings.TrimSpace(config.SiteURL),
		appName:    strings.TrimSpace(config.AppName),
	}
}

func (c *OpenRouterClient) Available() bool {
	return c.apiKey != ""
}

func (c *OpenRouterClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(request.Instructions) != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": strings.TrimSpace(request.Instructions),
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": request.Input,
	})

	payload := map[string]any{
		"model":       request.Model,
		"messages":    messages,
		"temperature": request.Temperature,
		"max_tokens":  request.MaxOutputTokens,
	}
	if request.JSONObject {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal openrouter payload: %w", err)
	}

	return callWithRetry(ctx, "openrouter", c.maxRetries, func(ctx context.Context) (GenerateResult, error) {
		return c.callChatCompletionsAPI(ctx, encoded, request.Model)
	})
}

func (c *OpenRouterClient) callChatCompletionsAPI(
	ctx context.Context,
	payload []byte,
	requestedModel string,
) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(
		timeoutCtx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create openrouter request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.siteURL != "" {
		httpRequest.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.appName != "" {
		httpRequest.Header.Set("X-Title", c.appName)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("openrouter timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("openrouter transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read openrouter body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return GenerateResult{}, newProviderHTTPError("openrouter", httpResponse.StatusCode, body)
	}

	var raw chatCompletionsResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode openrouter response: %w", err)
	}

	text := extractChatText(raw)
	if strings.TrimSpace(text) == "" {
		return GenerateResult{}, errors.New("openrouter response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, requestedModel),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.PromptTokens,
			OutputTokens: raw.Usage.CompletionTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

type chatCompletionsResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func extractChatText(response chatCompletionsResponse) string {
	if len(response.Choices) == 0 {
		return ""
	}
	content := response.Choices[0].Message.Content
	switch typed := content.(type) {
	case string:
		return strings.TrimSpace(typed)
	case []any:
		fragments := make([]string, 0, len(typed))
		for _, item := range typed {
			fragment, ok := item.(map[string]any)
			if !ok {
				continue
			}
			textValue, _ := fragment["text"].(string)
			if strings.TrimSpace(textValue) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(textValue))
		}
		return strings.TrimSpace(strings.Join(fragments, "\n"))
	default:
		return ""
	}
}
