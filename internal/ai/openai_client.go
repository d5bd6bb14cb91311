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

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient talks to the OpenAI responses API.
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	timeout      time.Duration
	maxRetries   int
	httpClient   *http.Client
	organization string
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
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

	return &OpenAIClient{
		apiKey:       strings.TrimSpace(config.APIKey),
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		timeout:      config.Timeout,
		maxRetries:   config.MaxRetries,
		httpClient:   config.HTTPClient,
		organization: strings.TrimSpace(config.Organization),
	}
}

func (c *OpenAIClient) Available() bool {
	return c.apiKey != ""
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	payload := map[string]any{
		"model":             request.Model,
		"input":             request.Input,
		"instructions":      request.Instructions,
		"temperature":       request.Temperature,
		"max_output_tokens": request.MaxOutputTokens,
	}
	if request.JSONObject {
		payload["text"] = map[string]any{
			"format": map[string]string{"type": "json_object"},
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal openai payload: %w", err)
	}

	return callWithRetry(ctx, "openai", c.maxRetries, func(ctx context.Context) (GenerateResult, error) {
		return c.callResponsesAPI(ctx, encoded, request.Model)
	})
}

func (c *OpenAIClient) callResponsesAPI(
	ctx context.Context,
	payload []byte,
	requestedModel string,
) (GenerateResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create openai request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.organization != "" {
		httpRequest.Header.Set("OpenAI-Organization", c.organization)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return GenerateResult{}, fmt.Errorf("openai timeout: %w", err)
		}
		return GenerateResult{}, fmt.Errorf("openai transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("read openai body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return GenerateResult{}, newProviderHTTPError("openai", httpResponse.StatusCode, body)
	}

	var raw responsesAPIResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode openai response: %w", err)
	}

	text := extractResponseText(raw)
	if strings.TrimSpace(text) == "" {
		return GenerateResult{}, errors.New("openai response without text output")
	}

	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(raw.Model, requestedModel),
		Usage: TokenUsage{
			InputTokens:  raw.Usage.InputTokens,
			OutputTokens: raw.Usage.OutputTokens,
			TotalTokens:  raw.Usage.TotalTokens,
		},
	}, nil
}

type responsesAPIResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func extractResponseText(response responsesAPIResponse) string {
	if strings.TrimSpace(response.OutputText) != "" {
		return strings.TrimSpace(response.OutputText)
	}

	fragments := make([]string, 0)
	for _, output := range response.Output {
		for _, content := range output.Content {
			if content.Type != "output_text" && content.Type != "text" {
				continue
			}
			if strings.TrimSpace(content.Text) == "" {
				continue
			}
			fragments = append(fragments, strings.TrimSpace(content.Text))
		}
	}

	return strings.TrimSpace(strings.Join(fragments, "\n"))
}
