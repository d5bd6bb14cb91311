package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenRouterClientGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found"}`))
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"[{\"sentiment\":\"positive\",\"topic\":\"delivery\",\"intent\":\"praise\"}]"}}],
			"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		AppName:    "Feedback Insights Test",
	})

	result, err := client.Generate(context.Background(), GenerateRequest{
		Model:           "openai/gpt-4.1-mini",
		Instructions:    "Return a JSON array only",
		Input:           "1. Fast delivery",
		MaxOutputTokens: 500,
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text == "" {
		t.Fatalf("expected non-empty text")
	}
	if result.Usage.TotalTokens != 145 {
		t.Fatalf("expected total tokens 145, got %d", result.Usage.TotalTokens)
	}
}

func TestOpenRouterClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"[]"}}],
			"usage":{"prompt_tokens":10,"completion_tokens":10,"total_tokens":20}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	})
	result, err := client.Generate(context.Background(), GenerateRequest{
		Model:           "openai/gpt-4.1-mini",
		Input:           "test",
		MaxOutputTokens: 200,
	})
	if err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if result.Text != "[]" {
		t.Fatalf("unexpected text after retry: %q", result.Text)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestOpenRouterClientDoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Input: "x"})
	var httpErr *providerHTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 provider error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestOpenRouterClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part 1"},{"type":"text","text":"part 2"}]}}],
			"usage":{"prompt_tokens":5,"completion_tokens":5,"total_tokens":10}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	})
	result, err := client.Generate(context.Background(), GenerateRequest{
		Model: "openai/gpt-4.1-mini",
		Input: "test",
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if got := result.Text; got != "part 1\npart 2" {
		t.Fatalf("unexpected parsed text: %q", got)
	}
}

func TestOpenRouterClientUnavailableWithoutKey(t *testing.T) {
	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: ""})
	_, err := client.Generate(context.Background(), GenerateRequest{
		Model: "openai/gpt-4.1-mini",
		Input: "test",
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestOpenRouterClientSendsOptionalHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.com" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"unexpected referer %q"}`, got)))
			return
		}
		if got := r.Header.Get("X-Title"); got != "Feedback Insights" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(fmt.Sprintf(`{"error":"unexpected title %q"}`, got)))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":"[]"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		SiteURL:    "https://example.com",
	})
	_, err := client.Generate(context.Background(), GenerateRequest{
		Model: "openai/gpt-4.1-mini",
		Input: "test",
	})
	if err != nil {
		t.Fatalf("expected success with optional headers, got err=%v", err)
	}
}

func TestOpenRouterClientRequestsJSONObject(t *testing.T) {
	var format map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			ResponseFormat map[string]string `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		format = payload.ResponseFormat
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"labels\":[]}"}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), GenerateRequest{
		Model:      "openai/gpt-4.1-mini",
		Input:      "1. ok",
		JSONObject: true,
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", format)
	}

	format = nil
	if _, err := client.Generate(context.Background(), GenerateRequest{Model: "openai/gpt-4.1-mini", Input: "1. ok"}); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if format != nil {
		t.Fatalf("expected no response format for plain requests, got %v", format)
	}
}
