package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Supported completion providers
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4"

	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

var (
	// ErrUnknownProvider is returned for an unrecognized provider name
	ErrUnknownProvider = errors.New("unknown completion provider")
	// ErrMissingAPIKey is returned when a provider requires credentials
	ErrMissingAPIKey = errors.New("api key required")
)

// Config selects and configures a completion provider
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// NewCompleter constructs a Completer from configuration
func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return newOllama(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w for provider %s", ErrMissingAPIKey, ProviderOpenAI)
		}
		return newOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// httpStatusError carries a non-200 provider response
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.status, e.body)
}

// transient classifies provider failures: network errors, rate limits
// and server errors are retryable; everything else is fatal
func transient(err error) bool {
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.status == http.StatusTooManyRequests || httpErr.status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry runs fn with exponential backoff, retrying only transient
// failures and honoring context cancellation
func withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !transient(err) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("completion failed after %d retries: %w", maxRetries, lastErr)
}

// postJSON sends a JSON payload and decodes the response into out
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// chatMessage is the wire format shared by both providers
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ollama completes prompts against a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllama(cfg Config) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *Ollama) Provider() string { return ProviderOllama }
func (o *Ollama) Close() error     { return nil }

func (o *Ollama) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		payload := map[string]any{
			"model": o.model,
			"messages": []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			"stream": false,
		}

		var result struct {
			Message chatMessage `json:"message"`
		}
		if err := postJSON(ctx, o.client, o.baseURL+"/api/chat", nil, payload, &result); err != nil {
			return "", err
		}
		return result.Message.Content, nil
	})
}

// OpenAI completes prompts against the OpenAI chat completions API or
// any compatible endpoint
type OpenAI struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func newOpenAI(cfg Config) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAI) Provider() string { return ProviderOpenAI }
func (o *OpenAI) Close() error     { return nil }

func (o *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		payload := map[string]any{
			"model": o.model,
			"messages": []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}

		var result struct {
			Choices []struct {
				Message chatMessage `json:"message"`
			} `json:"choices"`
		}
		headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
		if err := postJSON(ctx, o.client, o.baseURL+"/chat/completions", headers, payload, &result); err != nil {
			return "", err
		}
		if len(result.Choices) == 0 {
			return "", errors.New("completion returned no choices")
		}
		return result.Choices[0].Message.Content, nil
	})
}
