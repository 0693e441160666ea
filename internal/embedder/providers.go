package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Provider names
const (
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	// DefaultOllamaModel is a small code-capable embedding model
	DefaultOllamaModel = "nomic-embed-text"
	// DefaultOpenAIModel is OpenAI's small embedding model
	DefaultOpenAIModel = "text-embedding-3-small"

	// LocalDimension matches the reference sentence-transformer model
	LocalDimension  = 384
	OllamaDimension = 768
	OpenAIDimension = 1536
)

// Config selects and configures a provider
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	CacheSize int
}

// New constructs an Embedder from configuration
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch strings.ToLower(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocal(cache), nil
	case ProviderOllama:
		return NewOllama(cfg, cache), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg, cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// transientHTTP classifies provider failures: network errors, timeouts,
// rate limits and server errors are retryable; everything else
// (bad credentials, malformed request) is fatal.
func transientHTTP(err error) bool {
	var httpErr *httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.status == http.StatusTooManyRequests || httpErr.status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// httpStatusError carries a non-200 provider response
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.status, e.body)
}

// Local is a deterministic embedder with no external dependency. It
// derives a vector from the text's hash, which keeps re-runs and tests
// reproducible; it carries no semantic signal.
type Local struct {
	cache *Cache
}

// NewLocal creates the local deterministic embedder
func NewLocal(cache *Cache) *Local {
	return &Local{cache: cache}
}

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if l.cache != nil {
		if vec, ok := l.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vec := make([]float32, LocalDimension)
	sum := sha256.Sum256([]byte(text))
	// Stretch the 32 hash bytes across the vector deterministically
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]^byte(i)) / 255.0
	}

	if l.cache != nil {
		l.cache.Set(hash, vec)
	}
	return vec, nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts", ErrBatchTooLarge, MaxBatchSize)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (l *Local) Dimension() int   { return LocalDimension }
func (l *Local) Provider() string { return ProviderLocal }
func (l *Local) Close() error     { return nil }

// Ollama embeds through a local Ollama server's embeddings endpoint
type Ollama struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewOllama creates an Ollama-backed embedder
func NewOllama(cfg Config, cache *Cache) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = OllamaDimension
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimension:  dim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if o.cache != nil {
		if vec, ok := o.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vec, err := retryWithBackoff(ctx, o.retry, transientHTTP, func() ([]float32, error) {
		return o.callAPI(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	if o.cache != nil {
		o.cache.Set(hash, vec)
	}
	return vec, nil
}

func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts", ErrBatchTooLarge, MaxBatchSize)
	}
	// The embeddings endpoint is single-text; batch sequentially
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *Ollama) callAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{
		"model":  o.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &httpStatusError{status: resp.StatusCode, body: string(raw)}
	}

	var apiResp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(apiResp.Embedding))
	for i, v := range apiResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *Ollama) Dimension() int   { return o.dimension }
func (o *Ollama) Provider() string { return ProviderOllama }

func (o *Ollama) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// OpenAI embeds through the OpenAI embeddings API
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewOpenAI creates an OpenAI-backed embedder
func NewOpenAI(cfg Config, cache *Cache) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder requires an API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = OpenAIDimension
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimension:  dim,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if o.cache != nil {
		if vec, ok := o.cache.Get(hash); ok {
			return vec, nil
		}
	}

	vectors, err := o.embedRemote(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	if o.cache != nil {
		o.cache.Set(hash, vectors[0])
	}
	return vectors[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts", ErrBatchTooLarge, MaxBatchSize)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	// Serve what we can from cache, fetch the rest in one call
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("embedding text %d: %w", i, ErrEmptyText)
		}
		if o.cache != nil {
			if vec, ok := o.cache.Get(ComputeHash(text)); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := o.embedRemote(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missing) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vectors), len(missing))
		}
		for j, vec := range vectors {
			out[missingIdx[j]] = vec
			if o.cache != nil {
				o.cache.Set(ComputeHash(missing[j]), vec)
			}
		}
	}

	return out, nil
}

func (o *OpenAI) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := retryWithBackoff(ctx, o.retry, transientHTTP, func() ([][]float32, error) {
		return o.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return vectors, nil
}

func (o *OpenAI) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": o.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &httpStatusError{status: resp.StatusCode, body: string(raw)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vectors := make([][]float32, len(apiResp.Data))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

func (o *OpenAI) Dimension() int   { return o.dimension }
func (o *OpenAI) Provider() string { return ProviderOpenAI }

func (o *OpenAI) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
