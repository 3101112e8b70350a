// Package embed turns message text into vectors via OpenAI-compatible
// /v1/embeddings endpoints.
//
// Supported providers:
// - ollama: http://localhost:11434/v1/embeddings
// - openai: https://api.openai.com/v1/embeddings
// - openrouter: https://openrouter.ai/api/v1/embeddings
// - custom: endpoint from GROUPMIND_EMBED_ENDPOINT
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxInputRunes bounds what is sent to the provider. Group messages are
// short; anything longer is truncated, not split.
const maxInputRunes = 3000

// Config holds embedding provider settings.
type Config struct {
	Provider    string // "ollama", "openai", "openrouter", "custom"
	Model       string
	Endpoint    string
	APIKey      string
	MaxRetries  int // default 3
	TimeoutSecs int // per-request, default 60

	dimensions int // learned from the first successful call
}

// ParseProviderModel parses "provider/model" into a Config with provider
// defaults applied. Model names may themselves contain slashes
// ("openrouter/sentence-transformers/all-MiniLM-L6-v2").
func ParseProviderModel(spec string) (*Config, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty embedding spec")
	}
	slash := strings.Index(spec, "/")
	if slash <= 0 || slash == len(spec)-1 {
		return nil, fmt.Errorf("invalid embedding spec %q: expected provider/model", spec)
	}

	cfg := &Config{
		Provider:    spec[:slash],
		Model:       spec[slash+1:],
		MaxRetries:  3,
		TimeoutSecs: 60,
	}

	switch cfg.Provider {
	case "ollama":
		cfg.Endpoint = "http://localhost:11434/v1/embeddings"
	case "openai":
		cfg.Endpoint = "https://api.openai.com/v1/embeddings"
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		cfg.Endpoint = "https://openrouter.ai/api/v1/embeddings"
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "custom":
		cfg.Endpoint = os.Getenv("GROUPMIND_EMBED_ENDPOINT")
		cfg.APIKey = os.Getenv("GROUPMIND_EMBED_API_KEY")
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: ollama, openai, openrouter, custom)", cfg.Provider)
	}

	// Explicit env overrides win over provider defaults.
	if endpoint := os.Getenv("GROUPMIND_EMBED_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if key := os.Getenv("GROUPMIND_EMBED_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	return cfg, nil
}

// Resolve picks the embedding config from the explicit spec, then the
// GROUPMIND_EMBED environment variable. Returns (nil, nil) when embedding is
// not configured at all; search then runs lexical-only.
func Resolve(spec string) (*Config, error) {
	if spec != "" {
		return ParseProviderModel(spec)
	}
	if env := os.Getenv("GROUPMIND_EMBED"); env != "" {
		cfg, err := ParseProviderModel(env)
		if err != nil {
			return nil, fmt.Errorf("parsing GROUPMIND_EMBED: %w", err)
		}
		return cfg, nil
	}
	return nil, nil
}

// Validate checks the configuration is complete enough to make requests.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Provider != "ollama" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q", c.Provider)
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// HTTPError is a non-200 provider response.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls an embeddings endpoint with retries.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a client from a validated config.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding config: %w", err)
	}
	return &Client{
		config: *cfg,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second},
	}, nil
}

// ModelTag identifies the configured model for storage alongside vectors.
func (c *Client) ModelTag() string {
	return c.config.Model
}

// Dimensions reports the vector size, 0 before the first successful call.
func (c *Client) Dimensions() int {
	return c.config.dimensions
}

// Embed returns a vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request. Blank texts come back as
// nil vectors at their original positions.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, 0, len(texts))
	indexMap := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		inputs = append(inputs, truncateInput(text))
		indexMap = append(indexMap, i)
	}
	if len(inputs) == 0 {
		return make([][]float32, len(texts)), nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		vecs, err := c.request(ctx, inputs)
		if err == nil {
			result := make([][]float32, len(texts))
			for i, vec := range vecs {
				result[indexMap[i]] = vec
				if c.config.dimensions == 0 && len(vec) > 0 {
					c.config.dimensions = len(vec)
				}
			}
			return result, nil
		}
		lastErr = err
		if attempt == c.config.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) request(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.config.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody), RetryAfter: retryAfter}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(parsed.Data))
	}

	vecs := make([][]float32, len(inputs))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func truncateInput(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	return string(runes[:maxInputRunes])
}
