package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"CatalystPull/pkg/retry"
)

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Retry      retry.Config
}

type OpenAIOption func(*OpenAIConfig)

// WithOpenAIBaseURL points the client at a different API root.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIConfig) { c.BaseURL = url }
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIConfig) {
		if model != "" {
			c.Model = model
		}
	}
}

func WithOpenAIRetry(r retry.Config) OpenAIOption {
	return func(c *OpenAIConfig) { c.Retry = r }
}

// OpenAIProvider calls the OpenAI embeddings API, asking for Dimensions-long vectors.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	cfg := OpenAIConfig{
		Model:      string(openai.SmallEmbedding3),
		Dimensions: Dimensions,
		Retry:      retry.New(retry.WithMaxAttempts(3)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableOpenAI
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Embed returns one vector per text, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := retry.DoWithResult(ctx, p.cfg.Retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      texts,
			Model:      openai.EmbeddingModel(p.cfg.Model),
			Dimensions: p.cfg.Dimensions,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		v := make([]float64, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float64(x)
		}
		out[d.Index] = v
	}
	return out, nil
}

// retryableOpenAI retries rate limits, server errors and transport failures.
func retryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
