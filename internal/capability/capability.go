// Package capability creates language-model clients from resolved model
// routes.
//
// The factory wraps langchaingo so the rest of the system only sees a
// narrow Client interface. Supported providers are "openai" (and any
// OpenAI-compatible endpoint via BaseURL) and "anthropic".
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flowd/internal/routing"
)

const (
	// Conservative for the common entry-tier provider quota.
	defaultRequestsPerMinute = 50.0
	defaultBurst             = 5
)

// ErrMissingAPIKey indicates no API key was configured for the provider.
var ErrMissingAPIKey = errors.New("capability: api key is required")

// Client is a minimal language-model capability endpoint.
type Client interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Factory constructs clients from model routes.
type Factory interface {
	Create(ctx context.Context, route *routing.ModelRoute) (Client, error)
}

// Config holds provider credentials and endpoints.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider endpoint (OpenAI-compatible
	// gateways, local inference servers).
	BaseURL string

	// RequestsPerMinute throttles outbound generation calls per
	// client. Zero applies the default.
	RequestsPerMinute float64
}

// LLMFactory is the langchaingo-backed Factory.
type LLMFactory struct {
	cfg Config
}

// NewLLMFactory creates a factory with the given provider config.
func NewLLMFactory(cfg Config) *LLMFactory {
	return &LLMFactory{cfg: cfg}
}

// Create builds a client for the route's provider and model. The returned
// client applies the route's token limit on every call.
func (f *LLMFactory) Create(_ context.Context, route *routing.ModelRoute) (Client, error) {
	if route == nil {
		return nil, fmt.Errorf("capability: route is required")
	}
	if f.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, route.Provider)
	}

	var (
		model llms.Model
		err   error
	)
	switch strings.ToLower(route.Provider) {
	case "openai":
		opts := []openai.Option{
			openai.WithModel(route.Model),
			openai.WithToken(f.cfg.APIKey),
		}
		if f.cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(f.cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		model, err = anthropic.New(
			anthropic.WithModel(route.Model),
			anthropic.WithToken(f.cfg.APIKey),
		)
	default:
		return nil, fmt.Errorf("capability: unsupported provider %q (expected openai or anthropic)", route.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("capability: creating %s client: %w", route.Provider, err)
	}

	rpm := f.cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	return &llmClient{
		model:     model,
		maxTokens: route.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(rpm/60.0), defaultBurst),
	}, nil
}

type llmClient struct {
	model     llms.Model
	maxTokens int
	limiter   *rate.Limiter
}

func (c *llmClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("capability: rate limiter: %w", err)
	}
	var opts []llms.CallOption
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt, opts...)
}
