package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient serves hosted providers through langchaingo.
// Hosted APIs report no timing breakdown, so only the total is measured.
type LangChainClient struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

var _ Client = (*LangChainClient)(nil)

// NewLangChainClient creates an OpenAI or Anthropic backed client
func NewLangChainClient(s Settings) (*LangChainClient, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", s.Provider)
	}

	var (
		model llms.Model
		err   error
	)
	switch s.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(s.APIKey), openai.WithModel(s.Model)}
		if s.Host != "" {
			opts = append(opts, openai.WithBaseURL(s.Host))
		}
		model, err = openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(s.APIKey), anthropic.WithModel(s.Model)}
		if s.Host != "" {
			opts = append(opts, anthropic.WithBaseURL(s.Host))
		}
		model, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", s.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", s.Provider, err)
	}

	return &LangChainClient{llm: model, model: s.Model, timeout: s.Timeout}, nil
}

// Model returns the configured model name
func (c *LangChainClient) Model() string {
	return c.model
}

// Generate sends prompt as a single user message
func (c *LangChainClient) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithSeed(opts.Seed),
		llms.WithTemperature(opts.Temperature),
	)
	if err != nil {
		return nil, classify(err)
	}

	return &Result{
		Text:    text,
		Metrics: domain.Metrics{TotalDurationNs: time.Since(start).Nanoseconds()},
	}, nil
}
