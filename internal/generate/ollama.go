package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
	"github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when no host is configured
const DefaultOllamaHost = "http://localhost:11434"

// OllamaClient calls the native Ollama generate endpoint
type OllamaClient struct {
	client  *api.Client
	host    string
	model   string
	format  json.RawMessage
	timeout time.Duration
}

var (
	_ Client       = (*OllamaClient)(nil)
	_ ModelChecker = (*OllamaClient)(nil)
)

// NewOllamaClient creates a client for host. format may be nil for free-form output.
func NewOllamaClient(host, model string, format json.RawMessage, timeout time.Duration) (*OllamaClient, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}

	return &OllamaClient{
		client:  api.NewClient(base, http.DefaultClient),
		host:    host,
		model:   model,
		format:  format,
		timeout: timeout,
	}, nil
}

// Model returns the configured model name
func (c *OllamaClient) Model() string {
	return c.model
}

// Host returns the server URL
func (c *OllamaClient) Host() string {
	return c.host
}

// Generate sends a non-streaming generate request
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	stream := false
	req := &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: &stream,
		Format: c.format,
		Options: map[string]any{
			"seed":        opts.Seed,
			"temperature": opts.Temperature,
		},
	}

	var resp api.GenerateResponse
	err := c.client.Generate(ctx, req, func(r api.GenerateResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return &Result{
		Text: resp.Response,
		Metrics: domain.Metrics{
			TotalDurationNs:      resp.TotalDuration.Nanoseconds(),
			LoadDurationNs:       resp.LoadDuration.Nanoseconds(),
			PromptEvalDurationNs: resp.PromptEvalDuration.Nanoseconds(),
			EvalDurationNs:       resp.EvalDuration.Nanoseconds(),
		},
	}, nil
}

// CheckModel reports whether the configured model is pulled on the server
func (c *OllamaClient) CheckModel(ctx context.Context) (bool, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return false, classify(err)
	}
	for _, m := range resp.Models {
		if m.Name == c.model || m.Model == c.model {
			return true, nil
		}
	}
	return false, nil
}
