// Package generate talks to the remote text-generation service.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// Errors returned by clients. Every failure wraps exactly one of them.
var (
	ErrTransport = errors.New("generation transport error")
	ErrTimeout   = errors.New("generation timed out")
)

// Provider names accepted by New
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Options are the sampling knobs sent with every request
type Options struct {
	Seed        int
	Temperature float64
}

// DefaultOptions matches the service defaults
func DefaultOptions() Options {
	return Options{Seed: 0, Temperature: 0.8}
}

// Result is the raw model output plus timing
type Result struct {
	Text    string
	Metrics domain.Metrics
}

// Client generates free text for a composed prompt
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Result, error)
	Model() string
}

// ModelChecker is implemented by clients that can list the models the service has
type ModelChecker interface {
	CheckModel(ctx context.Context) (bool, error)
}

// Settings configures New
type Settings struct {
	Provider   string
	Host       string
	Model      string
	APIKey     string
	FormatPath string
	Timeout    time.Duration
}

// New builds the client for s.Provider
func New(s Settings) (Client, error) {
	switch s.Provider {
	case ProviderOllama, "":
		format, err := LoadFormat(s.FormatPath)
		if err != nil {
			return nil, err
		}
		return NewOllamaClient(s.Host, s.Model, format, s.Timeout)
	case ProviderOpenAI, ProviderAnthropic:
		return NewLangChainClient(s)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", s.Provider)
	}
}

// classify wraps err in ErrTimeout or ErrTransport
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// withTimeout bounds a single request when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
