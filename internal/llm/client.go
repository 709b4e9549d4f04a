// Package llm wraps the language-model capability behind a small interface.
// Every structured response is validated against a JSON schema before it is
// trusted; malformed output is rejected, never guessed at.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rnednur/felix-sub000/internal/config"
	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client is the prompt/response contract the research pipeline depends on.
// Implementations are fallible remote calls with their own timeout.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Model is the langchaingo-backed Client.
type Model struct {
	llm         llms.Model
	modelName   string
	timeout     time.Duration
	maxAttempts int
}

// NewModel creates an LLM client based on configuration.
func NewModel(cfg config.LLMConfig) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI-compatible API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return &Model{
		llm:         model,
		modelName:   cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Complete generates text for a single prompt. Transient transport failures
// are retried with exponential backoff up to the configured attempt cap.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	var response string

	backoff := retry.WithMaxRetries(uint64(m.maxAttempts-1), retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		out, err := llms.GenerateFromSinglePrompt(callCtx, m.llm, prompt, llms.WithTemperature(0.2))
		if err != nil {
			return retry.RetryableError(err)
		}
		response = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm complete: %w", err)
	}
	return response, nil
}

// ModelName returns the configured model identifier.
func (m *Model) ModelName() string {
	return m.modelName
}
