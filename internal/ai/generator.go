package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"docqa/internal/config"
)

const defaultTemperature = 0.2

// Generator turns a prompt into text using a langchaingo model.
type Generator struct {
	model       llms.Model
	temperature float64
}

func NewGenerator(model llms.Model) *Generator {
	return &Generator{model: model, temperature: defaultTemperature}
}

// NewModel builds the chat model for the configured backend.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case config.ProviderOpenAI, "":
		model, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init llm failed: %w", err)
	}
	log.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("generation model ready")
	return model, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("llm generate failed: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("llm returned empty content")
	}
	return out, nil
}
