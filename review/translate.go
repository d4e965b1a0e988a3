package review

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prreview/ollama-review/ollama"
)

// Translator translates review text with its own model, acquired and released
// around the call.
type Translator struct {
	generator Generator
	models    ModelManager
	prompts   *PromptBuilder
	terms     []string
	logger    *slog.Logger
}

// NewTranslator creates a Translator.
func NewTranslator(generator Generator, models ModelManager, prompts *PromptBuilder, terms []string, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		generator: generator,
		models:    models,
		prompts:   prompts,
		terms:     terms,
		logger:    logger,
	}
}

// Translate returns text translated into language by model.
func (t *Translator) Translate(ctx context.Context, text, language, model string) (string, error) {
	t.logger.Info("translating review", "language", language, "model", model)

	defer t.models.Cleanup(ctx, model)

	if err := t.models.Prepare(ctx, model); err != nil {
		return "", err
	}

	prompt := t.prompts.BuildTranslation(text, language, t.terms)
	t.logger.Debug("translation prompt", "prompt", prompt)

	result, err := t.generator.Generate(ctx, &ollama.GenerateRequest{
		Model:  model,
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate translation: %w", err)
	}

	t.logger.Debug("raw translation response", "response", string(result.Raw))
	return result.Text(), nil
}
