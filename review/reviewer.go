package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
)

// HostingClient is the subset of the GitHub client the reviewer uses.
type HostingClient interface {
	FetchPullRequestFiles(ctx context.Context, owner, repo string, prNumber int) ([]github.PullRequestFile, error)
	CreateReview(ctx context.Context, owner, repo string, prNumber int, review *github.ReviewRequest) (*github.Review, error)
}

// ModelManager acquires and releases models on the inference server.
type ModelManager interface {
	Prepare(ctx context.Context, model string) error
	Cleanup(ctx context.Context, model string)
}

// Generator runs a prompt against a loaded model.
type Generator interface {
	Generate(ctx context.Context, req *ollama.GenerateRequest) (*ollama.GenerateResult, error)
}

// Compile-time interface satisfaction checks.
var (
	_ HostingClient = (*github.Client)(nil)
	_ ModelManager  = (*ollama.Manager)(nil)
	_ Generator     = (*ollama.Client)(nil)
)

// Options configures a Reviewer.
type Options struct {
	Templates Templates
	// LanguageAware adds the response language to the review prompts.
	LanguageAware bool
	Output        OutputMode
	// ProtectedTerms are kept untranslated; nil means DefaultProtectedTerms.
	ProtectedTerms []string
	// DryRun skips publishing.
	DryRun bool
}

// Reviewer runs the review pipeline: generate, translate if needed, publish.
type Reviewer struct {
	hosting    HostingClient
	generator  Generator
	models     ModelManager
	prompts    *PromptBuilder
	output     OutputHandler
	translator *Translator
	dryRun     bool
	logger     *slog.Logger
}

// NewReviewer creates a new Reviewer instance.
func NewReviewer(hosting HostingClient, generator Generator, models ModelManager, opts Options, logger *slog.Logger) (*Reviewer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	output, err := NewOutputHandler(opts.Output)
	if err != nil {
		return nil, err
	}

	terms := opts.ProtectedTerms
	if terms == nil {
		terms = DefaultProtectedTerms
	}

	prompts := NewPromptBuilder(opts.Templates, opts.LanguageAware)

	return &Reviewer{
		hosting:    hosting,
		generator:  generator,
		models:     models,
		prompts:    prompts,
		output:     output,
		translator: NewTranslator(generator, models, prompts, terms, logger),
		dryRun:     opts.DryRun,
		logger:     logger,
	}, nil
}

// Run reviews the pull request and posts the result as a single comment. The
// comment is only posted when every earlier stage succeeded.
func (r *Reviewer) Run(ctx context.Context, req *ReviewRequest) (*Result, error) {
	r.logger.Info("starting review",
		"owner", req.Owner,
		"repo", req.Repo,
		"pr", req.PRNumber,
		"model", req.Model,
		"language", req.ResponseLanguage(),
	)

	body, err := r.RequestReview(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result{Body: body}

	if NeedsTranslation(req.Language) {
		model := req.TranslationModel
		if model == "" {
			model = DefaultTranslationModel
		}

		translated, err := r.translator.Translate(ctx, body, req.Language, model)
		if err != nil {
			return nil, fmt.Errorf("failed to translate review: %w", err)
		}
		result.Body = translated
		result.Translated = true
	}

	if r.dryRun {
		r.logger.Info("dry run, review not posted", "size", len(result.Body))
		return result, nil
	}

	review, err := r.Publish(ctx, req, result.Body)
	if err != nil {
		return nil, err
	}

	result.Published = true
	result.ReviewID = review.ID
	result.ReviewURL = review.HTMLURL
	return result, nil
}

// RequestReview generates the review text for a pull request. The model is
// released on every path, including a failed Prepare.
func (r *Reviewer) RequestReview(ctx context.Context, req *ReviewRequest) (string, error) {
	if req.Model == "" {
		return "", errors.New("model name is required")
	}

	defer r.models.Cleanup(ctx, req.Model)

	if err := r.models.Prepare(ctx, req.Model); err != nil {
		return "", err
	}

	files, err := r.hosting.FetchPullRequestFiles(ctx, req.Owner, req.Repo, req.PRNumber)
	if err != nil {
		return "", fmt.Errorf("failed to fetch changed files: %w", err)
	}

	r.logger.Info("fetched changed files", "count", len(files))

	language := req.ResponseLanguage()
	system, user, err := r.prompts.Build(PromptInput{
		Language:           language,
		CustomPrompt:       req.CustomPrompt,
		OutputInstructions: r.output.Instructions(),
		Files:              toChangedFiles(files),
	})
	if err != nil {
		return "", err
	}

	r.logger.Debug("system prompt", "prompt", system)
	r.logger.Debug("user prompt", "prompt", user)

	result, err := r.generator.Generate(ctx, &ollama.GenerateRequest{
		Model:  req.Model,
		System: system,
		Prompt: user,
		Format: r.output.Format(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate review: %w", err)
	}

	r.logger.Debug("raw review response", "response", string(result.Raw))

	text, err := r.output.Handle(result)
	if err != nil {
		return "", err
	}

	r.logger.Info("generated review", "size", len(text))
	return text, nil
}

// Publish posts body as a COMMENT review on the pull request.
func (r *Reviewer) Publish(ctx context.Context, req *ReviewRequest, body string) (*github.Review, error) {
	review, err := r.hosting.CreateReview(ctx, req.Owner, req.Repo, req.PRNumber, &github.ReviewRequest{
		Body:  body,
		Event: github.EventComment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post review: %w", err)
	}

	r.logger.Info("posted review", "review_id", review.ID, "url", review.HTMLURL)
	return review, nil
}

func toChangedFiles(files []github.PullRequestFile) []ChangedFile {
	changes := make([]ChangedFile, 0, len(files))
	for _, f := range files {
		changes = append(changes, ChangedFile{
			Filename: f.Filename,
			Patch:    f.Patch,
			Status:   f.Status,
		})
	}
	return changes
}
