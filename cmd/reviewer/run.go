package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/prreview/ollama-review/config"
	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
	"github.com/prreview/ollama-review/review"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Review the pull request described by the environment",
		Long: `Review the pull request named by OWNER, REPO and PR_NUMBER, or by the
GitHub Actions context, and post the review as a comment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.getenv)
			if err != nil {
				return err
			}
			logger := a.logger(cfg.LogLevel)

			if cfg.Event != nil && !cfg.Event.ShouldProcess() {
				logger.Info("skipping event", "action", cfg.Event.Action, "pr", cfg.PRNumber)
				return nil
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			hosting, err := newHostingClient(cfg, logger)
			if err != nil {
				return err
			}

			client := ollama.NewClient(cfg.OllamaURL, nil, logger)
			manager := ollama.NewManager(client, cfg.LifecycleOptions(), logger)

			reviewer, err := review.NewReviewer(hosting, client, manager, cfg.ReviewerOptions(), logger)
			if err != nil {
				return err
			}

			result, err := reviewer.Run(cmd.Context(), cfg.ReviewRequest())
			if err != nil {
				return err
			}

			if !result.Published {
				fmt.Fprintln(cmd.OutOrStdout(), result.Body)
				return nil
			}

			logger.Info("review complete", "url", result.ReviewURL, "translated", result.Translated)
			return nil
		},
	}
}

// newHostingClient authenticates with the token when one is set and falls
// back to GitHub App credentials.
func newHostingClient(cfg *config.Config, logger *slog.Logger) (*github.Client, error) {
	if cfg.Token != "" {
		logger.Debug("using token authentication", "token_hint", github.TokenHint(cfg.Token))
		return github.NewClient(cfg.Token, cfg.GitHubAPIURL, logger)
	}

	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.PrivateKeyPath, err)
	}

	logger.Debug("using GitHub App authentication", "app_id", cfg.AppID, "installation_id", cfg.InstallationID)
	return github.NewAppClient(cfg.AppID, cfg.InstallationID, privateKey, cfg.GitHubAPIURL, logger)
}
