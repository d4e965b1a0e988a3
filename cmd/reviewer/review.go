package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/prreview/ollama-review/config"
	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
	"github.com/prreview/ollama-review/review"
)

// target is what the review command's positional arguments name.
type target struct {
	endpoint string
	token    string
	owner    string
	repo     string
	prNumber int
}

func parseTarget(args []string) (*target, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("expected 4 arguments, got %d", len(args))
	}

	owner, repo, err := github.SplitRepo(args[2])
	if err != nil {
		return nil, err
	}

	prNumber, err := strconv.Atoi(args[3])
	if err != nil || prNumber <= 0 {
		return nil, fmt.Errorf("invalid pull request number %q", args[3])
	}

	return &target{
		endpoint: args[0],
		token:    args[1],
		owner:    owner,
		repo:     repo,
		prNumber: prNumber,
	}, nil
}

func (a *app) reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <endpoint> <token> <owner/repo> <pr-number>",
		Short: "Print a review without posting it",
		Long: `Review a pull request and print the generated text. Nothing is posted
and no translation runs. MODEL and the config file still apply.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseTarget(args)
			if err != nil {
				return err
			}

			cfg, err := config.Load(a.getenv)
			if err != nil {
				return err
			}
			cfg.OllamaURL = t.endpoint
			cfg.Token = t.token
			cfg.Owner, cfg.Repo, cfg.PRNumber = t.owner, t.repo, t.prNumber

			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := a.logger(cfg.LogLevel)

			hosting, err := github.NewClient(cfg.Token, cfg.GitHubAPIURL, logger)
			if err != nil {
				return err
			}

			client := ollama.NewClient(cfg.OllamaURL, nil, logger)
			manager := ollama.NewManager(client, cfg.LifecycleOptions(), logger)

			reviewer, err := review.NewReviewer(hosting, client, manager, cfg.ReviewerOptions(), logger)
			if err != nil {
				return err
			}

			text, err := reviewer.RequestReview(cmd.Context(), cfg.ReviewRequest())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
