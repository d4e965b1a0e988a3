package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prreview/ollama-review/config"
	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
)

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the inference server and GitHub credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.getenv)
			if err != nil {
				return err
			}
			logger := a.logger(cfg.LogLevel)
			out := cmd.OutOrStdout()

			client := ollama.NewClient(cfg.OllamaURL, nil, logger)
			v, err := client.Version(cmd.Context())
			if err != nil {
				return fmt.Errorf("inference server %s unreachable: %w", client.BaseURL(), err)
			}
			fmt.Fprintf(out, "ollama:  %s (version %s)\n", client.BaseURL(), v)

			switch {
			case cfg.Token != "":
				fmt.Fprintf(out, "github:  token ...%s\n", github.TokenHint(cfg.Token))
			case cfg.HasAppCredentials():
				fmt.Fprintf(out, "github:  app %d, installation %d\n", cfg.AppID, cfg.InstallationID)
			default:
				fmt.Fprintln(out, "github:  no credentials configured")
			}

			fmt.Fprintf(out, "model:   %s\n", cfg.Model)
			fmt.Fprintf(out, "language: %s\n", cfg.Language)
			return nil
		},
	}
}
