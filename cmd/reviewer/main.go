// Package main provides the reviewer CLI: it reviews a pull request with a
// locally hosted model and posts the result as a review comment.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{getenv: os.Getenv, stdout: os.Stdout, stderr: os.Stderr}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		a.logger(slog.LevelInfo).Error("review failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// app carries what the commands share. Tests swap getenv and the writers.
type app struct {
	getenv func(string) string
	stdout io.Writer
	stderr io.Writer
	debug  bool
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewer",
		Short:         "Review pull requests with a local model",
		Long:          "reviewer pulls and loads a model on an Ollama server, reviews the changed files of a pull request and posts the review as a comment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log prompts and raw responses")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.reviewCmd())
	root.AddCommand(a.checkCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print reviewer version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("reviewer version %s\n", version)
		},
	})

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root
}

func (a *app) logger(level slog.Level) *slog.Logger {
	if a.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}
