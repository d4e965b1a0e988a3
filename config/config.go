// Package config handles loading the reviewer configuration from the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
	"github.com/prreview/ollama-review/review"
)

// Environment variables read by Load.
const (
	EnvOllamaURL        = "OLLAMA_API_URL"
	EnvToken            = "MY_GITHUB_TOKEN"
	EnvActionsToken     = "GITHUB_TOKEN"
	EnvGitHubAPIURL     = "GITHUB_API_URL"
	EnvAppID            = "GITHUB_APP_ID"
	EnvInstallationID   = "GITHUB_INSTALLATION_ID"
	EnvPrivateKeyPath   = "GITHUB_PRIVATE_KEY_PATH"
	EnvOwner            = "OWNER"
	EnvRepo             = "REPO"
	EnvPRNumber         = "PR_NUMBER"
	EnvRepository       = "GITHUB_REPOSITORY"
	EnvEventPath        = "GITHUB_EVENT_PATH"
	EnvCustomPrompt     = "CUSTOM_PROMPT"
	EnvLanguage         = "RESPONSE_LANGUAGE"
	EnvModel            = "MODEL"
	EnvTranslationModel = "TRANSLATION_MODEL"
	EnvConfigPath       = "REVIEWER_CONFIG"
	EnvOutputMode       = "OUTPUT_MODE"
	EnvDryRun           = "DRY_RUN"
	EnvLogLevel         = "LOG_LEVEL"
)

const (
	// DefaultOllamaURL is where a local inference server listens.
	DefaultOllamaURL = ollama.DefaultURL
	// DefaultModel reviews the changes unless MODEL is set.
	DefaultModel = "llama3.1:8b"
)

// ConfigParseError indicates a configuration file exists but contains invalid content.
// This is distinct from "file not found" errors, which are reported as-is.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("invalid config at %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// File is the optional YAML configuration.
type File struct {
	// Prompts override the built-in prompt templates. Empty fields keep the default.
	Prompts review.Templates `yaml:"prompts"`
	// LanguageAware adds the response language to the review prompts.
	LanguageAware bool `yaml:"language_aware"`
	// Output is "freeform" or "structured".
	Output string `yaml:"output"`
	// ProtectedTerms are kept untranslated.
	// Example: ["API", "goroutine", "mutex"]
	ProtectedTerms []string  `yaml:"protected_terms,omitempty"`
	Delays         Delays    `yaml:"delays"`
	Retry          Retry     `yaml:"retry"`
	Readiness      Readiness `yaml:"readiness"`
}

// Delays are the settle waits after each model action, e.g. "2s".
type Delays struct {
	PullSettle   time.Duration `yaml:"pull_settle"`
	LoadSettle   time.Duration `yaml:"load_settle"`
	UnloadSettle time.Duration `yaml:"unload_settle"`
}

// Retry bounds retries of transient pull and load failures.
type Retry struct {
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
}

// Readiness configures polling the server for a loaded model instead of
// waiting a fixed delay.
type Readiness struct {
	Poll     bool          `yaml:"poll"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultFile returns the file configuration used when no file is given.
func DefaultFile() File {
	opts := ollama.DefaultOptions()
	return File{
		LanguageAware: true,
		Output:        string(review.OutputFreeform),
		Delays: Delays{
			PullSettle:   opts.PullSettle,
			LoadSettle:   opts.LoadSettle,
			UnloadSettle: opts.UnloadSettle,
		},
		Retry: Retry{
			MaxRetries: opts.MaxRetries,
			Interval:   opts.RetryInterval,
		},
		Readiness: Readiness{
			Timeout:  opts.ReadyTimeout,
			Interval: opts.ReadyInterval,
		},
	}
}

// Parse parses a file configuration from YAML content. Keys that are absent
// keep their default.
func Parse(content []byte) (*File, error) {
	file := DefaultFile()
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &file, nil
}

// LoadFile reads and parses the YAML file at path.
func LoadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	file, err := Parse(content)
	if err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}
	return file, nil
}

// Config is the resolved configuration of one run.
type Config struct {
	OllamaURL string

	// Token authenticates against GitHub. When empty, App credentials are used.
	Token          string
	GitHubAPIURL   string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string

	Owner    string
	Repo     string
	PRNumber int
	// Event is the pull_request payload from GITHUB_EVENT_PATH, if any.
	Event *github.PullRequestEvent

	CustomPrompt     string
	Language         string
	Model            string
	TranslationModel string
	Output           review.OutputMode
	DryRun           bool
	LogLevel         slog.Level

	File File
}

// Load resolves the configuration from getenv and the file REVIEWER_CONFIG
// points at. Precedence is defaults, then file, then environment. Load does
// not validate; call Validate before running a review.
func Load(getenv func(string) string) (*Config, error) {
	env := func(key string) string {
		return strings.TrimSpace(getenv(key))
	}

	c := &Config{
		OllamaURL:        DefaultOllamaURL,
		Language:         review.DefaultLanguage,
		Model:            DefaultModel,
		TranslationModel: review.DefaultTranslationModel,
		LogLevel:         slog.LevelInfo,
		File:             DefaultFile(),
	}

	if path := env(EnvConfigPath); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		c.File = *file
	}
	c.Output = review.OutputMode(strings.ToLower(strings.TrimSpace(c.File.Output)))

	setString(&c.OllamaURL, env(EnvOllamaURL))
	setString(&c.CustomPrompt, getenv(EnvCustomPrompt))
	setString(&c.Language, env(EnvLanguage))
	setString(&c.Model, env(EnvModel))
	setString(&c.TranslationModel, env(EnvTranslationModel))
	setString(&c.GitHubAPIURL, env(EnvGitHubAPIURL))
	if mode := env(EnvOutputMode); mode != "" {
		c.Output = review.OutputMode(strings.ToLower(mode))
	}

	c.Token = env(EnvToken)
	if c.Token == "" {
		c.Token = env(EnvActionsToken)
	}
	c.PrivateKeyPath = env(EnvPrivateKeyPath)

	var err error
	if c.AppID, err = parseInt64(EnvAppID, env(EnvAppID)); err != nil {
		return nil, err
	}
	if c.InstallationID, err = parseInt64(EnvInstallationID, env(EnvInstallationID)); err != nil {
		return nil, err
	}

	if v := env(EnvDryRun); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDryRun, err)
		}
		c.DryRun = dryRun
	}

	if v := env(EnvLogLevel); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
	}

	if err := c.loadTarget(env); err != nil {
		return nil, err
	}

	return c, nil
}

// loadTarget resolves owner, repository and PR number. Explicit variables win
// over the GitHub Actions context.
func (c *Config) loadTarget(env func(string) string) error {
	c.Owner = env(EnvOwner)
	c.Repo = env(EnvRepo)

	if v := env(EnvPRNumber); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPRNumber, err)
		}
		c.PRNumber = n
	}

	if (c.Owner == "" || c.Repo == "") && env(EnvRepository) != "" {
		owner, repo, err := github.SplitRepo(env(EnvRepository))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRepository, err)
		}
		setString(&c.Owner, owner)
		setString(&c.Repo, repo)
	}

	path := env(EnvEventPath)
	if path == "" {
		return nil
	}

	event, err := github.LoadPullRequestEvent(path)
	if err != nil {
		// A push or dispatch event carries no pull request; that only matters
		// when PR_NUMBER is unset.
		if c.PRNumber != 0 {
			return nil
		}
		return err
	}

	c.Event = event
	if c.PRNumber == 0 {
		c.PRNumber = event.Number
	}
	if c.Owner == "" || c.Repo == "" {
		if owner, repo, err := event.OwnerRepo(); err == nil {
			setString(&c.Owner, owner)
			setString(&c.Repo, repo)
		}
	}
	return nil
}

// Validate validates the configuration for a review run.
func (c *Config) Validate() error {
	if _, err := review.ParseOutputMode(string(c.Output)); err != nil {
		return err
	}

	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("repository is required (set %s and %s, or %s)", EnvOwner, EnvRepo, EnvRepository)
	}
	if c.PRNumber <= 0 {
		return fmt.Errorf("invalid pull request number: %d (set %s)", c.PRNumber, EnvPRNumber)
	}
	if c.Model == "" {
		return fmt.Errorf("%s is required", EnvModel)
	}

	if c.Token == "" && !c.HasAppCredentials() {
		return fmt.Errorf("GitHub credentials are required (set %s or %s)", EnvToken, EnvActionsToken)
	}

	d := c.File.Delays
	if d.PullSettle < 0 || d.LoadSettle < 0 || d.UnloadSettle < 0 {
		return errors.New("delays must not be negative")
	}
	if c.File.Retry.MaxRetries < 0 {
		return fmt.Errorf("invalid max_retries value: %d (must not be negative)", c.File.Retry.MaxRetries)
	}
	if c.File.Readiness.Poll && c.File.Readiness.Timeout <= 0 {
		return errors.New("readiness timeout must be positive when polling is enabled")
	}

	return nil
}

// HasAppCredentials reports whether GitHub App authentication is configured.
func (c *Config) HasAppCredentials() bool {
	return c.AppID != 0 && c.InstallationID != 0 && c.PrivateKeyPath != ""
}

// ReviewRequest builds the review request for this run.
func (c *Config) ReviewRequest() *review.ReviewRequest {
	return &review.ReviewRequest{
		Owner:            c.Owner,
		Repo:             c.Repo,
		PRNumber:         c.PRNumber,
		Model:            c.Model,
		CustomPrompt:     c.CustomPrompt,
		Language:         c.Language,
		TranslationModel: c.TranslationModel,
	}
}

// LifecycleOptions returns the model lifecycle tuning from the file.
func (c *Config) LifecycleOptions() ollama.Options {
	return ollama.Options{
		PullSettle:    c.File.Delays.PullSettle,
		LoadSettle:    c.File.Delays.LoadSettle,
		UnloadSettle:  c.File.Delays.UnloadSettle,
		MaxRetries:    c.File.Retry.MaxRetries,
		RetryInterval: c.File.Retry.Interval,
		PollReady:     c.File.Readiness.Poll,
		ReadyTimeout:  c.File.Readiness.Timeout,
		ReadyInterval: c.File.Readiness.Interval,
	}
}

// ReviewerOptions returns the pipeline options.
func (c *Config) ReviewerOptions() review.Options {
	return review.Options{
		Templates:      c.File.Prompts,
		LanguageAware:  c.File.LanguageAware,
		Output:         c.Output,
		ProtectedTerms: c.File.ProtectedTerms,
		DryRun:         c.DryRun,
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseInt64(key, v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
