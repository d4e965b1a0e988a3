// Package review generates pull request reviews with a local model and posts them.
package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const defaultSystemPrompt = `You are an experienced software developer and code review expert. When analyzing the provided code, please focus on the following aspects:
1. **Functionality Understanding**: Clearly understand and describe the code's intent and overall functionality.
2. **Readability and Structure**: Evaluate naming conventions, code formatting, modularity, and overall maintainability.
3. **Bug Detection and Exception Handling**: Identify any potential bugs, errors, or inadequate exception handling.
4. **Performance and Security**: Assess the efficiency of the code and highlight any security vulnerabilities.
5. **Refactoring and Improvement Suggestions**: Provide detailed recommendations for refactoring, including alternative approaches or best practices.

Offer a thorough, step-by-step review with clear explanations and, when useful, code examples.`

const defaultUserPrompt = `Focus on functionality, readability, potential bugs, performance, and security. Also, include any suggestions for refactoring or improvements.

`

// Placeholders available in the translation template.
const (
	placeholderLanguage = "{{language}}"
	placeholderTerms    = "{{terms}}"
	placeholderText     = "{{text}}"
)

const defaultTranslationPrompt = `Translate the following code review into {{language}}.

Rules:
- Keep code snippets, code blocks, file names, paths and identifiers exactly as written.
- Keep the markdown structure (headings, lists, bold text) unchanged.
- Do not translate these technical terms: {{terms}}.
- Return only the translated review, without any preface or explanation.

Review:
{{text}}`

// DefaultProtectedTerms are left untranslated.
var DefaultProtectedTerms = []string{
	"API", "HTTP", "JSON", "SQL", "URL",
	"pull request", "commit", "merge", "branch", "diff",
	"refactor", "null", "nil", "callback", "endpoint",
	"timeout", "mutex", "goroutine", "race condition", "Risk Score",
}

// Templates holds the static prompt text. Empty fields fall back to the defaults.
type Templates struct {
	System      string `yaml:"system"`
	User        string `yaml:"user"`
	Translation string `yaml:"translation"`
}

// DefaultTemplates returns the built-in prompts.
func DefaultTemplates() Templates {
	return Templates{
		System:      defaultSystemPrompt,
		User:        defaultUserPrompt,
		Translation: defaultTranslationPrompt,
	}
}

func (t Templates) withDefaults() Templates {
	d := DefaultTemplates()
	if t.System == "" {
		t.System = d.System
	}
	if t.User == "" {
		t.User = d.User
	}
	if t.Translation == "" {
		t.Translation = d.Translation
	}
	return t
}

// PromptInput is the per-request data a prompt is built from.
type PromptInput struct {
	Language     string
	CustomPrompt string
	// OutputInstructions describe the expected response shape, if any.
	OutputInstructions string
	Files              []ChangedFile
}

// PromptBuilder assembles prompts from templates.
type PromptBuilder struct {
	templates     Templates
	languageAware bool
}

// NewPromptBuilder creates a builder. languageAware adds the response
// language to both prompts.
func NewPromptBuilder(templates Templates, languageAware bool) *PromptBuilder {
	return &PromptBuilder{
		templates:     templates.withDefaults(),
		languageAware: languageAware,
	}
}

// Build returns the system and user prompts. All changes are included; the
// inference server decides what to do with input beyond its context window.
func (b *PromptBuilder) Build(in PromptInput) (string, string, error) {
	changes, err := SerializeChanges(in.Files)
	if err != nil {
		return "", "", err
	}

	system := b.templates.System
	if b.languageAware {
		system += fmt.Sprintf("\nYou must provide your review in %s.", in.Language)
	}

	var user strings.Builder
	user.WriteString(b.templates.User)
	user.WriteString(in.CustomPrompt)
	if in.OutputInstructions != "" {
		user.WriteString("\n")
		user.WriteString(in.OutputInstructions)
	}
	if b.languageAware {
		fmt.Fprintf(&user, "\nYou must provide your review in %s \n", in.Language)
	} else {
		user.WriteString("\n")
	}
	user.WriteString("Changes:\n")
	user.WriteString(changes)

	return system, user.String(), nil
}

// BuildTranslation returns the prompt asking for text to be translated into
// language while leaving terms untouched.
func (b *PromptBuilder) BuildTranslation(text, language string, terms []string) string {
	r := strings.NewReplacer(
		placeholderLanguage, language,
		placeholderTerms, strings.Join(terms, ", "),
		placeholderText, text,
	)
	return r.Replace(b.templates.Translation)
}

// SerializeChanges renders files as indented JSON in input order. Non-ASCII
// and HTML characters are kept as-is.
func SerializeChanges(files []ChangedFile) (string, error) {
	if files == nil {
		files = []ChangedFile{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(files); err != nil {
		return "", fmt.Errorf("failed to serialize changes: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
