package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prreview/ollama-review/ollama"
)

// OutputMode selects how the model's reply becomes review text.
type OutputMode string

const (
	// OutputFreeform uses the generated text as the review.
	OutputFreeform OutputMode = "freeform"
	// OutputStructured constrains the reply to ReviewSchema and renders it.
	OutputStructured OutputMode = "structured"
)

// ParseOutputMode parses a mode name; empty means freeform.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputFreeform:
		return OutputFreeform, nil
	case OutputStructured:
		return OutputStructured, nil
	default:
		return "", fmt.Errorf("invalid output mode %q (must be 'freeform' or 'structured')", s)
	}
}

// OutputHandler shapes the generate request and interprets its result.
type OutputHandler interface {
	// Format is sent as the generate format; nil sends none.
	Format() json.RawMessage
	// Instructions are appended to the user prompt.
	Instructions() string
	// Handle turns the generate result into review markdown.
	Handle(result *ollama.GenerateResult) (string, error)
}

// NewOutputHandler returns the handler for mode.
func NewOutputHandler(mode OutputMode) (OutputHandler, error) {
	switch mode {
	case "", OutputFreeform:
		return freeformOutput{}, nil
	case OutputStructured:
		return structuredOutput{}, nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}
}

type freeformOutput struct{}

func (freeformOutput) Format() json.RawMessage { return nil }

func (freeformOutput) Instructions() string { return "" }

func (freeformOutput) Handle(result *ollama.GenerateResult) (string, error) {
	return result.Text(), nil
}

type structuredOutput struct{}

func (structuredOutput) Format() json.RawMessage { return json.RawMessage(ReviewSchema) }

func (structuredOutput) Instructions() string { return structuredInstructions }

func (structuredOutput) Handle(result *ollama.GenerateResult) (string, error) {
	if !result.HasResponse {
		return "", &ParseError{Err: errors.New("response field missing"), Raw: string(result.Raw)}
	}

	parsed, err := ParseResponse(result.Response)
	if err != nil {
		return "", err
	}
	return Render(parsed), nil
}
