package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// MinRiskScore and MaxRiskScore bound FileReview.RiskScore.
	MinRiskScore = 1
	MaxRiskScore = 5
)

// ReviewSchema is the JSON schema sent as the generate format in structured mode.
const ReviewSchema = `{
  "type": "object",
  "properties": {
    "reviews": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "filename": {"type": "string"},
          "risk_score": {"type": "integer", "minimum": 1, "maximum": 5},
          "feedback": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "title": {"type": "string"},
                "details": {"type": "string"}
              },
              "required": ["title", "details"]
            }
          },
          "commit_id": {"type": "string"}
        },
        "required": ["filename", "risk_score", "feedback", "commit_id"]
      }
    }
  },
  "required": ["reviews"]
}`

// structuredInstructions tell the model what the schema fields mean.
const structuredInstructions = `Respond with JSON only. Return one entry in "reviews" per changed file with:
- "filename": the file path exactly as given in the changes
- "risk_score": an integer from 1 (safe to merge) to 5 (dangerous to merge)
- "feedback": a list of findings, each with a short "title" and markdown "details"
- "commit_id": the commit identifier if known, otherwise an empty string`

// ParseError indicates the structured response could not be turned into a
// CodeReviewResponse.
type ParseError struct {
	Err error
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid structured review: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseResponse parses the model's JSON response and validates it. Out of
// range risk scores are rejected, not clamped.
func ParseResponse(response string) (*CodeReviewResponse, error) {
	cleaned := cleanResponse(response)

	var envelope struct {
		Reviews *[]FileReview `json:"reviews"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("failed to decode JSON: %w", err), Raw: response}
	}
	if envelope.Reviews == nil {
		return nil, &ParseError{Err: errors.New(`missing "reviews" array`), Raw: response}
	}

	result := &CodeReviewResponse{Reviews: *envelope.Reviews}
	if err := validateResponse(result); err != nil {
		return nil, &ParseError{Err: err, Raw: response}
	}

	return result, nil
}

// cleanResponse removes markdown code fences wrapped around the JSON.
func cleanResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}

	response = strings.TrimSuffix(response, "```")

	return strings.TrimSpace(response)
}

func validateResponse(resp *CodeReviewResponse) error {
	for i, r := range resp.Reviews {
		if strings.TrimSpace(r.Filename) == "" {
			return fmt.Errorf("review %d has empty filename", i)
		}
		if r.RiskScore < MinRiskScore || r.RiskScore > MaxRiskScore {
			return fmt.Errorf("review %d (%s) has risk_score %d outside %d-%d", i, r.Filename, r.RiskScore, MinRiskScore, MaxRiskScore)
		}
		for j, f := range r.Feedback {
			if strings.TrimSpace(f.Title) == "" {
				return fmt.Errorf("review %d (%s) feedback %d has empty title", i, r.Filename, j)
			}
		}
	}
	return nil
}

// Render flattens resp into markdown, preserving the order of files and
// feedback items.
func Render(resp *CodeReviewResponse) string {
	var lines []string

	for _, r := range resp.Reviews {
		lines = append(lines,
			"## "+r.Filename,
			fmt.Sprintf("**Risk Score: %d/5**", r.RiskScore),
			"",
		)

		for _, f := range r.Feedback {
			lines = append(lines, "### "+f.Title, f.Details, "")
		}
	}

	return strings.Join(lines, "\n")
}
