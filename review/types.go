package review

import "strings"

const (
	// DefaultLanguage is the response language that needs no translation.
	DefaultLanguage = "english"

	// DefaultTranslationModel translates reviews when no model is configured.
	DefaultTranslationModel = "qwen2.5:7b"
)

// Change statuses reported by the hosting API.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusRemoved  = "removed"
	StatusRenamed  = "renamed"
)

// ReviewRequest identifies the pull request to review and how. It is built
// once per invocation and not modified afterwards.
type ReviewRequest struct {
	Owner    string
	Repo     string
	PRNumber int
	Model    string
	// CustomPrompt is appended to the user prompt when non-empty.
	CustomPrompt string
	// Language is the response language; empty means DefaultLanguage.
	Language string
	// TranslationModel is used when Language is not english; empty means
	// DefaultTranslationModel.
	TranslationModel string
}

// ResponseLanguage returns the language with the default applied.
func (r *ReviewRequest) ResponseLanguage() string {
	if strings.TrimSpace(r.Language) == "" {
		return DefaultLanguage
	}
	return r.Language
}

// NeedsTranslation reports whether a review in language must be translated.
func NeedsTranslation(language string) bool {
	language = strings.TrimSpace(language)
	return language != "" && !strings.EqualFold(language, DefaultLanguage)
}

// ChangedFile is one file of the pull request as sent to the model.
type ChangedFile struct {
	Filename string `json:"filename"`
	Patch    string `json:"patch"`
	Status   string `json:"status"`
}

// FeedbackItem is a single finding within a file review.
type FeedbackItem struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

// FileReview is the model's assessment of one file.
type FileReview struct {
	Filename  string         `json:"filename"`
	RiskScore int            `json:"risk_score"` // 1-5
	Feedback  []FeedbackItem `json:"feedback"`
	CommitID  string         `json:"commit_id"`
}

// CodeReviewResponse is the structured review output. The model is asked for
// one entry per changed file but may omit or repeat files.
type CodeReviewResponse struct {
	Reviews []FileReview `json:"reviews"`
}

// Result describes a completed pipeline run.
type Result struct {
	Body       string
	Translated bool
	Published  bool
	ReviewID   int64
	ReviewURL  string
}
