package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotPullRequestEvent indicates the event payload carries no pull request.
var ErrNotPullRequestEvent = errors.New("payload is not a pull request event")

// ParsePullRequestEvent parses a pull_request event payload.
func ParsePullRequestEvent(payload []byte) (*PullRequestEvent, error) {
	var event PullRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}

	if event.PullRequest == nil {
		return nil, ErrNotPullRequestEvent
	}

	if event.Number == 0 {
		event.Number = event.PullRequest.Number
	}

	return &event, nil
}

// LoadPullRequestEvent reads and parses the event file GitHub Actions points
// GITHUB_EVENT_PATH at.
func LoadPullRequestEvent(path string) (*PullRequestEvent, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file %s: %w", path, err)
	}
	return ParsePullRequestEvent(payload)
}

// ShouldProcess reports whether the event should trigger a review.
// Returns true for actions: opened, synchronize, reopened, and for events
// without an action (manual dispatch).
func (e *PullRequestEvent) ShouldProcess() bool {
	switch e.Action {
	case "", "opened", "synchronize", "reopened", "ready_for_review":
		return true
	default:
		return false
	}
}

// OwnerRepo returns the repository owner and name from the payload.
func (e *PullRequestEvent) OwnerRepo() (string, string, error) {
	if e.Repository == nil {
		return "", "", errors.New("event payload is missing repository")
	}
	if e.Repository.Owner != nil && e.Repository.Owner.Login != "" && e.Repository.Name != "" {
		return e.Repository.Owner.Login, e.Repository.Name, nil
	}
	return SplitRepo(e.Repository.FullName)
}
