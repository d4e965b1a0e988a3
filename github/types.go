// Package github provides the GitHub API client and Actions event parsing for the reviewer.
package github

// PullRequestFile represents a file changed in a pull request.
type PullRequestFile struct {
	SHA              string `json:"sha"`
	Filename         string `json:"filename"`
	Status           string `json:"status"` // added, removed, modified, renamed, copied, changed, unchanged
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	Patch            string `json:"patch,omitempty"` // absent for binary or very large files
	PreviousFilename string `json:"previous_filename,omitempty"`
}

// ReviewRequest represents a request to create a pull request review.
type ReviewRequest struct {
	CommitID string `json:"commit_id,omitempty"`
	Body     string `json:"body"`
	Event    string `json:"event"` // APPROVE, REQUEST_CHANGES, COMMENT
}

// Review represents a created pull request review.
type Review struct {
	ID      int64  `json:"id"`
	State   string `json:"state"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// PullRequestEvent is the subset of a pull_request event payload the reviewer reads.
type PullRequestEvent struct {
	Action      string       `json:"action"`
	Number      int          `json:"number"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
	Repository  *Repository  `json:"repository"`
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Title  string `json:"title"`
	Draft  bool   `json:"draft"`
	Head   *Ref   `json:"head"`
}

// Ref represents a git reference (branch/commit).
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Repository represents a GitHub repository.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    *User  `json:"owner"`
}

// User represents a GitHub user or organization.
type User struct {
	Login string `json:"login"`
}
