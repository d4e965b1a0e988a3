package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"

	// EventComment posts a review that neither approves nor requests changes.
	EventComment = "COMMENT"

	filesPerPage = 100
)

// Client provides the pull request operations the reviewer needs.
type Client struct {
	gh     *gh.Client
	logger *slog.Logger
}

// NewClient creates a client authenticated with a personal or workflow token.
// The transport stack is httpcache (ETag revalidation) under go-github-ratelimit
// (sleeps on secondary rate limits). apiURL selects a GitHub Enterprise
// server; empty means api.github.com.
func NewClient(token, apiURL string, logger *slog.Logger) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	client := gh.NewClient(github_ratelimit.NewClient(cacheTransport)).WithAuthToken(token)
	return newClient(client, apiURL, logger)
}

// NewAppClient creates a client authenticated as a GitHub App installation.
// privateKey is the PEM-encoded key of the app.
func NewAppClient(appID, installationID int64, privateKey []byte, apiURL string, logger *slog.Logger) (*Client, error) {
	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create installation transport: %w", err)
	}
	if apiURL != "" && apiURL != DefaultAPIURL {
		transport.BaseURL = strings.TrimRight(apiURL, "/")
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	cacheTransport.Transport = transport
	return newClient(gh.NewClient(github_ratelimit.NewClient(cacheTransport)), apiURL, logger)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	client.BaseURL = u

	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gh: client, logger: logger}, nil
}

func newClient(client *gh.Client, apiURL string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiURL != "" && apiURL != DefaultAPIURL {
		enterprise, err := client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure API URL %s: %w", apiURL, err)
		}
		client = enterprise
	}
	return &Client{gh: client, logger: logger}, nil
}

// FetchPullRequestFiles lists the files changed by a pull request, following
// pagination. Order is the order GitHub returns.
func (c *Client) FetchPullRequestFiles(ctx context.Context, owner, repo string, prNumber int) ([]PullRequestFile, error) {
	opts := &gh.ListOptions{PerPage: filesPerPage}
	files := []PullRequestFile{}

	for {
		page, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch files for %s/%s#%d (page %d): %w", owner, repo, prNumber, opts.Page, err)
		}

		c.logRateLimit(resp, "list-files", len(page))

		for _, f := range page {
			files = append(files, mapCommitFile(f))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// CreateReview posts a review on a pull request. Errors from the API are
// returned wrapped, never retried.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, prNumber int, review *ReviewRequest) (*Review, error) {
	req := &gh.PullRequestReviewRequest{
		Body:  gh.Ptr(review.Body),
		Event: gh.Ptr(review.Event),
	}
	if review.CommitID != "" {
		req.CommitID = gh.Ptr(review.CommitID)
	}

	created, resp, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, prNumber, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create review on %s/%s#%d: %w", owner, repo, prNumber, err)
	}

	c.logRateLimit(resp, "create-review", 1)

	return &Review{
		ID:      created.GetID(),
		State:   created.GetState(),
		Body:    created.GetBody(),
		HTMLURL: created.GetHTMLURL(),
	}, nil
}

func (c *Client) logRateLimit(resp *gh.Response, endpoint string, count int) {
	if resp == nil {
		return
	}

	c.logger.Debug("github api call",
		"endpoint", endpoint,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func mapCommitFile(f *gh.CommitFile) PullRequestFile {
	return PullRequestFile{
		SHA:              f.GetSHA(),
		Filename:         f.GetFilename(),
		Status:           f.GetStatus(),
		Additions:        f.GetAdditions(),
		Deletions:        f.GetDeletions(),
		Changes:          f.GetChanges(),
		Patch:            f.GetPatch(),
		PreviousFilename: f.GetPreviousFilename(),
	}
}

// SplitRepo splits "owner/repo" into its parts.
func SplitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

// TokenHint returns the last 4 characters of a token for display purposes.
func TokenHint(token string) string {
	if len(token) < 4 {
		return "****"
	}
	return token[len(token)-4:]
}
