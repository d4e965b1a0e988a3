package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prreview/ollama-review/github"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) (*github.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := github.NewClientWithHTTPClient(server.Client(), server.URL+"/", nil)
	require.NoError(t, err)

	return client, server
}

type fileJSON struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Patch    string `json:"patch,omitempty"`
}

func TestFetchPullRequestFiles(t *testing.T) {
	files := []fileJSON{
		{Filename: "a.go", Status: "modified", Patch: "@@ -1 +1 @@\n-old\n+new"},
		{Filename: "logo.png", Status: "added"},
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/hello/pulls/7/files", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(files)
	})

	client, _ := newTestClient(t, handler)
	result, err := client.FetchPullRequestFiles(context.Background(), "octo", "hello", 7)
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, "a.go", result[0].Filename)
	assert.Equal(t, "modified", result[0].Status)
	assert.Contains(t, result[0].Patch, "+new")
	assert.Equal(t, "logo.png", result[1].Filename)
	assert.Empty(t, result[1].Patch)
}

func TestFetchPullRequestFiles_Pagination(t *testing.T) {
	var serverURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode([]fileJSON{{Filename: "c.go", Status: "removed"}})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/hello/pulls/7/files?page=2>; rel="next"`, serverURL))
		_ = json.NewEncoder(w).Encode([]fileJSON{{Filename: "a.go", Status: "modified"}, {Filename: "b.go", Status: "added"}})
	})

	client, server := newTestClient(t, handler)
	serverURL = server.URL

	result, err := client.FetchPullRequestFiles(context.Background(), "octo", "hello", 7)
	require.NoError(t, err)

	var names []string
	for _, f := range result {
		names = append(names, f.Filename)
	}
	assert.Equal(t, []string{"a.go", "b.go", "c.go"}, names)
}

func TestFetchPullRequestFiles_Empty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	})

	client, _ := newTestClient(t, handler)
	result, err := client.FetchPullRequestFiles(context.Background(), "octo", "hello", 7)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestFetchPullRequestFiles_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	client, _ := newTestClient(t, handler)
	_, err := client.FetchPullRequestFiles(context.Background(), "octo", "hello", 7)
	require.Error(t, err)

	var apiErr *gh.ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Response.StatusCode)
}

func TestCreateReview(t *testing.T) {
	var got map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/octo/hello/pulls/7/reviews", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":99,"state":"COMMENTED","body":"hi","html_url":"https://github.com/octo/hello/pull/7#pullrequestreview-99"}`))
	})

	client, _ := newTestClient(t, handler)
	review, err := client.CreateReview(context.Background(), "octo", "hello", 7, &github.ReviewRequest{
		Body:  "hi",
		Event: github.EventComment,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(99), review.ID)
	assert.Equal(t, "COMMENTED", review.State)
	assert.Contains(t, review.HTMLURL, "pullrequestreview-99")
	assert.Equal(t, "hi", got["body"])
	assert.Equal(t, "COMMENT", got["event"])
	assert.NotContains(t, got, "commit_id")
}

func TestCreateReview_ErrorPropagates(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	})

	client, _ := newTestClient(t, handler)
	_, err := client.CreateReview(context.Background(), "octo", "hello", 7, &github.ReviewRequest{Body: "x", Event: github.EventComment})

	var apiErr *gh.ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls, "reviews are not retried")
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := github.SplitRepo("octo/hello")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "hello", repo)

	for _, bad := range []string{"", "octo", "/hello", "octo/"} {
		_, _, err := github.SplitRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestTokenHint(t *testing.T) {
	assert.Equal(t, "cdef", github.TokenHint("ghp_abcdef"))
	assert.Equal(t, "****", github.TokenHint("abc"))
}

func TestNewClient(t *testing.T) {
	client, err := github.NewClient("token", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = github.NewClient("token", "https://ghe.example.com/api/v3/", nil)
	require.NoError(t, err)
}

func TestNewAppClient_InvalidKey(t *testing.T) {
	_, err := github.NewAppClient(1, 2, []byte("not a pem key"), "", nil)
	assert.Error(t, err)
}
