package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), nil)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:11434", "http://localhost:11434"},
		{"http://localhost:11434/", "http://localhost:11434"},
		{"http://localhost:11434/api", "http://localhost:11434"},
		{"http://gpu-box:11434/api/", "http://gpu-box:11434"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeURL(tt.in))
		})
	}
}

func TestGenerate(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"llama3","response":"looks good","done":true}`)
	})

	result, err := client.Generate(context.Background(), &GenerateRequest{
		Model:  "llama3",
		System: "sys",
		Prompt: "user",
		Stream: true,
	})
	require.NoError(t, err)
	assert.True(t, result.HasResponse)
	assert.Equal(t, "looks good", result.Text())

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, "sys", got["system"])
	assert.Equal(t, "user", got["prompt"])
	assert.Equal(t, false, got["stream"], "generate is always non-streaming")
	assert.NotContains(t, got, "keep_alive")
	assert.NotContains(t, got, "format")
}

func TestGenerate_FallsBackToPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"llama3","done":true}`)
	})

	result, err := client.Generate(context.Background(), &GenerateRequest{Model: "llama3"})
	require.NoError(t, err)
	assert.False(t, result.HasResponse)
	assert.JSONEq(t, `{"model":"llama3","done":true}`, result.Text())
}

func TestGenerate_ErrorField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	})

	_, err := client.Generate(context.Background(), &GenerateRequest{Model: "missing"})
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "model not found", streamErr.Message)
}

func TestGenerate_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"out of memory"}`)
	})

	_, err := client.Generate(context.Background(), &GenerateRequest{Model: "llama3"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "out of memory", statusErr.Body)
	assert.True(t, statusErr.Retryable())
}

func TestPull(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, "{\"status\":\"pulling manifest\"}\n\n{\"status\":\"downloading\",\"total\":10,\"completed\":5}\n{\"status\":\"success\"}\n")
	})

	var statuses []string
	err := client.Pull(context.Background(), "llama3", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, "llama3", body["name"])
	assert.Equal(t, []string{"pulling manifest", "downloading", "success"}, statuses)
}

func TestPull_ErrorLineAborts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"status\":\"pulling manifest\"}\n{\"error\":\"pull model manifest: file does not exist\"}\n{\"status\":\"success\"}\n")
	})

	var statuses []string
	err := client.Pull(context.Background(), "nope", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, []string{"pulling manifest"}, statuses)
}

func TestRunningAndVersion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/ps":
			_, _ = io.WriteString(w, `{"models":[{"name":"llama3:latest","model":"llama3:latest"}]}`)
		case "/api/version":
			_, _ = io.WriteString(w, `{"version":"0.5.7"}`)
		default:
			http.NotFound(w, r)
		}
	})

	running, err := client.Running(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "llama3:latest", running[0].Name)

	version, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5.7", version)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"stream error", &StreamError{Message: "model not found"}, false},
		{"not found", &StatusError{StatusCode: 404}, false},
		{"too many requests", &StatusError{StatusCode: 429}, true},
		{"bad gateway", &StatusError{StatusCode: 502}, true},
		{"transport", errors.New("connection refused"), true},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
