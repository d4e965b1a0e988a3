package review

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prreview/ollama-review/github"
	"github.com/prreview/ollama-review/ollama"
)

// fakeModels records lifecycle calls.
type fakeModels struct {
	prepareErr map[string]error
	prepared   []string
	cleaned    []string
	events     *[]string
}

func (f *fakeModels) Prepare(ctx context.Context, model string) error {
	f.prepared = append(f.prepared, model)
	f.log("prepare:" + model)
	if err := f.prepareErr[model]; err != nil {
		return err
	}
	return nil
}

func (f *fakeModels) Cleanup(ctx context.Context, model string) {
	f.cleaned = append(f.cleaned, model)
	f.log("cleanup:" + model)
}

func (f *fakeModels) log(event string) {
	if f.events != nil {
		*f.events = append(*f.events, event)
	}
}

func (f *fakeModels) cleanupCount(model string) int {
	n := 0
	for _, m := range f.cleaned {
		if m == model {
			n++
		}
	}
	return n
}

// fakeGenerator answers generate calls per model.
type fakeGenerator struct {
	responses map[string]*ollama.GenerateResult
	errs      map[string]error
	requests  []ollama.GenerateRequest
	events    *[]string
}

func (f *fakeGenerator) Generate(ctx context.Context, req *ollama.GenerateRequest) (*ollama.GenerateResult, error) {
	f.requests = append(f.requests, *req)
	if f.events != nil {
		*f.events = append(*f.events, "generate:"+req.Model)
	}
	if err := f.errs[req.Model]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[req.Model]; ok {
		return resp, nil
	}
	return nil, errors.New("no response configured for " + req.Model)
}

func textResult(text string) *ollama.GenerateResult {
	raw, _ := json.Marshal(map[string]any{"response": text, "done": true})
	return &ollama.GenerateResult{Response: text, HasResponse: true, Raw: raw}
}

// fakeHosting serves a fixed file list and records posted reviews.
type fakeHosting struct {
	files      []github.PullRequestFile
	fetchErr   error
	publishErr error
	fetches    int
	posted     []github.ReviewRequest
	events     *[]string
}

func (f *fakeHosting) FetchPullRequestFiles(ctx context.Context, owner, repo string, prNumber int) ([]github.PullRequestFile, error) {
	f.fetches++
	if f.events != nil {
		*f.events = append(*f.events, "fetch")
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.files, nil
}

func (f *fakeHosting) CreateReview(ctx context.Context, owner, repo string, prNumber int, review *github.ReviewRequest) (*github.Review, error) {
	if f.events != nil {
		*f.events = append(*f.events, "publish")
	}
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.posted = append(f.posted, *review)
	return &github.Review{ID: 1, HTMLURL: "https://github.com/octo/hello/pull/7#pullrequestreview-1"}, nil
}
