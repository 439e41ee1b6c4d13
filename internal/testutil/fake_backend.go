package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// FakeBackend is an in-process Ollama-shaped backend for end-to-end tests.
// It serves /api/generate and /api/tags and counts generate calls.
type FakeBackend struct {
	srv *httptest.Server

	// ModelNames is returned by /api/tags. Defaults to one model.
	ModelNames []string
	// Response is the generated text. Defaults to "fake completion".
	Response string
	// FailStatus, when non-zero, makes /api/generate answer with that status.
	FailStatus int

	generateCalls atomic.Int32
}

// NewFakeBackend starts the server; it stops with the test.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		ModelNames: []string{"mistral:7b"},
		Response:   "fake completion",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", f.handleGenerate)
	mux.HandleFunc("GET /api/tags", f.handleTags)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// URL is the backend base URL.
func (f *FakeBackend) URL() string { return f.srv.URL }

// GenerateCalls reports how many /api/generate requests arrived.
func (f *FakeBackend) GenerateCalls() int { return int(f.generateCalls.Load()) }

func (f *FakeBackend) handleGenerate(w http.ResponseWriter, r *http.Request) {
	f.generateCalls.Add(1)
	if f.FailStatus != 0 {
		http.Error(w, "backend failure", f.FailStatus)
		return
	}
	var body struct {
		Model string `json:"model"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	fmt.Fprintf(w, `{"response":%q,"model":%q,"prompt_eval_count":11,"eval_count":4,"total_duration":1000000}`,
		f.Response, body.Model)
}

func (f *FakeBackend) handleTags(w http.ResponseWriter, _ *http.Request) {
	type model struct {
		Name string `json:"name"`
	}
	models := make([]model, len(f.ModelNames))
	for i, n := range f.ModelNames {
		models[i] = model{Name: n}
	}
	_ = json.NewEncoder(w).Encode(map[string][]model{"models": models})
}
