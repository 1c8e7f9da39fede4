package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGemini_MissingKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), "", ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGemini_GenerateAgainstFakeAPI(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"1. Why Go?\n2. Describe a bug you fixed."}]}}]}`))
	}))
	defer srv.Close()

	g, err := newGemini(context.Background(), "key", "", srv.URL+"/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := g.Generate(context.Background(), Request{Prompt: "questions please"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(out, "1. Why Go?") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(path, defaultGeminiModel) {
		t.Fatalf("request path %q does not name the model", path)
	}
	if _, ok := body["contents"]; !ok {
		t.Fatalf("request body missing contents: %v", body)
	}
}
