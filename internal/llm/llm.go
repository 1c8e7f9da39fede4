package llm

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("llm: api key missing")
	ErrNoProvider    = errors.New("llm: no provider configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is one completion call. JSON asks the provider for a JSON object body.
type Request struct {
	System string
	Prompt string
	JSON   bool
}

// Generator produces text completions.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider       string
	GeminiAPIKey   string
	GeminiModel    string
	CerebrasAPIKey string
	CerebrasModel  string
}

// New returns the provider named by cfg.Provider, or the first one with an
// API key (Gemini, then Cerebras) when Provider is empty.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "gemini":
		return gemini(ctx, cfg)
	case "cerebras":
		if cfg.CerebrasAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewCerebrasClient(cfg.CerebrasAPIKey, cfg.CerebrasModel), nil
	case "":
	default:
		return nil, ErrNoProvider
	}
	if cfg.GeminiAPIKey != "" {
		return gemini(ctx, cfg)
	}
	if cfg.CerebrasAPIKey != "" {
		return NewCerebrasClient(cfg.CerebrasAPIKey, cfg.CerebrasModel), nil
	}
	return nil, ErrNoProvider
}

func gemini(ctx context.Context, cfg Config) (Generator, error) {
	g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// StripFences removes markdown code fences models sometimes wrap JSON in.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
