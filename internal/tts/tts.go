// Package tts turns interviewer text into 48 kHz mono PCM16 audio.
package tts

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("tts: api key missing")
	ErrNoProvider    = errors.New("tts: no provider configured")
)

// Synthesizer streams little-endian PCM16 at 48 kHz for text. Both
// channels are closed when synthesis ends; at most one error is sent.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

type Config struct {
	Provider          string
	DeepgramAPIKey    string
	DeepgramModel     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
}

// New returns the provider named by cfg.Provider, or the first configured
// one (Deepgram, then ElevenLabs) when Provider is empty.
func New(cfg Config) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramModel), nil
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsVoiceID == "" {
			return nil, ErrMissingAPIKey
		}
		return NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID), nil
	case "":
	default:
		return nil, ErrNoProvider
	}
	if cfg.DeepgramAPIKey != "" {
		return NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramModel), nil
	}
	if cfg.ElevenLabsAPIKey != "" && cfg.ElevenLabsVoiceID != "" {
		return NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID), nil
	}
	return nil, ErrNoProvider
}

// send delivers a chunk unless ctx ends first.
func send(ctx context.Context, ch chan<- []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	case <-ctx.Done():
		return false
	}
}
