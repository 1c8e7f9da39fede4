package tts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const (
	defaultDeepgramModel = "aura-2-thalia-en"
	// deepgramIdle ends a stream once audio stops arriving for this long.
	deepgramIdle     = 400 * time.Millisecond
	deepgramDeadline = 12 * time.Second
)

// Deepgram speaks text over Deepgram's streaming speak websocket.
type Deepgram struct {
	APIKey string
	Model  string
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = defaultDeepgramModel
	}
	return &Deepgram{APIKey: apiKey, Model: model}
}

func (d *Deepgram) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if d.APIKey == "" {
			errCh <- fmt.Errorf("deepgram: %w", ErrMissingAPIKey)
			return
		}
		if text == "" {
			return
		}
		if err := d.speak(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (d *Deepgram) speak(ctx context.Context, text string, pcmCh chan<- []byte) error {
	ctx, cancel := context.WithTimeout(ctx, deepgramDeadline)
	defer cancel()

	var lastAudio atomic.Int64
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		lastAudio.Store(time.Now().UnixNano())
		b := make([]byte, len(data))
		copy(b, data)
		send(ctx, pcmCh, b)
		return nil
	}}

	opts := &clientinterfaces.WSSpeakOptions{Model: d.Model, Encoding: "linear16", SampleRate: 48000}
	dg, err := speak.NewWSUsingCallback(ctx, d.APIKey, &clientinterfaces.ClientOptions{}, opts, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { dg.Stop() }) }
	defer stop()

	if !dg.Connect() {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush: %v", err)
	}

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			last := lastAudio.Load()
			if last != 0 && time.Since(time.Unix(0, last)) > deepgramIdle {
				return nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if e != nil {
		log.Printf("deepgram: speak error: %+v", *e)
	}
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(b []byte) error {
	if s.onBinary != nil {
		return s.onBinary(b)
	}
	return nil
}
