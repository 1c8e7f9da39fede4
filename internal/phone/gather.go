package phone

import (
	"context"
	"sync"

	"github.com/sumans-19/PrepFlash-sub003/internal/speech"
)

// GatherCapturer feeds the engine from Twilio <Gather> results. Each answer
// webhook delivers one recognized utterance into the open capture window.
type GatherCapturer struct {
	relay *speech.RelayCapturer

	mu      sync.Mutex
	open    bool
	changed chan struct{}
}

func NewGatherCapturer() *GatherCapturer {
	g := &GatherCapturer{changed: make(chan struct{})}
	g.relay = speech.NewRelayCapturer(g.listen)
	return g
}

func (g *GatherCapturer) StartCapture(ctx context.Context) (speech.Capture, error) {
	return g.relay.StartCapture(ctx)
}

// Deliver waits for a capture window and finalizes it with text. Blank text
// closes the window without an answer.
func (g *GatherCapturer) Deliver(ctx context.Context, text string) error {
	for {
		g.mu.Lock()
		open, changed := g.open, g.changed
		g.mu.Unlock()
		if open {
			g.relay.Push(text, true)
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *GatherCapturer) listen(on bool) {
	g.mu.Lock()
	g.open = on
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}
