package speech

import (
	"context"
	"sync"
)

// RelayCapturer is fed by a client that runs recognition itself (the browser
// Web Speech API) and relays transcript frames over the session socket.
// Listen is called with true when a window opens so the client starts its
// recognizer, and with false when the window is released.
type RelayCapturer struct {
	mu        sync.Mutex
	available bool
	active    *window
	listen    func(on bool)
}

func NewRelayCapturer(listen func(on bool)) *RelayCapturer {
	return &RelayCapturer{available: true, listen: listen}
}

// SetAvailable records whether the client reported a working recognizer.
func (r *RelayCapturer) SetAvailable(ok bool) {
	r.mu.Lock()
	r.available = ok
	r.mu.Unlock()
}

func (r *RelayCapturer) StartCapture(ctx context.Context) (Capture, error) {
	r.mu.Lock()
	if !r.available {
		r.mu.Unlock()
		return nil, ErrCaptureUnavailable
	}
	prev := r.active
	var w *window
	w = newWindow(func() {
		r.mu.Lock()
		if r.active == w {
			r.active = nil
		}
		r.mu.Unlock()
		r.notify(false)
	})
	r.active = w
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	r.notify(true)

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done():
		}
	}()
	return w, nil
}

// Push delivers a transcript frame from the client. Frames arriving while no
// window is open are ignored.
func (r *RelayCapturer) Push(text string, final bool) {
	w := r.current()
	if w == nil {
		return
	}
	if final {
		w.finalize(text)
		return
	}
	w.interim(text)
}

// Fail reports a client-side recognizer error for the open window.
func (r *RelayCapturer) Fail(err error) {
	if w := r.current(); w != nil {
		w.fail(err)
	}
}

// Listening reports whether a window is open.
func (r *RelayCapturer) Listening() bool { return r.current() != nil }

func (r *RelayCapturer) current() *window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *RelayCapturer) notify(on bool) {
	if r.listen != nil {
		r.listen(on)
	}
}
