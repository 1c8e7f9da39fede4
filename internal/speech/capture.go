package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrCaptureUnavailable is returned by StartCapture when no recognizer or
	// microphone can be acquired.
	ErrCaptureUnavailable = errors.New("speech capture unavailable")
	// ErrCaptureFailed wraps recognizer failures reported mid-capture.
	ErrCaptureFailed = errors.New("speech capture failed")
)

// Update is one recognizer result. Exactly one of Err, a final text, or an
// interim text is meaningful.
type Update struct {
	Text  string
	Final bool
	Err   error
}

// Capture is a single listening window. Updates is closed when the window
// ends, whether by a final result, a failure, or Stop.
type Capture interface {
	Updates() <-chan Update
	// Stop ends the window and releases the microphone. Interim text not yet
	// finalized is discarded. Safe to call more than once.
	Stop()
}

// Capturer acquires the microphone for one answer.
type Capturer interface {
	StartCapture(ctx context.Context) (Capture, error)
}

const updateBuffer = 64

// window is the Capture shared by the capturers in this package. It reserves
// one buffer slot for the terminal update so a final or an error is never
// dropped, while interim updates are dropped when the consumer lags.
type window struct {
	mu      sync.Mutex
	updates chan Update
	closed  bool
	release func()
	once    sync.Once
	doneCh  chan struct{}
}

func newWindow(release func()) *window {
	return &window{
		updates: make(chan Update, updateBuffer),
		release: release,
		doneCh:  make(chan struct{}),
	}
}

func (w *window) done() <-chan struct{} { return w.doneCh }

func (w *window) Updates() <-chan Update { return w.updates }

func (w *window) Stop() { w.finish(nil) }

// interim publishes a partial transcript. Returns false once the window is closed.
func (w *window) interim(text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if len(w.updates) < cap(w.updates)-1 {
		w.updates <- Update{Text: text}
	}
	return true
}

// finalize publishes the final transcript and closes the window. Blank text
// closes the window without a final result.
func (w *window) finalize(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		w.finish(nil)
		return
	}
	w.finish(&Update{Text: text, Final: true})
}

// fail reports err once and closes the window.
func (w *window) fail(err error) {
	if !errors.Is(err, ErrCaptureFailed) {
		err = errors.Join(ErrCaptureFailed, err)
	}
	w.finish(&Update{Err: err})
}

func (w *window) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *window) finish(last *Update) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if last != nil {
		w.updates <- *last
	}
	close(w.updates)
	close(w.doneCh)
	w.mu.Unlock()
	w.once.Do(func() {
		if w.release != nil {
			w.release()
		}
	})
}
