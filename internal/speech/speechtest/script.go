// Package speechtest provides a scripted speech.Capturer for tests.
package speechtest

import (
	"context"
	"strings"
	"sync"

	"github.com/sumans-19/PrepFlash-sub003/internal/speech"
)

// Turn scripts the behaviour of one StartCapture call.
type Turn struct {
	updates  []speech.Update
	hold     bool
	startErr error
}

// Answer produces growing interim results word by word and then text as final.
func Answer(text string) Turn {
	var t Turn
	words := strings.Fields(text)
	for i := 1; i < len(words); i++ {
		t.updates = append(t.updates, speech.Update{Text: strings.Join(words[:i], " ")})
	}
	t.updates = append(t.updates, speech.Update{Text: text, Final: true})
	return t
}

// Silence ends the window without any result.
func Silence() Turn { return Turn{} }

// Fail reports err mid-capture and ends the window.
func Fail(err error) Turn {
	return Turn{updates: []speech.Update{{Err: err}}}
}

// Hold emits the given interim results and keeps the window open until
// Script.Finish or Stop.
func Hold(interim ...string) Turn {
	t := Turn{hold: true}
	for _, s := range interim {
		t.updates = append(t.updates, speech.Update{Text: s})
	}
	return t
}

// Unavailable makes StartCapture fail.
func Unavailable() Turn { return Turn{startErr: speech.ErrCaptureUnavailable} }

// Script replays Turns in order. Calls beyond the script behave like Silence.
type Script struct {
	mu       sync.Mutex
	turns    []Turn
	calls    int
	acquired int
	released int
	open     *capture
}

func New(turns ...Turn) *Script { return &Script{turns: turns} }

func (s *Script) StartCapture(ctx context.Context) (speech.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := Silence()
	if s.calls < len(s.turns) {
		turn = s.turns[s.calls]
	}
	s.calls++
	if turn.startErr != nil {
		return nil, turn.startErr
	}
	s.acquired++
	c := &capture{script: s, ch: make(chan speech.Update, len(turn.updates)+1)}
	for _, u := range turn.updates {
		c.ch <- u
	}
	if turn.hold {
		s.open = c
	} else {
		c.closeLocked()
	}
	return c, nil
}

// Finish delivers text as the final result of the held window.
func (s *Script) Finish(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.open
	if c == nil || c.closed {
		return false
	}
	c.ch <- speech.Update{Text: text, Final: true}
	c.closeLocked()
	return true
}

// Calls is the number of StartCapture calls.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Acquired is the number of successful StartCapture calls.
func (s *Script) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Released is the number of windows that released the microphone.
func (s *Script) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Holding reports whether a held window is still open.
func (s *Script) Holding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open != nil && !s.open.closed
}

type capture struct {
	script *Script
	ch     chan speech.Update
	closed bool
}

func (c *capture) Updates() <-chan speech.Update { return c.ch }

func (c *capture) Stop() {
	c.script.mu.Lock()
	defer c.script.mu.Unlock()
	c.closeLocked()
}

func (c *capture) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
	c.script.released++
	if c.script.open == c {
		c.script.open = nil
	}
}
