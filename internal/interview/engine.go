package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/speech"
)

// Engine runs one mock interview at a time: it asks each question, opens a
// capture window for the answer, and publishes the session as events.
//
// All state lives behind mu. Timers and capture goroutines carry the
// generation they were started for and are ignored once Start or Stop has
// moved the engine on. Events are queued under mu and delivered in order by a
// single dispatch goroutine, so handlers never run with mu held.
type Engine struct {
	capturer speech.Capturer
	clk      clock.Clock
	timings  Timings

	mu   sync.Mutex
	cond *sync.Cond

	state      CallState
	gen        uint64
	sessionID  string
	cfg        SessionConfig
	index      int
	listening  bool
	transcript []TranscriptMessage
	answers    []QA

	timer         clock.Timer
	listenTimer   clock.Timer
	capture       speech.Capture
	cancelCapture context.CancelFunc

	seq      int64
	queue    []Event
	handlers map[EventName][]handlerEntry
	nextSub  int
	disposed bool
}

type handlerEntry struct {
	id int
	h  Handler
}

type Option func(*Engine)

// WithClock replaces the wall clock, typically with a clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithTimings overrides pacing. Zero fields keep their defaults.
func WithTimings(t Timings) Option {
	return func(e *Engine) { e.timings = t }
}

func NewEngine(capturer speech.Capturer, opts ...Option) *Engine {
	e := &Engine{
		capturer: capturer,
		clk:      clock.Real(),
		timings:  DefaultTimings(),
		handlers: make(map[EventName][]handlerEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.timings = e.timings.withDefaults()
	e.cond = sync.NewCond(&e.mu)
	go e.dispatch()
	return e
}

// Start begins a new session. It fails with ErrSessionAlreadyActive while a
// session is connecting or active, and with ErrInvalidConfiguration for an
// empty or blank question list. A failed Start changes nothing.
func (e *Engine) Start(cfg SessionConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.state == Connecting || e.state == Active {
		return ErrSessionAlreadyActive
	}
	questions, err := normalizeQuestions(cfg.Questions)
	if err != nil {
		return err
	}

	e.gen++
	gen := e.gen
	e.sessionID = uuid.NewString()
	e.cfg = SessionConfig{
		IntervieweeName: strings.TrimSpace(cfg.IntervieweeName),
		JobRole:         strings.TrimSpace(cfg.JobRole),
		Questions:       questions,
	}
	e.index = 0
	e.listening = false
	e.transcript = nil
	e.answers = make([]QA, len(questions))
	for i, q := range questions {
		e.answers[i].Question = q
	}
	e.state = Connecting
	e.timer = e.clk.AfterFunc(e.timings.ConnectDelay, func() { e.connect(gen) })
	log.Printf("[%s] interview starting: role=%q questions=%d", e.sessionID, e.cfg.JobRole, len(questions))
	return nil
}

// Stop ends the current session. It reports false when there was nothing to
// stop. After Stop returns no event other than the final call-end is emitted
// for the stopped session.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if e.state != Connecting && e.state != Active {
		e.mu.Unlock()
		return false
	}
	c, cancel := e.capture, e.cancelCapture
	e.capture, e.cancelCapture = nil, nil
	e.listening = false
	clock.Stop(e.timer)
	clock.Stop(e.listenTimer)
	e.timer, e.listenTimer = nil, nil
	e.state = Finished
	e.emitLocked(CallEndEvent{EventMeta: e.metaLocked(), Reason: EndStopped})
	log.Printf("[%s] interview stopped at question %d/%d", e.sessionID, e.index+1, len(e.cfg.Questions))
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Stop()
	}
	return true
}

// Dispose stops any session and shuts down event delivery once the queued
// events, including the final call-end, have been dispatched.
func (e *Engine) Dispose() {
	e.Stop()
	e.mu.Lock()
	e.disposed = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// On registers h for events named name, or for all events with EventAll.
func (e *Engine) On(name EventName, h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSub++
	e.handlers[name] = append(e.handlers[name], handlerEntry{id: e.nextSub, h: h})
	return Subscription{id: e.nextSub, name: name}
}

// Off removes a handler. Events already queued are not delivered to it.
func (e *Engine) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs := e.handlers[sub.name]
	for i, he := range hs {
		if he.id == sub.id {
			e.handlers[sub.name] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Subscribe returns every event on a channel. A full channel applies
// backpressure to delivery. cancel unsubscribes and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	done := make(chan struct{})
	var mu sync.Mutex
	closed := false
	sub := e.On(EventAll, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		case <-done:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.Off(sub)
			close(done)
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}

func (e *Engine) State() CallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// CurrentQuestionIndex is the question being asked, or the next one during
// the pause after an answer.
func (e *Engine) CurrentQuestionIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *Engine) Config() SessionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Questions = append([]string(nil), e.cfg.Questions...)
	return cfg
}

func (e *Engine) Questions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.cfg.Questions...)
}

// Transcript returns the latest session's messages. It stays readable after
// call-end until the next Start.
func (e *Engine) Transcript() []TranscriptMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]TranscriptMessage(nil), e.transcript...)
}

func (e *Engine) Answers() []QA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]QA(nil), e.answers...)
}

func (e *Engine) connect(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.state != Connecting {
		return
	}
	e.timer = nil
	e.state = Active
	e.emitLocked(CallStartEvent{EventMeta: e.metaLocked(), TotalQuestions: len(e.cfg.Questions)})
	log.Printf("[%s] call started", e.sessionID)
	e.appendLocked(RoleAssistant, KindIntro, -1, introText(e.cfg))
	e.askLocked()
}

func (e *Engine) advance(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.state != Active || e.listening {
		return
	}
	e.timer = nil
	e.askLocked()
}

func (e *Engine) askLocked() {
	idx := e.index
	if idx >= len(e.cfg.Questions) {
		e.completeLocked()
		return
	}
	e.appendLocked(RoleAssistant, KindQuestion, idx, e.cfg.Questions[idx])
	e.listening = true
	e.emitLocked(SpeechStartEvent{EventMeta: e.metaLocked(), QuestionIndex: idx})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelCapture = cancel
	go e.listen(ctx, e.gen, idx)
}

func (e *Engine) completeLocked() {
	e.appendLocked(RoleAssistant, KindClosing, -1, closingText(e.cfg))
	e.state = Finished
	e.emitLocked(CallEndEvent{EventMeta: e.metaLocked(), Reason: EndCompleted})
	answered := 0
	for _, a := range e.answers {
		if a.Answered {
			answered++
		}
	}
	log.Printf("[%s] interview completed: %d/%d answered", e.sessionID, answered, len(e.answers))
}

// listen owns one capture window from acquisition to release.
func (e *Engine) listen(ctx context.Context, gen uint64, idx int) {
	c, err := e.capturer.StartCapture(ctx)
	if err != nil {
		if !errors.Is(err, speech.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %v", speech.ErrCaptureUnavailable, err)
		}
		e.reportError(gen, idx, err)
		e.endTurn(gen, idx, "")
		return
	}

	e.mu.Lock()
	if !e.turnLocked(gen, idx) {
		e.mu.Unlock()
		c.Stop()
		return
	}
	e.capture = c
	e.listenTimer = e.clk.AfterFunc(e.timings.ListenWindow, func() { e.closeWindow(gen, idx) })
	e.mu.Unlock()

	var final string
	for u := range c.Updates() {
		switch {
		case u.Err != nil:
			err := u.Err
			if !errors.Is(err, speech.ErrCaptureFailed) {
				err = fmt.Errorf("%w: %v", speech.ErrCaptureFailed, err)
			}
			e.reportError(gen, idx, err)
		case u.Final:
			final = strings.TrimSpace(u.Text)
		case strings.TrimSpace(u.Text) != "":
			e.interim(gen, idx, u.Text)
		}
	}
	c.Stop()
	e.endTurn(gen, idx, final)
}

// closeWindow ends a capture that ran past the listen window. Anything not
// yet finalized is dropped.
func (e *Engine) closeWindow(gen uint64, idx int) {
	e.mu.Lock()
	if !e.turnLocked(gen, idx) {
		e.mu.Unlock()
		return
	}
	c := e.capture
	e.listenTimer = nil
	log.Printf("[%s] listen window closed for question %d", e.sessionID, idx+1)
	e.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (e *Engine) interim(gen uint64, idx int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.turnLocked(gen, idx) {
		return
	}
	e.emitLocked(InterimTranscriptEvent{EventMeta: e.metaLocked(), QuestionIndex: idx, Text: text})
}

func (e *Engine) reportError(gen uint64, idx int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.turnLocked(gen, idx) {
		return
	}
	log.Printf("[%s] capture error on question %d: %v", e.sessionID, idx+1, err)
	e.emitLocked(ErrorEvent{EventMeta: e.metaLocked(), QuestionIndex: idx, Err: err})
}

func (e *Engine) endTurn(gen uint64, idx int, final string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.turnLocked(gen, idx) {
		return
	}
	e.listening = false
	clock.Stop(e.listenTimer)
	e.listenTimer = nil
	e.capture = nil
	if e.cancelCapture != nil {
		e.cancelCapture()
		e.cancelCapture = nil
	}

	captured := final != ""
	e.emitLocked(SpeechEndEvent{EventMeta: e.metaLocked(), QuestionIndex: idx, Captured: captured})
	if captured {
		e.answers[idx].Answer = final
		e.answers[idx].Answered = true
		e.appendLocked(RoleUser, KindAnswer, idx, final)
	} else {
		log.Printf("[%s] no answer captured for question %d", e.sessionID, idx+1)
	}
	e.index++
	e.timer = e.clk.AfterFunc(e.timings.AdvanceDelay, func() { e.advance(gen) })
}

func (e *Engine) turnLocked(gen uint64, idx int) bool {
	return e.gen == gen && e.state == Active && e.listening && e.index == idx
}

func (e *Engine) appendLocked(role Role, kind MessageKind, idx int, text string) {
	msg := TranscriptMessage{
		Role:          role,
		Kind:          kind,
		Text:          text,
		IsFinal:       true,
		QuestionIndex: idx,
		At:            e.clk.Now(),
	}
	e.transcript = append(e.transcript, msg)
	e.emitLocked(MessageEvent{EventMeta: e.metaLocked(), Message: msg})
}

func (e *Engine) metaLocked() EventMeta {
	e.seq++
	return EventMeta{SessionID: e.sessionID, Seq: e.seq, At: e.clk.Now()}
}

func (e *Engine) emitLocked(ev Event) {
	e.queue = append(e.queue, ev)
	e.cond.Signal()
}

func (e *Engine) dispatch() {
	e.mu.Lock()
	for {
		for len(e.queue) == 0 && !e.disposed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		var hs []Handler
		for _, he := range e.handlers[ev.Name()] {
			hs = append(hs, he.h)
		}
		for _, he := range e.handlers[EventAll] {
			hs = append(hs, he.h)
		}
		e.mu.Unlock()
		for _, h := range hs {
			deliver(h, ev)
		}
		e.mu.Lock()
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] recovered from panic in %s handler: %v", ev.Meta().SessionID, ev.Name(), r)
		}
	}()
	h(ev)
}

func normalizeQuestions(qs []string) ([]string, error) {
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: question list is empty", ErrInvalidConfiguration)
	}
	out := make([]string, len(qs))
	for i, q := range qs {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, fmt.Errorf("%w: question %d is blank", ErrInvalidConfiguration, i+1)
		}
		out[i] = q
	}
	return out, nil
}

func introText(cfg SessionConfig) string {
	greeting := "Hello"
	if cfg.IntervieweeName != "" {
		greeting += " " + cfg.IntervieweeName
	}
	position := ""
	if cfg.JobRole != "" {
		position = " for the " + cfg.JobRole + " position"
	}
	n := len(cfg.Questions)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("%s, welcome to your mock interview%s. I'll ask you %d question%s. Take your time with each answer.",
		greeting, position, n, plural)
}

func closingText(cfg SessionConfig) string {
	if cfg.IntervieweeName != "" {
		return fmt.Sprintf("That concludes our interview. Thank you for your time, %s!", cfg.IntervieweeName)
	}
	return "That concludes our interview. Thank you for your time!"
}
