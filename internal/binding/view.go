// Package binding projects the interview event stream onto renderable state.
package binding

import (
	"sync"
	"time"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
)

// Source is the part of *interview.Engine a View drives.
type Source interface {
	On(name interview.EventName, h interview.Handler) interview.Subscription
	Off(sub interview.Subscription)
	Start(cfg interview.SessionConfig) error
	Stop() bool
	SessionID() string
	Answers() []interview.QA
}

// ViewState is what a client renders.
type ViewState struct {
	CallState            interview.CallState           `json:"callState"`
	SessionID            string                        `json:"sessionId,omitempty"`
	CurrentQuestionIndex int                           `json:"currentQuestionIndex"`
	TotalQuestions       int                           `json:"totalQuestions"`
	CurrentQuestion      string                        `json:"currentQuestion,omitempty"`
	Messages             []interview.TranscriptMessage `json:"messages"`
	Interim              string                        `json:"interim,omitempty"`
	Listening            bool                          `json:"listening"`
	CouldNotHear         bool                          `json:"couldNotHear"`
	Ended                bool                          `json:"ended"`
	EndReason            interview.EndReason           `json:"endReason,omitempty"`
	Elapsed              time.Duration                 `json:"elapsed"`
}

// Result is handed to OnFinished when a session ends.
type Result struct {
	SessionID  string                        `json:"sessionId"`
	Reason     interview.EndReason           `json:"reason"`
	Transcript []interview.TranscriptMessage `json:"transcript"`
	Answers    []interview.QA                `json:"answers"`
	Elapsed    time.Duration                 `json:"elapsed"`
	EndedAt    time.Time                     `json:"endedAt"`
}

type View struct {
	src Source
	clk clock.Clock
	sub interview.Subscription

	mu         sync.Mutex
	st         ViewState
	startedAt  time.Time
	tick       clock.Timer
	onChange   func(ViewState)
	onFinished func(Result)

	// prev is a session replaced by Start before its call-end arrived.
	prev *replaced
}

type replaced struct {
	id        string
	messages  []interview.TranscriptMessage
	answers   []interview.QA
	startedAt time.Time
	elapsed   time.Duration
}

func New(src Source, clk clock.Clock) *View {
	if clk == nil {
		clk = clock.Real()
	}
	v := &View{src: src, clk: clk}
	v.sub = src.On(interview.EventAll, v.handle)
	return v
}

// OnChange registers fn to receive every new ViewState, including the
// once-a-second elapsed updates while active.
func (v *View) OnChange(fn func(ViewState)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// OnFinished registers fn to receive the session result at call-end.
func (v *View) OnFinished(fn func(Result)) {
	v.mu.Lock()
	v.onFinished = fn
	v.mu.Unlock()
}

// Start starts a session and clears the previous session's display state.
// A rejected start leaves the display untouched. If the previous session's
// call-end is still in flight its result is reported when it arrives.
func (v *View) Start(cfg interview.SessionConfig) error {
	answers := v.src.Answers()
	if err := v.src.Start(cfg); err != nil {
		return err
	}
	v.mu.Lock()
	if v.st.SessionID != "" && !v.st.Ended {
		v.prev = &replaced{
			id:        v.st.SessionID,
			messages:  append([]interview.TranscriptMessage(nil), v.st.Messages...),
			answers:   answers,
			startedAt: v.startedAt,
			elapsed:   v.elapsedLocked(),
		}
	}
	v.resetLocked()
	v.st.SessionID = v.src.SessionID()
	v.st.CallState = interview.Connecting
	v.st.TotalQuestions = len(cfg.Questions)
	st, fn := v.snapshotLocked(), v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}
	return nil
}

// EndInterview is the user's request to hang up.
func (v *View) EndInterview() bool { return v.src.Stop() }

func (v *View) Snapshot() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Close detaches the view from its source.
func (v *View) Close() {
	v.src.Off(v.sub)
	v.mu.Lock()
	clock.Stop(v.tick)
	v.tick = nil
	v.mu.Unlock()
}

func (v *View) handle(ev interview.Event) {
	v.mu.Lock()
	if v.prev != nil && ev.Meta().SessionID == v.prev.id {
		v.handleReplacedLocked(ev)
		return
	}
	if id := ev.Meta().SessionID; v.st.SessionID != "" && id != v.st.SessionID && ev.Name() != interview.EventCallStart {
		// late event from a session this view has already moved past
		v.mu.Unlock()
		return
	}
	var result *Result
	switch ev := ev.(type) {
	case interview.CallStartEvent:
		if v.st.SessionID != ev.SessionID {
			v.resetLocked()
			v.st.SessionID = ev.SessionID
		}
		v.st.CallState = interview.Active
		v.st.TotalQuestions = ev.TotalQuestions
		v.startedAt = v.clk.Now()
		v.scheduleTickLocked()
	case interview.MessageEvent:
		v.st.Messages = append(v.st.Messages, ev.Message)
		if ev.Message.Kind == interview.KindQuestion {
			v.st.CurrentQuestionIndex = ev.Message.QuestionIndex
			v.st.CurrentQuestion = ev.Message.Text
			v.st.CouldNotHear = false
		}
	case interview.SpeechStartEvent:
		v.st.Listening = true
		v.st.Interim = ""
	case interview.InterimTranscriptEvent:
		v.st.Interim = ev.Text
	case interview.SpeechEndEvent:
		v.st.Listening = false
		v.st.Interim = ""
	case interview.ErrorEvent:
		v.st.CouldNotHear = true
	case interview.CallEndEvent:
		result = v.finishLocked(ev)
	}
	st, change, finished := v.snapshotLocked(), v.onChange, v.onFinished
	v.mu.Unlock()

	if change != nil {
		change(st)
	}
	if result != nil && finished != nil {
		finished(*result)
	}
}

// handleReplacedLocked records the tail of a replaced session without
// touching the display. It releases v.mu.
func (v *View) handleReplacedLocked(ev interview.Event) {
	var result *Result
	switch ev := ev.(type) {
	case interview.MessageEvent:
		v.prev.messages = append(v.prev.messages, ev.Message)
	case interview.CallEndEvent:
		p := v.prev
		v.prev = nil
		elapsed := p.elapsed
		if !p.startedAt.IsZero() {
			elapsed = ev.At.Sub(p.startedAt).Truncate(time.Second)
		}
		result = &Result{
			SessionID:  p.id,
			Reason:     ev.Reason,
			Transcript: p.messages,
			Answers:    p.answers,
			Elapsed:    elapsed,
			EndedAt:    ev.At,
		}
	}
	finished := v.onFinished
	v.mu.Unlock()
	if result != nil && finished != nil {
		finished(*result)
	}
}

// finishLocked captures the result, then clears per-session display state
// leaving only the terminal indicator.
func (v *View) finishLocked(ev interview.CallEndEvent) *Result {
	clock.Stop(v.tick)
	v.tick = nil
	elapsed := v.elapsedLocked()
	res := &Result{
		SessionID:  ev.SessionID,
		Reason:     ev.Reason,
		Transcript: append([]interview.TranscriptMessage(nil), v.st.Messages...),
		Answers:    v.src.Answers(),
		Elapsed:    elapsed,
		EndedAt:    ev.At,
	}
	sessionID := v.st.SessionID
	if sessionID == "" {
		sessionID = ev.SessionID
	}
	v.resetLocked()
	v.st.SessionID = sessionID
	v.st.CallState = interview.Finished
	v.st.Ended = true
	v.st.EndReason = ev.Reason
	v.st.Elapsed = elapsed
	return res
}

func (v *View) resetLocked() {
	clock.Stop(v.tick)
	v.tick = nil
	v.st = ViewState{}
	v.startedAt = time.Time{}
}

func (v *View) scheduleTickLocked() {
	clock.Stop(v.tick)
	v.tick = v.clk.AfterFunc(time.Second, v.onTick)
}

func (v *View) onTick() {
	v.mu.Lock()
	if v.st.CallState != interview.Active {
		v.mu.Unlock()
		return
	}
	v.st.Elapsed = v.elapsedLocked()
	v.scheduleTickLocked()
	st, fn := v.snapshotLocked(), v.onChange
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (v *View) elapsedLocked() time.Duration {
	if v.startedAt.IsZero() {
		return v.st.Elapsed
	}
	return v.clk.Now().Sub(v.startedAt).Truncate(time.Second)
}

func (v *View) snapshotLocked() ViewState {
	st := v.st
	st.Messages = append([]interview.TranscriptMessage(nil), v.st.Messages...)
	if st.CallState == interview.Active {
		st.Elapsed = v.elapsedLocked()
	}
	return st
}
