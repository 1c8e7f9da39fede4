package interview

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/speech"
	"github.com/sumans-19/PrepFlash-sub003/internal/speech/speechtest"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(e *Engine) *recorder {
	r := &recorder{}
	e.On(EventAll, func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(name EventName) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Name() == name {
			n++
		}
	}
	return n
}

func (r *recorder) waitCount(t *testing.T, name EventName, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(name) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, have %d", n, name, r.count(name))
}

// settle waits for in-flight deliveries so absence checks are meaningful.
func (r *recorder) settle() {
	time.Sleep(30 * time.Millisecond)
}

func messages(events []Event) []TranscriptMessage {
	var out []TranscriptMessage
	for _, ev := range events {
		if m, ok := ev.(MessageEvent); ok {
			out = append(out, m.Message)
		}
	}
	return out
}

func newTestEngine(t *testing.T, turns ...speechtest.Turn) (*Engine, *clock.Fake, *speechtest.Script, *recorder) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	script := speechtest.New(turns...)
	e := NewEngine(script, WithClock(clk))
	rec := record(e)
	t.Cleanup(e.Dispose)
	return e, clk, script, rec
}

// runToEnd drives n questions: after each speech-end it skips the advance pause.
func runToEnd(t *testing.T, clk *clock.Fake, rec *recorder, n int) {
	t.Helper()
	clk.Advance(DefaultTimings().ConnectDelay)
	for i := 1; i <= n; i++ {
		rec.waitCount(t, EventSpeechEnd, i)
		clk.Advance(DefaultTimings().AdvanceDelay)
	}
	rec.waitCount(t, EventCallEnd, 1)
}

func TestEngine_SingleQuestionAnswered(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Answer("I am a developer."))
	if err := e.Start(SessionConfig{IntervieweeName: "Asha", JobRole: "Backend Engineer", Questions: []string{"Tell me about yourself."}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if e.State() != Connecting {
		t.Fatalf("state = %v, want connecting", e.State())
	}
	runToEnd(t, clk, rec, 1)

	tr := e.Transcript()
	if len(tr) != 4 {
		t.Fatalf("expected 4 messages, got %+v", tr)
	}
	want := []struct {
		role Role
		kind MessageKind
	}{{RoleAssistant, KindIntro}, {RoleAssistant, KindQuestion}, {RoleUser, KindAnswer}, {RoleAssistant, KindClosing}}
	for i, w := range want {
		if tr[i].Role != w.role || tr[i].Kind != w.kind {
			t.Fatalf("message %d = %s/%s, want %s/%s", i, tr[i].Role, tr[i].Kind, w.role, w.kind)
		}
	}
	if tr[1].Text != "Tell me about yourself." || tr[2].Text != "I am a developer." {
		t.Fatalf("unexpected texts: %q / %q", tr[1].Text, tr[2].Text)
	}
	if e.State() != Finished {
		t.Fatalf("state = %v, want finished", e.State())
	}
	if got := e.Answers(); !got[0].Answered || got[0].Answer != "I am a developer." {
		t.Fatalf("unexpected answers %+v", got)
	}
	rec.settle()
	end := rec.snapshot()[len(rec.snapshot())-1].(CallEndEvent)
	if end.Reason != EndCompleted {
		t.Fatalf("reason = %s", end.Reason)
	}
	if script.Acquired() != 1 || script.Released() != 1 {
		t.Fatalf("acquire/release = %d/%d", script.Acquired(), script.Released())
	}
}

func TestEngine_EventOrderingAcrossQuestions(t *testing.T) {
	e, clk, script, rec := newTestEngine(t,
		speechtest.Answer("five years of Go"),
		speechtest.Silence(),
		speechtest.Answer("I would shard the table"),
	)
	qs := []string{"How long have you used Go?", "Describe a failure.", "How would you scale writes?"}
	if err := e.Start(SessionConfig{Questions: qs}); err != nil {
		t.Fatalf("start: %v", err)
	}
	runToEnd(t, clk, rec, len(qs))
	rec.settle()
	events := rec.snapshot()

	if _, ok := events[0].(CallStartEvent); !ok {
		t.Fatalf("first event = %s, want call-start", events[0].Name())
	}
	var lastSeq int64
	questionsAsked := 0
	answered := map[int]bool{}
	open := -1
	for _, ev := range events {
		if ev.Meta().Seq <= lastSeq {
			t.Fatalf("seq not increasing at %s", ev.Name())
		}
		lastSeq = ev.Meta().Seq
		switch ev := ev.(type) {
		case MessageEvent:
			m := ev.Message
			switch m.Kind {
			case KindQuestion:
				if m.QuestionIndex != questionsAsked {
					t.Fatalf("question %d asked out of order", m.QuestionIndex)
				}
				questionsAsked++
			case KindAnswer:
				if m.QuestionIndex >= questionsAsked || answered[m.QuestionIndex] {
					t.Fatalf("answer %d before its question or duplicated", m.QuestionIndex)
				}
				if open != -1 {
					t.Fatalf("answer recorded while capture window open")
				}
				answered[m.QuestionIndex] = true
			}
		case SpeechStartEvent:
			if open != -1 {
				t.Fatalf("speech-start %d while %d still open", ev.QuestionIndex, open)
			}
			open = ev.QuestionIndex
		case InterimTranscriptEvent:
			if open != ev.QuestionIndex {
				t.Fatalf("interim outside window")
			}
		case SpeechEndEvent:
			if open != ev.QuestionIndex {
				t.Fatalf("speech-end %d without start", ev.QuestionIndex)
			}
			open = -1
		}
	}
	if questionsAsked != 3 || len(answered) != 2 || answered[1] {
		t.Fatalf("asked=%d answered=%v", questionsAsked, answered)
	}
	if _, ok := events[len(events)-1].(CallEndEvent); !ok {
		t.Fatalf("last event = %s, want call-end", events[len(events)-1].Name())
	}
	if rec.count(EventSpeechStart) != 3 || script.Released() != 3 {
		t.Fatalf("speech-start=%d released=%d", rec.count(EventSpeechStart), script.Released())
	}
	if qa := e.Answers(); qa[1].Answered || qa[1].Question != qs[1] {
		t.Fatalf("silent question recorded as answered: %+v", qa[1])
	}
}

func TestEngine_CaptureErrorIsNonFatal(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Fail(errors.New("recognizer crashed")))
	if err := e.Start(SessionConfig{Questions: []string{"Tell me about yourself."}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	runToEnd(t, clk, rec, 1)
	rec.settle()

	events := rec.snapshot()
	questionAt, errorAt, closingAt := -1, -1, -1
	for i, ev := range events {
		switch ev := ev.(type) {
		case MessageEvent:
			if ev.Message.Role == RoleUser {
				t.Fatalf("unexpected user message %q", ev.Message.Text)
			}
			if ev.Message.Kind == KindQuestion {
				questionAt = i
			}
			if ev.Message.Kind == KindClosing {
				closingAt = i
			}
		case ErrorEvent:
			errorAt = i
			if !errors.Is(ev.Err, speech.ErrCaptureFailed) {
				t.Fatalf("error event = %v", ev.Err)
			}
		}
	}
	if !(questionAt < errorAt && errorAt < closingAt) {
		t.Fatalf("error not between question and closing: %d %d %d", questionAt, errorAt, closingAt)
	}
	if rec.count(EventError) != 1 {
		t.Fatalf("expected one error event")
	}
	if script.Acquired() != script.Released() {
		t.Fatalf("capture leaked: %d/%d", script.Acquired(), script.Released())
	}
}

func TestEngine_CaptureUnavailableStillAdvances(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Unavailable(), speechtest.Answer("ok"))
	if err := e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	runToEnd(t, clk, rec, 2)

	if script.Calls() != 2 || script.Acquired() != 1 || script.Released() != 1 {
		t.Fatalf("calls=%d acquired=%d released=%d", script.Calls(), script.Acquired(), script.Released())
	}
	rec.settle()
	var errEv ErrorEvent
	for _, ev := range rec.snapshot() {
		if ee, ok := ev.(ErrorEvent); ok {
			errEv = ee
		}
	}
	if !errors.Is(errEv.Err, speech.ErrCaptureUnavailable) || errEv.QuestionIndex != 0 {
		t.Fatalf("unexpected error event %+v", errEv)
	}
	if qa := e.Answers(); qa[0].Answered || !qa[1].Answered {
		t.Fatalf("unexpected answers %+v", qa)
	}
}

func TestEngine_DoubleStartRejected(t *testing.T) {
	e, clk, _, rec := newTestEngine(t, speechtest.Hold())
	cfg := SessionConfig{Questions: []string{"Q1?"}}
	if err := e.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Start(SessionConfig{Questions: []string{"Other?"}}); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second start while connecting = %v", err)
	}
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventSpeechStart, 1)
	before := len(rec.snapshot())
	if err := e.Start(SessionConfig{Questions: []string{"Other?"}}); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second start while active = %v", err)
	}
	rec.settle()
	if got := len(rec.snapshot()); got != before {
		t.Fatalf("rejected start emitted %d events", got-before)
	}
	if qs := e.Questions(); len(qs) != 1 || qs[0] != "Q1?" {
		t.Fatalf("first session mutated: %v", qs)
	}
	if tr := e.Transcript(); len(tr) != 2 || tr[1].Text != "Q1?" {
		t.Fatalf("first session transcript mutated: %+v", tr)
	}
}

func TestEngine_InvalidConfiguration(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	for _, cfg := range []SessionConfig{{}, {Questions: []string{"ok?", "  "}}} {
		if err := e.Start(cfg); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("Start(%+v) = %v", cfg, err)
		}
	}
	if e.State() != Inactive {
		t.Fatalf("state = %v", e.State())
	}
	rec.settle()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("invalid start emitted %d events", n)
	}
}

func TestEngine_StopBeforeCallStart(t *testing.T) {
	e, clk, script, rec := newTestEngine(t)
	if err := e.Start(SessionConfig{Questions: []string{"Q1?"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.Stop() {
		t.Fatalf("expected Stop to report success")
	}
	clk.Advance(time.Minute)
	rec.waitCount(t, EventCallEnd, 1)
	rec.settle()
	if rec.count(EventCallStart) != 0 || rec.count(EventMessage) != 0 || rec.count(EventCallEnd) != 1 {
		t.Fatalf("unexpected events: %d call-start, %d message, %d call-end",
			rec.count(EventCallStart), rec.count(EventMessage), rec.count(EventCallEnd))
	}
	if script.Calls() != 0 {
		t.Fatalf("capture started after stop")
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left pending: %d", clk.Pending())
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e, _, _, rec := newTestEngine(t)
	if e.Stop() {
		t.Fatalf("stop on inactive engine should report nothing to stop")
	}
	_ = e.Start(SessionConfig{Questions: []string{"Q1?"}})
	if !e.Stop() {
		t.Fatalf("first stop should succeed")
	}
	if e.Stop() {
		t.Fatalf("second stop should be a no-op")
	}
	rec.waitCount(t, EventCallEnd, 1)
	rec.settle()
	if rec.count(EventCallEnd) != 1 {
		t.Fatalf("expected one call-end, got %d", rec.count(EventCallEnd))
	}
}

func TestEngine_StopBetweenQuestions(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Answer("my answer"), speechtest.Answer("never"))
	_ = e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}})
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventSpeechEnd, 1)
	rec.waitCount(t, EventMessage, 3)

	if !e.Stop() {
		t.Fatalf("stop failed")
	}
	clk.Advance(time.Minute)
	rec.waitCount(t, EventCallEnd, 1)
	rec.settle()

	var questions, answers int
	for _, m := range messages(rec.snapshot()) {
		switch m.Kind {
		case KindQuestion:
			questions++
		case KindAnswer:
			answers++
		case KindClosing:
			t.Fatalf("closing message after stop")
		}
	}
	if questions != 1 || answers > 1 {
		t.Fatalf("questions=%d answers=%d", questions, answers)
	}
	events := rec.snapshot()
	if end, ok := events[len(events)-1].(CallEndEvent); !ok || end.Reason != EndStopped {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}
	if script.Calls() != 1 {
		t.Fatalf("second capture started: %d calls", script.Calls())
	}
}

func TestEngine_QueuedEventsDeliveredBeforeCallEnd(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	script := speechtest.New(speechtest.Hold())
	e := NewEngine(script, WithClock(clk))
	release := make(chan struct{})
	e.On(EventCallStart, func(Event) { <-release })
	rec := record(e)
	t.Cleanup(e.Dispose)

	_ = e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}})
	clk.Advance(DefaultTimings().ConnectDelay)
	deadline := time.Now().Add(2 * time.Second)
	for !script.Holding() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !script.Holding() {
		t.Fatalf("capture never started")
	}
	if !e.Stop() {
		t.Fatalf("stop failed")
	}
	clk.Advance(time.Minute)
	close(release)
	rec.waitCount(t, EventCallEnd, 1)
	rec.settle()

	var names []EventName
	var last int64
	for _, ev := range rec.snapshot() {
		names = append(names, ev.Name())
		if seq := ev.Meta().Seq; seq <= last {
			t.Fatalf("out of order delivery: seq %d after %d", seq, last)
		} else {
			last = seq
		}
	}
	want := []EventName{EventCallStart, EventMessage, EventMessage, EventSpeechStart, EventCallEnd}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}
}

func TestEngine_StopWhileListeningReleasesCapture(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Hold("I think"))
	_ = e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}})
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventInterimTranscript, 1)

	e.Stop()
	rec.waitCount(t, EventCallEnd, 1)
	if script.Holding() {
		t.Fatalf("capture still held after stop")
	}
	if script.Finish("too late") {
		t.Fatalf("late final accepted by a released capture")
	}
	clk.Advance(time.Minute)
	rec.settle()
	if rec.count(EventSpeechEnd) != 0 {
		t.Fatalf("speech-end emitted after stop")
	}
	for _, m := range messages(rec.snapshot()) {
		if m.Role == RoleUser {
			t.Fatalf("user message after stop: %q", m.Text)
		}
	}
	if script.Acquired() != 1 || script.Released() != 1 {
		t.Fatalf("acquire/release = %d/%d", script.Acquired(), script.Released())
	}
}

func TestEngine_ListenWindowTimesOut(t *testing.T) {
	e, clk, script, rec := newTestEngine(t, speechtest.Hold("still thinking"), speechtest.Answer("done"))
	_ = e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}})
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventInterimTranscript, 1)

	clk.Advance(DefaultTimings().ListenWindow)
	rec.waitCount(t, EventSpeechEnd, 1)
	clk.Advance(DefaultTimings().AdvanceDelay)
	rec.waitCount(t, EventSpeechEnd, 2)
	clk.Advance(DefaultTimings().AdvanceDelay)
	rec.waitCount(t, EventCallEnd, 1)

	qa := e.Answers()
	if qa[0].Answered || !qa[1].Answered {
		t.Fatalf("unexpected answers %+v", qa)
	}
	if script.Acquired() != 2 || script.Released() != 2 {
		t.Fatalf("acquire/release = %d/%d", script.Acquired(), script.Released())
	}
}

func TestEngine_HandlerMayStopAndOff(t *testing.T) {
	e, clk, _, rec := newTestEngine(t, speechtest.Answer("one"), speechtest.Answer("two"))
	var sub Subscription
	var calls atomic.Int32
	sub = e.On(EventSpeechEnd, func(Event) {
		calls.Add(1)
		e.Off(sub)
		e.Stop()
	})
	_ = e.Start(SessionConfig{Questions: []string{"Q1?", "Q2?"}})
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventCallEnd, 1)
	clk.Advance(time.Minute)
	rec.settle()
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler called %d times", n)
	}
	if rec.count(EventSpeechStart) != 1 {
		t.Fatalf("second question started after handler stop")
	}
}

func TestEngine_RestartAfterFinish(t *testing.T) {
	e, clk, _, rec := newTestEngine(t, speechtest.Answer("first"), speechtest.Answer("second"))
	_ = e.Start(SessionConfig{Questions: []string{"Q1?"}})
	runToEnd(t, clk, rec, 1)
	firstID := e.SessionID()
	if len(e.Transcript()) != 4 {
		t.Fatalf("transcript should remain readable after call-end")
	}

	if err := e.Start(SessionConfig{Questions: []string{"Again?"}}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(e.Transcript()) != 0 || e.CurrentQuestionIndex() != 0 {
		t.Fatalf("restart did not reset session state")
	}
	if e.SessionID() == firstID {
		t.Fatalf("expected a new session id")
	}
	clk.Advance(DefaultTimings().ConnectDelay)
	rec.waitCount(t, EventSpeechEnd, 2)
	clk.Advance(DefaultTimings().AdvanceDelay)
	rec.waitCount(t, EventCallEnd, 2)
	if tr := e.Transcript(); tr[2].Text != "second" {
		t.Fatalf("unexpected second transcript %+v", tr)
	}
}

func TestEngine_SubscribeChannel(t *testing.T) {
	e, clk, _, _ := newTestEngine(t, speechtest.Answer("hi"))
	ch, cancel := e.Subscribe(64)
	defer cancel()
	_ = e.Start(SessionConfig{Questions: []string{"Q1?"}})
	clk.Advance(DefaultTimings().ConnectDelay)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Name() == EventSpeechEnd {
				clk.Advance(DefaultTimings().AdvanceDelay)
			}
			if ev.Name() == EventCallEnd {
				cancel()
				if _, ok := <-ch; ok {
					t.Fatalf("expected channel closed after cancel")
				}
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for call-end on channel")
		}
	}
}

func TestIntroAndClosingText(t *testing.T) {
	cfg := SessionConfig{IntervieweeName: "Asha", JobRole: "SRE", Questions: []string{"a", "b"}}
	if got := introText(cfg); got != "Hello Asha, welcome to your mock interview for the SRE position. I'll ask you 2 questions. Take your time with each answer." {
		t.Fatalf("intro = %q", got)
	}
	if got := introText(SessionConfig{Questions: []string{"a"}}); got != "Hello, welcome to your mock interview. I'll ask you 1 question. Take your time with each answer." {
		t.Fatalf("intro = %q", got)
	}
	if got := closingText(SessionConfig{}); got != "That concludes our interview. Thank you for your time!" {
		t.Fatalf("closing = %q", got)
	}
}
