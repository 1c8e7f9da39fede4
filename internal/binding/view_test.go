package binding

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/speech/speechtest"
)

type harness struct {
	clk    *clock.Fake
	engine *interview.Engine
	view   *View

	mu      sync.Mutex
	results []Result
}

func newHarness(t *testing.T, turns ...speechtest.Turn) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	eng := interview.NewEngine(speechtest.New(turns...), interview.WithClock(clk))
	h := &harness{clk: clk, engine: eng, view: New(eng, clk)}
	h.view.OnFinished(func(r Result) {
		h.mu.Lock()
		h.results = append(h.results, r)
		h.mu.Unlock()
	})
	t.Cleanup(func() {
		h.view.Close()
		eng.Dispose()
	})
	return h
}

func (h *harness) finished() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Result(nil), h.results...)
}

func (h *harness) waitState(t *testing.T, cond func(ViewState) bool) ViewState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := h.view.Snapshot(); cond(st) {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("view never reached expected state: %+v", h.view.Snapshot())
	return ViewState{}
}

func TestView_TracksSessionAndElapsed(t *testing.T) {
	h := newHarness(t, speechtest.Hold("I have", "I have built"))
	require.NoError(t, h.view.Start(interview.SessionConfig{
		IntervieweeName: "Asha",
		Questions:       []string{"Tell me about yourself.", "Why us?"},
	}))
	assert.Equal(t, interview.Connecting, h.view.Snapshot().CallState)

	h.clk.Advance(interview.DefaultTimings().ConnectDelay)
	st := h.waitState(t, func(s ViewState) bool { return s.Interim == "I have built" })
	assert.Equal(t, interview.Active, st.CallState)
	assert.Equal(t, 2, st.TotalQuestions)
	assert.Equal(t, 0, st.CurrentQuestionIndex)
	assert.Equal(t, "Tell me about yourself.", st.CurrentQuestion)
	assert.True(t, st.Listening)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, interview.KindIntro, st.Messages[0].Kind)

	h.clk.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, h.view.Snapshot().Elapsed)

	require.True(t, h.view.EndInterview())
	st = h.waitState(t, func(s ViewState) bool { return s.Ended })
	assert.Equal(t, interview.Finished, st.CallState)
	assert.Equal(t, interview.EndStopped, st.EndReason)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.Interim)
	assert.False(t, st.Listening)
	assert.Equal(t, 3*time.Second, st.Elapsed)

	res := h.finished()
	require.Len(t, res, 1)
	assert.Equal(t, interview.EndStopped, res[0].Reason)
	assert.Len(t, res[0].Transcript, 2)
	require.Len(t, res[0].Answers, 2)
	assert.False(t, res[0].Answers[0].Answered)

	h.clk.Advance(5 * time.Second)
	assert.Equal(t, 3*time.Second, h.view.Snapshot().Elapsed, "elapsed must freeze after call-end")
}

func TestView_CouldNotHearOnError(t *testing.T) {
	h := newHarness(t, speechtest.Fail(errors.New("mic unplugged")), speechtest.Hold())
	require.NoError(t, h.view.Start(interview.SessionConfig{Questions: []string{"Q1?", "Q2?"}}))
	h.clk.Advance(interview.DefaultTimings().ConnectDelay)

	st := h.waitState(t, func(s ViewState) bool { return s.CouldNotHear && !s.Listening })
	assert.Equal(t, 0, st.CurrentQuestionIndex)

	h.clk.Advance(interview.DefaultTimings().AdvanceDelay)
	st = h.waitState(t, func(s ViewState) bool { return s.CurrentQuestionIndex == 1 && s.Listening })
	assert.False(t, st.CouldNotHear, "indicator clears on the next question")
}

func TestView_NeverShowsAnswerBeforeQuestion(t *testing.T) {
	h := newHarness(t, speechtest.Answer("first answer"), speechtest.Answer("second answer"))
	var mu sync.Mutex
	var violations []string
	h.view.OnChange(func(s ViewState) {
		asked := map[int]bool{}
		for _, m := range s.Messages {
			switch m.Kind {
			case interview.KindQuestion:
				asked[m.QuestionIndex] = true
			case interview.KindAnswer:
				if !asked[m.QuestionIndex] {
					mu.Lock()
					violations = append(violations, m.Text)
					mu.Unlock()
				}
			}
		}
	})
	require.NoError(t, h.view.Start(interview.SessionConfig{Questions: []string{"Q1?", "Q2?"}}))
	h.clk.Advance(interview.DefaultTimings().ConnectDelay)
	h.waitState(t, func(s ViewState) bool { return len(s.Messages) == 3 })
	h.clk.Advance(interview.DefaultTimings().AdvanceDelay)
	h.waitState(t, func(s ViewState) bool { return len(s.Messages) == 5 })
	h.clk.Advance(interview.DefaultTimings().AdvanceDelay)
	h.waitState(t, func(s ViewState) bool { return s.Ended })

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
	res := h.finished()
	require.Len(t, res, 1)
	assert.Equal(t, interview.EndCompleted, res[0].Reason)
	assert.Len(t, res[0].Transcript, 6)
}

func TestView_RestartClearsDisplay(t *testing.T) {
	h := newHarness(t, speechtest.Answer("done"), speechtest.Hold())
	require.NoError(t, h.view.Start(interview.SessionConfig{Questions: []string{"Q1?"}}))
	h.clk.Advance(interview.DefaultTimings().ConnectDelay)
	h.waitState(t, func(s ViewState) bool { return len(s.Messages) == 3 })
	h.clk.Advance(interview.DefaultTimings().AdvanceDelay)
	h.waitState(t, func(s ViewState) bool { return s.Ended })

	require.NoError(t, h.view.Start(interview.SessionConfig{Questions: []string{"A?", "B?", "C?"}}))
	st := h.view.Snapshot()
	assert.False(t, st.Ended)
	assert.Equal(t, interview.Connecting, st.CallState)
	assert.Equal(t, 3, st.TotalQuestions)
	assert.Empty(t, st.Messages)
	assert.Zero(t, st.Elapsed)

	err := h.view.Start(interview.SessionConfig{Questions: []string{"X?"}})
	assert.ErrorIs(t, err, interview.ErrSessionAlreadyActive)
	assert.Equal(t, 3, h.view.Snapshot().TotalQuestions, "rejected start keeps display")
}

func TestView_StoppedSessionReportedAfterQuickRestart(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	eng := interview.NewEngine(speechtest.New(speechtest.Hold("well"), speechtest.Hold()), interview.WithClock(clk))
	release := make(chan struct{})
	eng.On(interview.EventCallEnd, func(interview.Event) { <-release })
	view := New(eng, clk)
	var mu sync.Mutex
	var results []Result
	view.OnFinished(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	t.Cleanup(func() {
		view.Close()
		eng.Dispose()
	})

	require.NoError(t, view.Start(interview.SessionConfig{Questions: []string{"Q1?", "Q2?"}}))
	first := view.Snapshot().SessionID
	clk.Advance(interview.DefaultTimings().ConnectDelay)
	deadline := time.Now().Add(2 * time.Second)
	for !view.Snapshot().Listening && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, view.Snapshot().Listening)

	require.True(t, view.EndInterview())
	require.NoError(t, view.Start(interview.SessionConfig{Questions: []string{"Next?"}}))
	second := view.Snapshot().SessionID
	require.NotEqual(t, first, second)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 2*time.Second, time.Millisecond)
	mu.Lock()
	res := results[0]
	mu.Unlock()
	assert.Equal(t, first, res.SessionID)
	assert.Equal(t, interview.EndStopped, res.Reason)
	assert.Len(t, res.Transcript, 2)
	require.Len(t, res.Answers, 2)
	assert.Equal(t, "Q1?", res.Answers[0].Question)

	st := view.Snapshot()
	assert.Equal(t, second, st.SessionID)
	assert.Equal(t, interview.Connecting, st.CallState)
	assert.False(t, st.Ended)
}
