package coach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/llm"
)

type fakeGenerator struct {
	replies []string
	err     error
	reqs    []llm.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", llm.ErrEmptyResponse
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func TestGenerateQuestions_NumberedList(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Here you go:\n1. Tell me about yourself.\n2) Why Go?\n3. Describe a hard bug.\n4. Explain channels."}}
	c := New(gen)
	qs, err := c.GenerateQuestions(context.Background(), Params{UserName: "Asha", JobRole: "Backend Engineer", QuestionCount: 3, TechStack: []string{"Go", "Postgres"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tell me about yourself.", "Why Go?", "Describe a hard bug."}, qs)

	require.Len(t, gen.reqs, 1)
	p := gen.reqs[0].Prompt
	assert.Contains(t, p, "Generate 3 interview questions for Asha")
	assert.Contains(t, p, "Backend Engineer position")
	assert.Contains(t, p, "with experience in Go, Postgres")
}

func TestGenerateQuestions_FallsBackToQuestionLines(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"What drives you?\nok?\nHow do you handle conflict?\nThanks"}}
	qs, err := New(gen).GenerateQuestions(context.Background(), Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"What drives you?", "How do you handle conflict?"}, qs)
	assert.Contains(t, gen.reqs[0].Prompt, "Generate 5 interview questions")
}

func TestGenerateQuestions_Errors(t *testing.T) {
	_, err := New(nil).GenerateQuestions(context.Background(), Params{})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = New(&fakeGenerator{replies: []string{"no questions here"}}).GenerateQuestions(context.Background(), Params{})
	assert.ErrorIs(t, err, ErrNoQuestions)

	boom := errors.New("quota")
	_, err = New(&fakeGenerator{err: boom}).GenerateQuestions(context.Background(), Params{})
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeAnswer_ParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"```json\n{\"clarity\":8,\"relevance\":7,\"completeness\":6,\"fillerWordsCount\":2,\"fillerWords\":[\"um\",\"like\"],\"confidenceLevel\":7,\"suggestions\":[\"a\",\"b\",\"c\"],\"responseTimeScore\":6,\"overallScore\":7.5}\n```"}}
	fb := New(gen).AnalyzeAnswer(context.Background(), "Why Go?", "um I like it", "", "", 4200*time.Millisecond)
	assert.Equal(t, 8.0, fb.Clarity)
	assert.Equal(t, 7.5, fb.OverallScore)
	assert.Equal(t, []string{"um", "like"}, fb.FillerWords)
	assert.Equal(t, 4.2, fb.ResponseTime)
	require.Len(t, gen.reqs, 1)
	assert.True(t, gen.reqs[0].JSON)
	assert.Contains(t, gen.reqs[0].Prompt, "software developer position at intermediate level")
	assert.Contains(t, gen.reqs[0].Prompt, "took 4.2 seconds")
}

func TestAnalyzeAnswer_DefaultsOnFailure(t *testing.T) {
	for name, gen := range map[string]llm.Generator{
		"model error": &fakeGenerator{err: errors.New("down")},
		"bad json":    &fakeGenerator{replies: []string{"not json"}},
		"no model":    nil,
	} {
		t.Run(name, func(t *testing.T) {
			fb := New(gen).AnalyzeAnswer(context.Background(), "q", "a", "r", "l", 3*time.Second)
			assert.Equal(t, DefaultFeedback(3*time.Second), fb)
			assert.Equal(t, 5.0, fb.ResponseTimeScore)
			assert.Len(t, fb.Suggestions, 3)
		})
	}
}

func TestReview_ScoresAndTranscript(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	transcript := []interview.TranscriptMessage{
		{Role: interview.RoleAssistant, Kind: interview.KindIntro, Text: "Hello", QuestionIndex: -1, At: t0},
		{Role: interview.RoleAssistant, Kind: interview.KindQuestion, Text: "Q1?", QuestionIndex: 0, At: t0},
		{Role: interview.RoleUser, Kind: interview.KindAnswer, Text: "A1", QuestionIndex: 0, At: t0.Add(5 * time.Second)},
		{Role: interview.RoleAssistant, Kind: interview.KindQuestion, Text: "Q2?", QuestionIndex: 1, At: t0.Add(7 * time.Second)},
		{Role: interview.RoleAssistant, Kind: interview.KindClosing, Text: "Bye", QuestionIndex: -1, At: t0.Add(40 * time.Second)},
	}
	answers := []interview.QA{
		{Question: "Q1?", Answer: "A1", Answered: true},
		{Question: "Q2?"},
	}
	gen := &fakeGenerator{replies: []string{`{"clarity":9,"relevance":9,"completeness":9,"confidenceLevel":9,"suggestions":[],"overallScore":9}`}}
	c := New(gen)
	c.now = func() time.Time { return t0 }

	fb, err := c.Review(context.Background(), ReviewInput{SessionID: "s1", JobRole: "SRE", Transcript: transcript, Answers: answers})
	require.NoError(t, err)
	assert.Equal(t, "s1", fb.SessionID)
	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, 4.5, fb.OverallScore)
	assert.Equal(t, []int{1}, fb.Unanswered)
	require.Len(t, fb.Answers, 2)
	require.NotNil(t, fb.Answers[0].Feedback)
	assert.Equal(t, 5.0, fb.Answers[0].Feedback.ResponseTime)
	assert.Nil(t, fb.Answers[1].Feedback)
	assert.True(t, strings.HasPrefix(fb.Transcript, "Interviewer: Hello\n\nInterviewer: Q1?\n\nCandidate: A1"))
	assert.Len(t, gen.reqs, 1, "unanswered questions are not sent to the model")
}
