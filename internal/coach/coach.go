// Package coach generates interview questions and scores answers with an LLM.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/llm"
)

const (
	DefaultQuestionCount   = 5
	defaultJobRole         = "software developer"
	defaultExperienceLevel = "intermediate"
)

var (
	ErrUnavailable = errors.New("coach: no language model configured")
	ErrNoQuestions = errors.New("coach: could not extract questions")
)

// Params describe the candidate questions are generated for.
type Params struct {
	UserName        string   `json:"userName"`
	JobRole         string   `json:"jobRole"`
	Industry        string   `json:"industry,omitempty"`
	ExperienceLevel string   `json:"experienceLevel,omitempty"`
	QuestionCount   int      `json:"questionCount,omitempty"`
	TechStack       []string `json:"techStack,omitempty"`
}

// AnswerFeedback scores one answer. Scores are on a 1-10 scale.
type AnswerFeedback struct {
	Clarity           float64  `json:"clarity"`
	Relevance         float64  `json:"relevance"`
	Completeness      float64  `json:"completeness"`
	FillerWordsCount  int      `json:"fillerWordsCount"`
	FillerWords       []string `json:"fillerWords"`
	ConfidenceLevel   float64  `json:"confidenceLevel"`
	Suggestions       []string `json:"suggestions"`
	OverallScore      float64  `json:"overallScore"`
	ResponseTime      float64  `json:"responseTime,omitempty"`
	ResponseTimeScore float64  `json:"responseTimeScore,omitempty"`
}

// AnswerReview is the feedback for one question of a session.
type AnswerReview struct {
	QuestionIndex int             `json:"questionIndex"`
	Question      string          `json:"question"`
	Answer        string          `json:"answer,omitempty"`
	Answered      bool            `json:"answered"`
	Feedback      *AnswerFeedback `json:"feedback,omitempty"`
}

// Feedback is the review of a whole session.
type Feedback struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	OverallScore float64        `json:"overallScore"`
	Answers      []AnswerReview `json:"answers"`
	Unanswered   []int          `json:"unanswered,omitempty"`
	Transcript   string         `json:"transcript"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// ReviewInput is a finished session as the coach sees it.
type ReviewInput struct {
	SessionID       string
	JobRole         string
	ExperienceLevel string
	Transcript      []interview.TranscriptMessage
	Answers         []interview.QA
}

type Coach struct {
	gen llm.Generator
	now func() time.Time
}

// New returns a Coach. gen may be nil, in which case question generation
// fails with ErrUnavailable and answers get the default feedback.
func New(gen llm.Generator) *Coach {
	return &Coach{gen: gen, now: time.Now}
}

func (c *Coach) Available() bool { return c != nil && c.gen != nil }

func (c *Coach) GenerateQuestions(ctx context.Context, p Params) ([]string, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}
	count := p.QuestionCount
	if count <= 0 {
		count = DefaultQuestionCount
	}
	text, err := c.gen.Generate(ctx, llm.Request{Prompt: questionsPrompt(p, count)})
	if err != nil {
		return nil, fmt.Errorf("coach: generate questions: %w", err)
	}
	qs := parseQuestions(text)
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	if len(qs) > count {
		qs = qs[:count]
	}
	return qs, nil
}

// AnalyzeAnswer never fails: any model or parse error yields DefaultFeedback.
func (c *Coach) AnalyzeAnswer(ctx context.Context, question, answer, jobRole, level string, responseTime time.Duration) AnswerFeedback {
	if !c.Available() {
		return DefaultFeedback(responseTime)
	}
	text, err := c.gen.Generate(ctx, llm.Request{
		Prompt: analysisPrompt(question, answer, orDefault(jobRole, defaultJobRole), orDefault(level, defaultExperienceLevel), responseTime),
		JSON:   true,
	})
	if err != nil {
		log.Printf("coach: analyze answer: %v", err)
		return DefaultFeedback(responseTime)
	}
	var fb AnswerFeedback
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &fb); err != nil {
		log.Printf("coach: bad feedback json: %v", err)
		return DefaultFeedback(responseTime)
	}
	if responseTime > 0 {
		fb.ResponseTime = roundTo(responseTime.Seconds(), 1)
	}
	return fb
}

// Review scores every question of a session. Unanswered questions count
// as zero toward the overall score.
func (c *Coach) Review(ctx context.Context, in ReviewInput) (Feedback, error) {
	fb := Feedback{
		ID:         uuid.NewString(),
		SessionID:  in.SessionID,
		Transcript: FormatTranscript(in.Transcript),
		CreatedAt:  c.now(),
	}
	if len(in.Answers) == 0 {
		return fb, nil
	}
	times := responseTimes(in.Transcript)
	var total float64
	for i, qa := range in.Answers {
		review := AnswerReview{QuestionIndex: i, Question: qa.Question, Answer: qa.Answer, Answered: qa.Answered}
		if !qa.Answered {
			fb.Unanswered = append(fb.Unanswered, i)
			fb.Answers = append(fb.Answers, review)
			continue
		}
		if err := ctx.Err(); err != nil {
			return fb, err
		}
		af := c.AnalyzeAnswer(ctx, qa.Question, qa.Answer, in.JobRole, in.ExperienceLevel, times[i])
		review.Feedback = &af
		total += af.OverallScore
		fb.Answers = append(fb.Answers, review)
	}
	fb.OverallScore = roundTo(total/float64(len(in.Answers)), 1)
	return fb, nil
}

// DefaultFeedback is returned when an answer cannot be analyzed.
func DefaultFeedback(responseTime time.Duration) AnswerFeedback {
	fb := AnswerFeedback{
		Clarity:         5,
		Relevance:       5,
		Completeness:    5,
		FillerWords:     []string{},
		ConfidenceLevel: 5,
		Suggestions: []string{
			"We couldn't analyze your answer in detail. Try speaking clearly.",
			"Make sure your microphone is working properly.",
			"Consider providing more detailed responses.",
		},
		OverallScore: 5,
	}
	if responseTime > 0 {
		fb.ResponseTime = roundTo(responseTime.Seconds(), 1)
		fb.ResponseTimeScore = 5
	}
	return fb
}

// FormatTranscript renders messages as Interviewer/Candidate paragraphs.
func FormatTranscript(msgs []interview.TranscriptMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "Candidate"
		if m.Role == interview.RoleAssistant {
			speaker = "Interviewer"
		}
		parts = append(parts, speaker+": "+m.Text)
	}
	return strings.Join(parts, "\n\n")
}

var numberedLine = regexp.MustCompile(`(?:\d+[.)]\s*)([^\n]+)`)
var leadingNumber = regexp.MustCompile(`^\d+[.)]\s*`)

func parseQuestions(text string) []string {
	var out []string
	for _, m := range numberedLine.FindAllStringSubmatch(text, -1) {
		if q := strings.TrimSpace(m[1]); q != "" {
			out = append(out, q)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 5 && strings.Contains(line, "?") {
			out = append(out, leadingNumber.ReplaceAllString(line, ""))
		}
	}
	return out
}

// responseTimes maps question index to the delay between the question and
// its answer.
func responseTimes(msgs []interview.TranscriptMessage) map[int]time.Duration {
	asked := map[int]time.Time{}
	out := map[int]time.Duration{}
	for _, m := range msgs {
		switch m.Kind {
		case interview.KindQuestion:
			asked[m.QuestionIndex] = m.At
		case interview.KindAnswer:
			if at, ok := asked[m.QuestionIndex]; ok && m.At.After(at) {
				out[m.QuestionIndex] = m.At.Sub(at)
			}
		}
	}
	return out
}

func questionsPrompt(p Params, count int) string {
	var b strings.Builder
	name := orDefault(p.UserName, "the candidate")
	fmt.Fprintf(&b, "Generate %d interview questions for %s who is applying for a %s position", count, name, orDefault(p.JobRole, defaultJobRole))
	if p.Industry != "" {
		fmt.Fprintf(&b, " in the %s industry", p.Industry)
	}
	if p.ExperienceLevel != "" {
		fmt.Fprintf(&b, " at a %s experience level", p.ExperienceLevel)
	}
	if len(p.TechStack) > 0 {
		fmt.Fprintf(&b, " with experience in %s", strings.Join(p.TechStack, ", "))
	}
	b.WriteString(".\n\nFormat the questions as a numbered list. Focus on both technical skills and soft skills.\n")
	b.WriteString("Make the questions challenging but appropriate for their experience level.")
	return b.String()
}

func analysisPrompt(question, answer, jobRole, level string, responseTime time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "As an expert interview coach, analyze this interview response for a %s position at %s level.\n\n", jobRole, level)
	fmt.Fprintf(&b, "Question: %q\n\nAnswer: %q\n\n", question, answer)
	if responseTime > 0 {
		fmt.Fprintf(&b, "The candidate took %.1f seconds to respond.\n\n", responseTime.Seconds())
	}
	b.WriteString(`Provide a detailed analysis in the following JSON format:
{
  "clarity": <number between 1-10>,
  "relevance": <number between 1-10>,
  "completeness": <number between 1-10>,
  "fillerWordsCount": <number of filler words used>,
  "fillerWords": [<array of filler words detected>],
  "confidenceLevel": <number between 1-10>,
  "suggestions": [<array of 3 specific improvement suggestions>],
`)
	if responseTime > 0 {
		b.WriteString(`  "responseTimeScore": <number between 1-10 based on how appropriate the response time was>,
`)
	}
	b.WriteString(`  "overallScore": <number between 1-10>
}

For fillerWords detection, look for words and phrases like "um", "uh", "like", "you know", "sort of", "kind of".
For overallScore, calculate a weighted average giving more importance to relevance and completeness.
Make your evaluation fair but constructive. Only return valid JSON without any additional text.`)
	return b.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
