package interview

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration is returned by Start for a config that cannot
	// run an interview. The returned error wraps it with the reason.
	ErrInvalidConfiguration = errors.New("invalid interview configuration")
	// ErrSessionAlreadyActive is returned by Start while a session is connecting or active.
	ErrSessionAlreadyActive = errors.New("interview session already active")
	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("interview engine disposed")
)

// CallState is the lifecycle of one interview session.
type CallState int

const (
	Inactive CallState = iota
	Connecting
	Active
	Finished
)

func (s CallState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

func (s CallState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *CallState) UnmarshalText(b []byte) error {
	for _, c := range []CallState{Inactive, Connecting, Active, Finished} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", b)
}

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// MessageKind distinguishes the assistant's intro, questions and closing
// from user answers.
type MessageKind string

const (
	KindIntro    MessageKind = "intro"
	KindQuestion MessageKind = "question"
	KindAnswer   MessageKind = "answer"
	KindClosing  MessageKind = "closing"
)

// TranscriptMessage is one entry of the session transcript. QuestionIndex is
// the question a question or answer belongs to, or -1 for intro and closing.
type TranscriptMessage struct {
	Role          Role        `json:"role"`
	Kind          MessageKind `json:"kind"`
	Text          string      `json:"text"`
	IsFinal       bool        `json:"isFinal"`
	QuestionIndex int         `json:"questionIndex"`
	At            time.Time   `json:"at"`
}

type SessionConfig struct {
	IntervieweeName string   `json:"name"`
	JobRole         string   `json:"role"`
	Questions       []string `json:"questions"`
}

// QA pairs a question with the captured answer. Answered is false when the
// candidate stayed silent or capture failed.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Answered bool   `json:"answered"`
}

// Timings are the pacing delays of a session.
type Timings struct {
	// ConnectDelay is the simulated connection time before call-start.
	ConnectDelay time.Duration
	// AdvanceDelay is the pause after an answer before the next question.
	AdvanceDelay time.Duration
	// ListenWindow bounds how long one answer may be captured.
	ListenWindow time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ConnectDelay: 1500 * time.Millisecond,
		AdvanceDelay: 2000 * time.Millisecond,
		ListenWindow: 30 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.ConnectDelay <= 0 {
		t.ConnectDelay = d.ConnectDelay
	}
	if t.AdvanceDelay <= 0 {
		t.AdvanceDelay = d.AdvanceDelay
	}
	if t.ListenWindow <= 0 {
		t.ListenWindow = d.ListenWindow
	}
	return t
}
