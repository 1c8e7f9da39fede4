package interview

import (
	"encoding/json"
	"time"
)

type EventName string

const (
	EventCallStart         EventName = "call-start"
	EventSpeechStart       EventName = "speech-start"
	EventInterimTranscript EventName = "interim-transcript"
	EventSpeechEnd         EventName = "speech-end"
	EventMessage           EventName = "message"
	EventError             EventName = "error"
	EventCallEnd           EventName = "call-end"

	// EventAll subscribes a handler to every event.
	EventAll EventName = "*"
)

// Event is one engine notification. Concrete types are CallStartEvent,
// SpeechStartEvent, InterimTranscriptEvent, SpeechEndEvent, MessageEvent,
// ErrorEvent and CallEndEvent.
type Event interface {
	Name() EventName
	Meta() EventMeta
}

// EventMeta is shared by all events. Seq increases by one per event emitted
// by an engine, across sessions.
type EventMeta struct {
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"seq"`
	At        time.Time `json:"at"`
}

func (m EventMeta) Meta() EventMeta { return m }

type CallStartEvent struct {
	EventMeta
	TotalQuestions int `json:"totalQuestions"`
}

func (CallStartEvent) Name() EventName { return EventCallStart }

// SpeechStartEvent marks the opening of the answer window for a question.
type SpeechStartEvent struct {
	EventMeta
	QuestionIndex int `json:"questionIndex"`
}

func (SpeechStartEvent) Name() EventName { return EventSpeechStart }

type InterimTranscriptEvent struct {
	EventMeta
	QuestionIndex int    `json:"questionIndex"`
	Text          string `json:"text"`
}

func (InterimTranscriptEvent) Name() EventName { return EventInterimTranscript }

// SpeechEndEvent closes the answer window. Captured is false when no answer
// was recorded.
type SpeechEndEvent struct {
	EventMeta
	QuestionIndex int  `json:"questionIndex"`
	Captured      bool `json:"captured"`
}

func (SpeechEndEvent) Name() EventName { return EventSpeechEnd }

type MessageEvent struct {
	EventMeta
	Message TranscriptMessage `json:"message"`
}

func (MessageEvent) Name() EventName { return EventMessage }

// ErrorEvent reports a capture problem. Err matches speech.ErrCaptureUnavailable
// or speech.ErrCaptureFailed under errors.Is.
type ErrorEvent struct {
	EventMeta
	QuestionIndex int   `json:"questionIndex"`
	Err           error `json:"-"`
}

func (ErrorEvent) Name() EventName { return EventError }

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error"`
	}{alias(e), msg})
}

type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndStopped   EndReason = "stopped"
)

type CallEndEvent struct {
	EventMeta
	Reason EndReason `json:"reason"`
}

func (CallEndEvent) Name() EventName { return EventCallEnd }

// Handler receives events on the engine's dispatch goroutine. Handlers may
// call back into the engine, including Stop.
type Handler func(Event)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	id   int
	name EventName
}
