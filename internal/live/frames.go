package live

import (
	"github.com/sumans-19/PrepFlash-sub003/internal/binding"
	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
)

// Client frame types.
const (
	frameAuth         = "auth"
	frameStart        = "start"
	frameStop         = "stop"
	frameTranscript   = "transcript"
	frameCaptureError = "capture-error"
	frameOffer        = "offer"
	frameCandidate    = "candidate"
	frameBye          = "bye"
)

// Server frame types.
const (
	frameEvent       = "event"
	frameState       = "state"
	frameListen      = "listen"
	frameAnswer      = "answer"
	frameICEComplete = "ice-complete"
	frameFeedback    = "feedback"
	frameError       = "error"
)

// Capture modes of a start frame.
const (
	captureRelay  = "relay"
	captureStream = "stream"
)

// inbound is any client frame; Type selects which fields are meaningful.
type inbound struct {
	Type string `json:"type"`

	// auth
	Password string `json:"password,omitempty"`

	// start
	Name            string   `json:"name,omitempty"`
	Role            string   `json:"role,omitempty"`
	Questions       []string `json:"questions,omitempty"`
	Capture         string   `json:"capture,omitempty"`
	InterviewID     string   `json:"interviewId,omitempty"`
	UserID          string   `json:"userId,omitempty"`
	SpeechSupported *bool    `json:"speechSupported,omitempty"`

	// transcript
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// capture-error
	Error string `json:"error,omitempty"`

	// offer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type outbound struct {
	Type string `json:"type"`

	// event
	Event  interview.EventName   `json:"event,omitempty"`
	Seq    uint64                `json:"seq,omitempty"`
	Role   interview.Role        `json:"role,omitempty"`
	Kind   interview.MessageKind `json:"kind,omitempty"`
	Text   string                `json:"text,omitempty"`
	Index  *int                  `json:"index,omitempty"`
	Total  int                   `json:"total,omitempty"`
	Reason interview.EndReason   `json:"reason,omitempty"`
	Error  string                `json:"error,omitempty"`

	// state
	View *binding.ViewState `json:"view,omitempty"`

	// listen
	On *bool `json:"on,omitempty"`

	// answer / candidate
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	Feedback *coach.Feedback `json:"feedback,omitempty"`
}

func eventFrame(ev interview.Event) outbound {
	out := outbound{Type: frameEvent, Event: ev.Name(), Seq: ev.Meta().Seq}
	index := func(i int) *int { return &i }
	switch e := ev.(type) {
	case interview.CallStartEvent:
		out.Total = e.TotalQuestions
	case interview.SpeechStartEvent:
		out.Index = index(e.QuestionIndex)
	case interview.InterimTranscriptEvent:
		out.Index = index(e.QuestionIndex)
		out.Text = e.Text
	case interview.SpeechEndEvent:
		out.Index = index(e.QuestionIndex)
	case interview.MessageEvent:
		out.Role = e.Message.Role
		out.Kind = e.Message.Kind
		out.Text = e.Message.Text
		out.Index = index(e.Message.QuestionIndex)
	case interview.ErrorEvent:
		out.Index = index(e.QuestionIndex)
		if e.Err != nil {
			out.Error = e.Err.Error()
		}
	case interview.CallEndEvent:
		out.Reason = e.Reason
	}
	return out
}

func errorFrame(err error) outbound {
	return outbound{Type: frameError, Error: err.Error()}
}
