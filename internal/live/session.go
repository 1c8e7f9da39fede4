package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sumans-19/PrepFlash-sub003/internal/binding"
	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/rtc"
	"github.com/sumans-19/PrepFlash-sub003/internal/speech"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
)

const finishTimeout = 2 * time.Minute

var (
	errStreamUnavailable = errors.New("stream capture unavailable: ASSEMBLYAI_API_KEY not set")
	errRTCUnavailable    = errors.New("webrtc unavailable")
	errNoPeer            = errors.New("no peer connection")
	errUnknownCapture    = errors.New("unknown capture mode")
)

// captureSwitch routes capture windows to the mode chosen by the latest
// start frame.
type captureSwitch struct {
	mu  sync.Mutex
	cur speech.Capturer
}

func (c *captureSwitch) set(next speech.Capturer) {
	c.mu.Lock()
	c.cur = next
	c.mu.Unlock()
}

func (c *captureSwitch) StartCapture(ctx context.Context) (speech.Capture, error) {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return nil, speech.ErrCaptureUnavailable
	}
	return cur.StartCapture(ctx)
}

// startInfo is what the session remembers about the running interview for
// its stored record.
type startInfo struct {
	sessionID   string
	interviewID string
	userID      string
	cfg         interview.SessionConfig
	startedAt   time.Time
}

// session is one WebSocket connection. It owns an engine for its lifetime;
// consecutive start frames reuse it.
type session struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	wmu  sync.Mutex

	engine  *interview.Engine
	view    *binding.View
	capture *captureSwitch
	relay   *speech.RelayCapturer
	hub     *speech.PCMHub
	stream  *speech.AssemblyAI

	mu   sync.Mutex
	info startInfo
	// prev belongs to the interview a restart replaced, whose call-end may
	// still be in flight.
	prev    startInfo
	peer    *rtc.Peer
	speaker *rtc.Speaker
	wg      sync.WaitGroup
	// ended receives the session id of each call-end handed to finish.
	ended chan string
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	s := &session{
		id:      uuid.NewString()[:8],
		srv:     srv,
		conn:    conn,
		capture: &captureSwitch{},
		hub:     speech.NewPCMHub(),
		ended:   make(chan string, 4),
	}
	s.relay = speech.NewRelayCapturer(func(on bool) {
		s.write(outbound{Type: frameListen, On: &on})
	})
	if srv.deps.AssemblyAIKey != "" {
		s.stream = speech.NewAssemblyAI(srv.deps.AssemblyAIKey, s.hub)
		s.stream.Clock = srv.deps.Clock
	}
	s.engine = interview.NewEngine(s.capture,
		interview.WithClock(srv.deps.Clock),
		interview.WithTimings(srv.deps.Timings),
	)
	// registered before the view so each event frame precedes its state frame
	s.engine.On(interview.EventAll, func(ev interview.Event) { s.write(eventFrame(ev)) })
	s.view = binding.New(s.engine, srv.deps.Clock)
	s.view.OnChange(func(st binding.ViewState) { s.write(outbound{Type: frameState, View: &st}) })
	s.view.OnFinished(func(res binding.Result) {
		s.mu.Lock()
		info := s.info
		if res.SessionID != info.sessionID && res.SessionID == s.prev.sessionID {
			info = s.prev
		}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.finish(info, res)
		}()
		s.signalEnded(res.SessionID)
	})
	log.Printf("[%s] session socket opened", s.id)
	return s
}

// signalEnded never blocks event delivery; a full buffer drops its oldest
// id.
func (s *session) signalEnded(id string) {
	for {
		select {
		case s.ended <- id:
			return
		default:
		}
		select {
		case <-s.ended:
		default:
		}
	}
}

func (s *session) write(v outbound) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		log.Printf("[%s] ws write error: %v", s.id, err)
	}
}

func (s *session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m inbound
		if err := json.Unmarshal(data, &m); err != nil {
			s.write(errorFrame(fmt.Errorf("bad frame: %w", err)))
			continue
		}
		switch strings.ToLower(m.Type) {
		case frameAuth:
			// already authenticated
		case frameStart:
			if err := s.start(m); err != nil {
				s.write(errorFrame(err))
			}
		case frameStop:
			s.view.EndInterview()
		case frameTranscript:
			s.relay.Push(m.Text, m.Final)
		case frameCaptureError:
			msg := m.Error
			if msg == "" {
				msg = "speech recognition error"
			}
			s.relay.Fail(errors.New(msg))
		case frameOffer:
			if err := s.negotiate(m.SDP); err != nil {
				s.write(errorFrame(err))
			}
		case frameCandidate:
			if err := s.addCandidate(m); err != nil {
				s.write(errorFrame(err))
			}
		case frameBye:
			return
		default:
			s.write(errorFrame(fmt.Errorf("unknown frame type %q", m.Type)))
		}
	}
}

func (s *session) start(m inbound) error {
	mode := strings.ToLower(m.Capture)
	switch mode {
	case "", captureRelay:
		if m.SpeechSupported != nil {
			s.relay.SetAvailable(*m.SpeechSupported)
		}
		s.capture.set(s.relay)
	case captureStream:
		if s.stream == nil {
			return errStreamUnavailable
		}
		s.capture.set(s.stream)
	default:
		return fmt.Errorf("%w %q", errUnknownCapture, m.Capture)
	}

	cfg := interview.SessionConfig{IntervieweeName: m.Name, JobRole: m.Role, Questions: m.Questions}
	if len(cfg.Questions) == 0 {
		qs, err := s.questionsFor(m)
		if err != nil {
			return err
		}
		cfg.Questions = qs
	}

	s.mu.Lock()
	prev := s.info
	s.info = startInfo{interviewID: m.InterviewID, userID: m.UserID, cfg: cfg, startedAt: s.srv.deps.Clock.Now()}
	s.mu.Unlock()
	if err := s.view.Start(cfg); err != nil {
		s.mu.Lock()
		s.info = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.prev = prev
	s.info.sessionID = s.engine.SessionID()
	s.mu.Unlock()
	log.Printf("[%s] interview %s started (%d questions, %s capture)", s.id, s.engine.SessionID(), len(cfg.Questions), orDefault(mode, captureRelay))
	return nil
}

// questionsFor loads the interview's question bank, or generates questions
// when there is none.
func (s *session) questionsFor(m inbound) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if m.InterviewID != "" && s.srv.deps.Store != nil {
		iv, err := s.srv.deps.Store.GetInterview(ctx, m.InterviewID)
		switch {
		case err == nil && len(iv.Questions) > 0:
			return iv.Questions, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	if s.srv.deps.Coach.Available() {
		return s.srv.deps.Coach.GenerateQuestions(ctx, coach.Params{UserName: m.Name, JobRole: m.Role})
	}
	// the engine rejects an empty list with ErrInvalidConfiguration
	return nil, nil
}

// finish scores and stores a finished session, then pushes the feedback.
func (s *session) finish(info startInfo, res binding.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	rec := store.Record{
		SessionID:   res.SessionID,
		InterviewID: info.interviewID,
		UserID:      info.userID,
		Name:        info.cfg.IntervieweeName,
		Role:        info.cfg.JobRole,
		State:       string(res.Reason),
		Questions:   info.cfg.Questions,
		Transcript:  res.Transcript,
		Answers:     res.Answers,
		StartedAt:   info.startedAt,
		EndedAt:     res.EndedAt,
	}
	if s.srv.deps.Coach.Available() {
		fb, err := s.srv.deps.Coach.Review(ctx, coach.ReviewInput{
			SessionID:  res.SessionID,
			JobRole:    info.cfg.JobRole,
			Transcript: res.Transcript,
			Answers:    res.Answers,
		})
		if err != nil {
			log.Printf("[%s] review error: %v", s.id, err)
		} else {
			rec.Feedback = &fb
		}
	}
	if s.srv.deps.Store != nil {
		if err := s.srv.deps.Store.SaveSession(ctx, rec); err != nil {
			log.Printf("[%s] save session %s: %v", s.id, res.SessionID, err)
		}
	}
	if rec.Feedback != nil {
		s.write(outbound{Type: frameFeedback, Feedback: rec.Feedback})
	}
}

func (s *session) negotiate(sdp string) error {
	if s.srv.deps.RTC == nil {
		return errRTCUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	answer, peer, err := s.srv.deps.RTC.Negotiate(ctx, s.id, sdp, s.hub, func(c *rtc.Candidate) {
		if c == nil {
			s.write(outbound{Type: frameICEComplete})
			return
		}
		s.write(outbound{Type: frameCandidate, Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex})
	})
	if err != nil {
		return err
	}

	var speaker *rtc.Speaker
	if s.srv.deps.Synth != nil {
		speaker = rtc.NewSpeaker(s.id, s.srv.deps.Synth, peer.Writer())
		speaker.Attach(s.engine)
	}
	s.mu.Lock()
	oldPeer, oldSpeaker := s.peer, s.speaker
	s.peer, s.speaker = peer, speaker
	s.mu.Unlock()
	if oldSpeaker != nil {
		oldSpeaker.Close()
	}
	if oldPeer != nil {
		oldPeer.Close()
	}
	s.write(outbound{Type: frameAnswer, SDP: answer})
	return nil
}

func (s *session) addCandidate(m inbound) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return errNoPeer
	}
	return peer.AddCandidate(rtc.Candidate{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
}

// close stops the interview and releases everything the socket owned.
// A session stopped here is still scored and stored.
func (s *session) close() {
	if id := s.engine.SessionID(); s.engine.Stop() {
		timeout := time.After(5 * time.Second)
	wait:
		for {
			select {
			case got := <-s.ended:
				if got == id {
					break wait
				}
			case <-timeout:
				log.Printf("[%s] call-end not delivered", s.id)
				break wait
			}
		}
	}
	s.wg.Wait()
	s.view.Close()
	s.mu.Lock()
	peer, speaker := s.peer, s.speaker
	s.mu.Unlock()
	if speaker != nil {
		speaker.Close()
	}
	if peer != nil {
		peer.Close()
	}
	s.engine.Dispose()
	s.hub.Close()
	log.Printf("[%s] session socket closed", s.id)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
