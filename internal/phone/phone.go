// Package phone runs interviews over a Twilio voice call. Each assistant
// prompt is spoken with <Say> and each answer is recognized by a speech
// <Gather> whose result is fed back into the engine.
package phone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	"github.com/sumans-19/PrepFlash-sub003/internal/binding"
	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/middleware"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
)

const (
	defaultPromptTimeout = 10 * time.Second
	// Twilio ends a speech Gather on its own; the engine window only has to
	// outlast it.
	phoneListenWindow = 2 * time.Minute
	finishTimeout     = 2 * time.Minute

	unavailableMessage = "Sorry, no interview questions are available right now. Goodbye!"
	endedMessage       = "This interview has already ended. Goodbye!"
)

// ErrNoQuestions is returned when neither the interview bank nor the coach
// can supply questions for a call.
var ErrNoQuestions = errors.New("phone: no questions for call")

var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

type Deps struct {
	Store   store.Store
	Coach   *coach.Coach
	Timings interview.Timings
	Clock   clock.Clock
	// Calls enables call recording and hang-up on shutdown.
	Calls CallControl
	// Recordings receives call recordings; nil disables recording.
	Recordings store.Uploader
	AccountSID string
	AuthToken  string
	BaseURL    string
	// PromptTimeout bounds how long a webhook waits for the next prompt
	// before redirecting Twilio to poll again.
	PromptTimeout time.Duration
}

type Service struct {
	deps       Deps
	httpClient *http.Client

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
	wg     sync.WaitGroup
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Timings.ListenWindow <= 0 {
		d.Timings.ListenWindow = phoneListenWindow
	}
	if d.PromptTimeout <= 0 {
		d.PromptTimeout = defaultPromptTimeout
	}
	return &Service{
		deps:       d,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		calls:      make(map[string]*call),
	}
}

// Register mounts the webhooks on a group that is already guarded by
// middleware.TwilioAuth.
func (s *Service) Register(g *echo.Group) {
	g.POST("/voice", s.voice)
	g.POST("/answer", s.answer)
	g.POST("/wait", s.wait)
	g.POST("/status", s.status)
	g.POST("/recording-status", s.recordingStatus)
}

// call is one phone interview, keyed by Twilio CallSid.
type call struct {
	sid         string
	from        string
	interviewID string
	cfg         interview.SessionConfig
	startedAt   time.Time

	engine *interview.Engine
	view   *binding.View
	gather *GatherCapturer
	done   chan struct{}

	mu       sync.Mutex
	prompts  []string
	ended    bool
	asking   int
	prompted int
	turn     chan struct{}
}

func (s *Service) newCall(sid, from, interviewID string, cfg interview.SessionConfig) *call {
	c := &call{
		sid:         sid,
		from:        from,
		interviewID: interviewID,
		cfg:         cfg,
		startedAt:   s.deps.Clock.Now(),
		gather:      NewGatherCapturer(),
		done:        make(chan struct{}),
		asking:      -1,
		prompted:    -1,
		turn:        make(chan struct{}, 1),
	}
	c.engine = interview.NewEngine(c.gather,
		interview.WithClock(s.deps.Clock),
		interview.WithTimings(s.deps.Timings),
	)
	c.engine.On(interview.EventMessage, func(ev interview.Event) {
		msg := ev.(interview.MessageEvent).Message
		if msg.Role != interview.RoleAssistant {
			return
		}
		c.mu.Lock()
		c.prompts = append(c.prompts, msg.Text)
		c.mu.Unlock()
	})
	c.engine.On(interview.EventSpeechStart, func(ev interview.Event) {
		c.mu.Lock()
		c.asking = ev.(interview.SpeechStartEvent).QuestionIndex
		c.mu.Unlock()
		c.signal()
	})
	c.engine.On(interview.EventCallEnd, func(interview.Event) {
		c.mu.Lock()
		c.ended = true
		c.mu.Unlock()
		c.signal()
	})
	c.view = binding.New(c.engine, s.deps.Clock)
	c.view.OnFinished(func(res binding.Result) {
		go s.finish(c, res)
	})
	return c
}

func (c *call) signal() {
	select {
	case c.turn <- struct{}{}:
	default:
	}
}

// nextTurn waits until the engine is listening for an answer or the call
// has ended, and returns the assistant prompts spoken since the last turn.
func (c *call) nextTurn(ctx context.Context) ([]string, bool, error) {
	select {
	case <-c.turn:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prompts := c.prompts
	c.prompts = nil
	c.prompted = c.asking
	return prompts, c.ended, nil
}

func (c *call) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// awaiting reports the question the caller was last prompted with.
func (c *call) awaiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompted
}

func (s *Service) lookup(sid string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[sid]
}

func (s *Service) voice(c echo.Context) error {
	params, ok := c.Get(middleware.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	callSID := params["CallSid"]
	from := params["From"]
	if callSID == "" {
		return c.String(http.StatusBadRequest, "CallSid required")
	}
	interviewID := c.QueryParam("interviewId")
	c.Logger().Infof("Call from %s, CallSid=%s, interview=%q", from, callSID, interviewID)

	if existing := s.lookup(callSID); existing != nil {
		return s.respondNext(c, existing)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	cfg, err := s.sessionConfig(ctx, interviewID)
	cancel()
	if err != nil {
		c.Logger().Errorf("No questions for CallSid=%s: %v", callSID, err)
		return s.say(c, unavailableMessage)
	}

	cl := s.newCall(callSID, from, interviewID, cfg)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cl.view.Close()
		cl.engine.Dispose()
		c.Logger().Warnf("Rejecting CallSid=%s: shutting down", callSID)
		return s.say(c, unavailableMessage)
	}
	s.calls[callSID] = cl
	s.mu.Unlock()
	if err := cl.view.Start(cfg); err != nil {
		s.mu.Lock()
		delete(s.calls, callSID)
		s.mu.Unlock()
		cl.view.Close()
		cl.engine.Dispose()
		c.Logger().Errorf("Failed to start interview for CallSid=%s: %v", callSID, err)
		return s.say(c, unavailableMessage)
	}
	log.Printf("[%s] phone interview started for %s (%d questions)", callSID, from, len(cfg.Questions))

	s.startRecording(c, callSID)
	return s.respondNext(c, cl)
}

func (s *Service) answer(c echo.Context) error {
	params, ok := c.Get(middleware.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	cl := s.lookup(params["CallSid"])
	if cl == nil || cl.isEnded() {
		return s.say(c, endedMessage)
	}

	idx := cl.awaiting()
	if idx >= 0 && cl.engine.CurrentQuestionIndex() == idx {
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.deps.PromptTimeout)
		err := cl.gather.Deliver(ctx, params["SpeechResult"])
		cancel()
		if err != nil {
			c.Logger().Warnf("CallSid=%s: answer to question %d not delivered: %v", cl.sid, idx+1, err)
		}
	} else {
		c.Logger().Warnf("CallSid=%s: dropping stale answer for question %d", cl.sid, idx+1)
	}
	return s.respondNext(c, cl)
}

// wait is where Twilio polls while the engine is connecting or advancing.
func (s *Service) wait(c echo.Context) error {
	params, ok := c.Get(middleware.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	cl := s.lookup(params["CallSid"])
	if cl == nil || cl.isEnded() {
		return s.say(c, endedMessage)
	}
	return s.respondNext(c, cl)
}

func (s *Service) status(c echo.Context) error {
	params, ok := c.Get(middleware.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	callSID := params["CallSid"]
	callStatus := params["CallStatus"]
	c.Logger().Infof("Call status update: CallSid=%s, Status=%s", callSID, callStatus)

	if terminalStatuses[callStatus] {
		if cl := s.lookup(callSID); cl != nil && cl.view.EndInterview() {
			log.Printf("[%s] caller left (%s), interview stopped", callSID, callStatus)
		}
	}
	return c.String(http.StatusOK, "OK")
}

func (s *Service) recordingStatus(c echo.Context) error {
	params, ok := c.Get(middleware.ParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	callSID := params["CallSid"]
	recordingSID := params["RecordingSid"]
	recordingURL := params["RecordingUrl"]
	recordingStatus := params["RecordingStatus"]
	c.Logger().Infof("Recording status update: SID=%s, Status=%s, Duration=%s", recordingSID, recordingStatus, params["RecordingDuration"])

	switch recordingStatus {
	case "completed":
		if recordingURL == "" || s.deps.Recordings == nil {
			break
		}
		key := RecordingKey(callSID, recordingSID)
		started := s.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			data, err := s.downloadRecording(ctx, recordingURL)
			if err == nil {
				err = s.deps.Recordings.Upload(key, "audio/wav", data)
			}
			if err != nil {
				log.Printf("[%s] failed to upload recording %s: %v", callSID, recordingSID, err)
				return
			}
			log.Printf("[%s] recording uploaded: %s", callSID, key)
		})
		if !started {
			log.Printf("[%s] shutting down, recording %s not uploaded", callSID, recordingSID)
		}
	case "failed", "absent":
		c.Logger().Errorf("Recording failed or is absent: SID=%s, Status=%s", recordingSID, recordingStatus)
	}
	return c.String(http.StatusOK, "OK")
}

// RecordingKey is the object key a call recording is uploaded under.
func RecordingKey(callSID, recordingSID string) string {
	return fmt.Sprintf("recordings/%s_%s.wav", callSID, recordingSID)
}

func (s *Service) startRecording(c echo.Context, callSID string) {
	if s.deps.Calls == nil || s.deps.Recordings == nil {
		return
	}
	callback := middleware.PublicURL(c.Request(), s.deps.BaseURL, "/twilio/recording-status")
	s.spawn(func() {
		if err := s.deps.Calls.StartRecording(callSID, callback); err != nil {
			log.Printf("[%s] failed to start call recording: %v", callSID, err)
			return
		}
		log.Printf("[%s] started continuous recording", callSID)
	})
}

// spawn runs fn in the background unless the service is closed.
func (s *Service) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// sessionConfig loads the interview's question bank, or generates questions
// when there is none.
func (s *Service) sessionConfig(ctx context.Context, interviewID string) (interview.SessionConfig, error) {
	var cfg interview.SessionConfig
	var level string
	if interviewID != "" && s.deps.Store != nil {
		iv, err := s.deps.Store.GetInterview(ctx, interviewID)
		switch {
		case err == nil:
			cfg.JobRole = iv.Role
			cfg.Questions = iv.Questions
			level = iv.ExperienceLevel
		case !errors.Is(err, store.ErrNotFound):
			return cfg, err
		}
	}
	if len(cfg.Questions) > 0 {
		return cfg, nil
	}
	if !s.deps.Coach.Available() {
		return cfg, ErrNoQuestions
	}
	qs, err := s.deps.Coach.GenerateQuestions(ctx, coach.Params{JobRole: cfg.JobRole, ExperienceLevel: level})
	if err != nil {
		return cfg, err
	}
	cfg.Questions = qs
	return cfg, nil
}

func (s *Service) respondNext(c echo.Context, cl *call) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.deps.PromptTimeout)
	defer cancel()
	prompts, ended, err := cl.nextTurn(ctx)
	if err != nil {
		redirect := &twiml.VoiceRedirect{Url: "/twilio/wait", Method: "POST"}
		return s.twiml(c, []twiml.Element{&twiml.VoicePause{Length: "1"}, redirect})
	}
	return s.twiml(c, promptElements(prompts, ended))
}

func promptElements(prompts []string, ended bool) []twiml.Element {
	els := make([]twiml.Element, 0, len(prompts)+1)
	for _, p := range prompts {
		els = append(els, &twiml.VoiceSay{Message: p})
	}
	if ended {
		return append(els, &twiml.VoiceHangup{})
	}
	return append(els, &twiml.VoiceGather{
		Input:               "speech",
		Action:              "/twilio/answer",
		Method:              "POST",
		SpeechTimeout:       "auto",
		ActionOnEmptyResult: "true",
	})
}

func (s *Service) say(c echo.Context, message string) error {
	return s.twiml(c, []twiml.Element{&twiml.VoiceSay{Message: message}, &twiml.VoiceHangup{}})
}

func (s *Service) twiml(c echo.Context, els []twiml.Element) error {
	response, err := twiml.Voice(els)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

// finish scores and stores a call that ended, then releases it.
func (s *Service) finish(cl *call, res binding.Result) {
	defer close(cl.done)
	s.mu.Lock()
	if s.calls[cl.sid] == cl {
		delete(s.calls, cl.sid)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	rec := store.Record{
		SessionID:   res.SessionID,
		InterviewID: cl.interviewID,
		UserID:      cl.from,
		Role:        cl.cfg.JobRole,
		State:       string(res.Reason),
		Questions:   cl.cfg.Questions,
		Transcript:  res.Transcript,
		Answers:     res.Answers,
		StartedAt:   cl.startedAt,
		EndedAt:     res.EndedAt,
	}
	if s.deps.Coach.Available() {
		fb, err := s.deps.Coach.Review(ctx, coach.ReviewInput{
			SessionID:  res.SessionID,
			JobRole:    cl.cfg.JobRole,
			Transcript: res.Transcript,
			Answers:    res.Answers,
		})
		if err != nil {
			log.Printf("[%s] review error: %v", cl.sid, err)
		} else {
			rec.Feedback = &fb
		}
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveSession(ctx, rec); err != nil {
			log.Printf("[%s] save session %s: %v", cl.sid, res.SessionID, err)
		}
	}
	cl.view.Close()
	cl.engine.Dispose()
	log.Printf("[%s] phone interview %s %s", cl.sid, res.SessionID, res.Reason)
}

// Close stops every call in progress, hangs it up and waits for the
// sessions to be stored.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	calls := make([]*call, 0, len(s.calls))
	for _, cl := range s.calls {
		calls = append(calls, cl)
	}
	s.mu.Unlock()

	for _, cl := range calls {
		if cl.engine.Stop() && s.deps.Calls != nil {
			if err := s.deps.Calls.HangUp(cl.sid); err != nil {
				log.Printf("[%s] hang up: %v", cl.sid, err)
			}
		}
		select {
		case <-cl.done:
		case <-time.After(5 * time.Second):
			log.Printf("[%s] call-end not delivered", cl.sid)
		}
	}
	s.wg.Wait()
}
