package rtc

import (
	"context"
	"log"
	"sync"

	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/tts"
)

// PCMWriter plays 48 kHz PCM16.
type PCMWriter interface {
	WritePCM(b []byte)
	FlushTail()
	Reset()
}

// EventSource is the subscription side of an interview engine.
type EventSource interface {
	On(name interview.EventName, h interview.Handler) interview.Subscription
	Off(sub interview.Subscription)
}

// Speaker reads the interviewer's messages aloud, one at a time, in the
// order the engine emitted them.
type Speaker struct {
	id    string
	synth tts.Synthesizer
	out   PCMWriter
	queue chan string

	mu     sync.Mutex
	cancel context.CancelFunc
	subs   []interview.Subscription
	src    EventSource
	closed bool
	done   chan struct{}
}

func NewSpeaker(id string, synth tts.Synthesizer, out PCMWriter) *Speaker {
	s := &Speaker{id: id, synth: synth, out: out, queue: make(chan string, 16), done: make(chan struct{})}
	go s.run()
	return s
}

// Attach subscribes to src. Assistant messages are spoken; a stopped call
// silences whatever is playing.
func (s *Speaker) Attach(src EventSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
	s.subs = append(s.subs,
		src.On(interview.EventMessage, s.handle),
		src.On(interview.EventCallEnd, s.handle),
	)
}

func (s *Speaker) handle(ev interview.Event) {
	switch e := ev.(type) {
	case interview.MessageEvent:
		if e.Message.Role == interview.RoleAssistant {
			s.Say(e.Message.Text)
		}
	case interview.CallEndEvent:
		if e.Reason == interview.EndStopped {
			s.Silence()
		}
	}
}

// Say queues text. It never blocks; text is dropped when the queue is full.
func (s *Speaker) Say(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || text == "" {
		return
	}
	select {
	case s.queue <- text:
	default:
		log.Printf("[%s] speaker queue full, dropping %q", s.id, text)
	}
}

// Silence cancels the current utterance and drops queued ones.
func (s *Speaker) Silence() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}
	s.mu.Unlock()
	s.out.Reset()
}

func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.src != nil {
		for _, sub := range s.subs {
			s.src.Off(sub)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *Speaker) run() {
	defer close(s.done)
	for text := range s.queue {
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		s.speak(ctx, text)

		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}
}

func (s *Speaker) speak(ctx context.Context, text string) {
	pcm, errc := s.synth.StreamPCM48k(ctx, text)
	wrote := false
	for b := range pcm {
		if ctx.Err() != nil {
			continue
		}
		s.out.WritePCM(b)
		wrote = true
	}
	if err := <-errc; err != nil {
		log.Printf("[%s] tts error: %v", s.id, err)
	}
	if wrote && ctx.Err() == nil {
		s.out.FlushTail()
	}
}
