// Package live runs interview sessions over a WebSocket: the client starts
// a session, relays or streams the candidate's speech, and receives the
// engine's events, the rendered view state and, at the end, feedback.
package live

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
	"github.com/sumans-19/PrepFlash-sub003/internal/coach"
	"github.com/sumans-19/PrepFlash-sub003/internal/interview"
	"github.com/sumans-19/PrepFlash-sub003/internal/rtc"
	"github.com/sumans-19/PrepFlash-sub003/internal/store"
	"github.com/sumans-19/PrepFlash-sub003/internal/tts"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errAuthRequired = errors.New("auth required")
)

// Deps are the collaborators of a Server. Only Store is required.
type Deps struct {
	// AuthPassword, when set, must be presented before any other frame.
	AuthPassword string
	Timings      interview.Timings
	Clock        clock.Clock
	Store        store.Store
	Coach        *coach.Coach
	// RTC enables offer frames; nil rejects them.
	RTC *rtc.Handler
	// Synth speaks assistant messages on the WebRTC track.
	Synth tts.Synthesizer
	// AssemblyAIKey enables the stream capture mode.
	AssemblyAIKey string
}

type Server struct {
	deps     Deps
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return &Server{
		deps:  d,
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			// any origin; the socket is password protected when configured
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	if !s.track(conn) {
		return
	}
	defer s.untrack(conn)

	if s.deps.AuthPassword != "" && !checkAuthHeaderOrQuery(r, s.deps.AuthPassword) {
		if err := s.awaitAuth(conn); err != nil {
			_ = conn.WriteJSON(errorFrame(err))
			return
		}
	}

	sess := newSession(s, conn)
	defer sess.close()
	sess.readLoop()
}

// Close stops accepting sockets, closes the open ones and waits until their
// interviews have been stopped and stored.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	log.Printf("live server closed (%d sockets)", len(conns))
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// awaitAuth requires the first frame to be an auth frame with the password.
func (s *Server) awaitAuth(conn *websocket.Conn) error {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return errAuthRequired
	}
	if mt != websocket.TextMessage {
		return errAuthRequired
	}
	var m inbound
	if err := json.Unmarshal(data, &m); err != nil || strings.ToLower(m.Type) != frameAuth || m.Password != s.deps.AuthPassword {
		return errUnauthorized
	}
	return nil
}

// checkAuthHeaderOrQuery accepts ?password=, Authorization: Bearer or X-Auth-Token.
func checkAuthHeaderOrQuery(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}
