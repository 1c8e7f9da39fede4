package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/sumans-19/PrepFlash-sub003/internal/clock"
)

const defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

const (
	// silenceThreshold is the inactivity window after the last transcript
	// update before an answer counts as complete.
	silenceThreshold = 700 * time.Millisecond
	// continuationExtension is added when the last word suggests more is coming.
	continuationExtension = 1200 * time.Millisecond
	// stabilizationGrace absorbs late recognizer updates before finalizing.
	stabilizationGrace = 250 * time.Millisecond
	// voiceHangover is how long silence keeps streaming after the last
	// voiced frame, long enough for the recognizer to close the turn.
	voiceHangover = silenceThreshold + continuationExtension + stabilizationGrace
	// silenceKeepalive is the longest gap between sends while gated.
	silenceKeepalive = time.Second
)

// AssemblyAI captures answers from the server-side microphone stream (a
// PCMHub fed by the WebRTC uplink) using AssemblyAI realtime transcription.
// Each capture opens its own streaming session.
type AssemblyAI struct {
	APIKey string
	Hub    *PCMHub
	// URL overrides the streaming endpoint.
	URL   string
	Clock clock.Clock
}

func NewAssemblyAI(apiKey string, hub *PCMHub) *AssemblyAI {
	return &AssemblyAI{APIKey: apiKey, Hub: hub, Clock: clock.Real()}
}

type turnMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	ExpiresAt  int64  `json:"expires_at,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`

	AudioDurationSeconds float64 `json:"audio_duration_seconds,omitempty"`
}

func (a *AssemblyAI) StartCapture(ctx context.Context) (Capture, error) {
	if a.APIKey == "" || a.Hub == nil {
		return nil, ErrCaptureUnavailable
	}
	endpoint := a.URL
	if endpoint == "" {
		endpoint = defaultStreamingURL
	}
	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{"Authorization": {a.APIKey}}
	conn, resp, err := dialer.DialContext(ctx, endpoint+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connect failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: assemblyai: %v", ErrCaptureUnavailable, err)
	}

	clk := a.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pcm, unsubscribe := a.Hub.Subscribe(256)
	t := &streamTurn{
		conn:        conn,
		clk:         clk,
		unsubscribe: unsubscribe,
		vad:         NewVoiceDetector(),
		lastVoice:   clk.Now(),
	}
	t.w = newWindow(t.release)

	go t.pump(pcm)
	go t.read()
	go func() {
		select {
		case <-ctx.Done():
			t.w.Stop()
		case <-t.w.done():
		}
	}()
	return t.w, nil
}

// streamTurn is one AssemblyAI session bound to one capture window.
type streamTurn struct {
	w           *window
	conn        *websocket.Conn
	clk         clock.Clock
	unsubscribe func()
	vad         *VoiceDetector

	writeMu sync.Mutex

	mu        sync.Mutex
	latest    string
	lastText  time.Time
	lastVoice time.Time
	lastSent  time.Time
	timer     clock.Timer
}

func (t *streamTurn) release() {
	t.unsubscribe()
	t.mu.Lock()
	clock.Stop(t.timer)
	t.timer = nil
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteJSON(map[string]string{"type": "Terminate"})
	t.writeMu.Unlock()
	_ = t.conn.Close()
}

// pump streams hub audio to AssemblyAI. Silence past the hangover is only
// sent as an occasional keepalive.
func (t *streamTurn) pump(pcm <-chan []byte) {
	for chunk := range pcm {
		now := t.clk.Now()
		voiced := t.vad.Feed(chunk)
		t.mu.Lock()
		if voiced {
			t.lastVoice = now
		}
		send := voiced || now.Sub(t.lastVoice) < voiceHangover || now.Sub(t.lastSent) >= silenceKeepalive
		if send {
			t.lastSent = now
		}
		t.mu.Unlock()
		if !send {
			continue
		}
		t.writeMu.Lock()
		err := t.conn.WriteMessage(websocket.BinaryMessage, chunk)
		t.writeMu.Unlock()
		if err != nil {
			if !t.w.isClosed() {
				t.w.fail(fmt.Errorf("assemblyai: send audio: %w", err))
			}
			return
		}
	}
}

func (t *streamTurn) read() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.w.isClosed() {
				t.w.fail(fmt.Errorf("assemblyai: read: %w", err))
			}
			return
		}
		var msg turnMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("assemblyai: bad message: %v", err)
			continue
		}
		switch msg.Type {
		case "Begin":
			log.Printf("assemblyai: session %s began", msg.ID)
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			t.mu.Lock()
			t.latest = msg.Transcript
			t.lastText = t.clk.Now()
			t.scheduleLocked(silenceThreshold, t.checkSilence)
			t.mu.Unlock()
			t.w.interim(msg.Transcript)
		case "Termination":
			log.Printf("assemblyai: session terminated after %.2fs of audio", msg.AudioDurationSeconds)
			t.mu.Lock()
			latest := t.latest
			t.mu.Unlock()
			t.w.finalize(latest)
			return
		case "Error":
			t.w.fail(fmt.Errorf("assemblyai: %s", msg.Error))
			return
		default:
			log.Printf("assemblyai: unknown message type %q", msg.Type)
		}
	}
}

func (t *streamTurn) scheduleLocked(d time.Duration, f func()) {
	if t.w.isClosed() {
		return
	}
	clock.Stop(t.timer)
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	t.timer = t.clk.AfterFunc(d, f)
}

// checkSilence fires after the silence threshold. It re-arms while text or
// voice energy is still recent and otherwise opens the stabilization grace.
func (t *streamTurn) checkSilence() {
	t.mu.Lock()
	defer t.mu.Unlock()
	threshold := silenceThreshold
	if isContinuationLikely(t.latest) {
		threshold += continuationExtension
	}
	now := t.clk.Now()
	sinceText := now.Sub(t.lastText)
	sinceVoice := now.Sub(t.lastVoice)
	if sinceText < threshold || sinceVoice < threshold {
		wait := threshold - sinceText
		if rem := threshold - sinceVoice; rem > wait {
			wait = rem
		}
		t.scheduleLocked(wait, t.checkSilence)
		return
	}
	seen := t.lastText
	t.scheduleLocked(stabilizationGrace, func() { t.confirmSilence(seen) })
}

func (t *streamTurn) confirmSilence(seen time.Time) {
	t.mu.Lock()
	if t.lastText.After(seen) {
		t.scheduleLocked(silenceThreshold, t.checkSilence)
		t.mu.Unlock()
		return
	}
	t.timer = nil
	latest := t.latest
	t.mu.Unlock()
	t.w.finalize(latest)
}

// isContinuationLikely reports whether the last word suggests the speaker
// has not finished (conjunctions, fillers, dangling prepositions).
func isContinuationLikely(text string) bool {
	_, ok := continuationWords[lastWord(text)]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
