// Package rtc carries interview audio over WebRTC: microphone audio in,
// spoken questions out.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

var ErrInvalidOffer = errors.New("rtc: invalid offer")

// Candidate is a trickled ICE candidate in its browser JSON form.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Handler builds peer connections for interview sessions.
type Handler struct {
	iceServers []webrtc.ICEServer
}

// NewHandler parses ICE servers from a JSON array, falling back to a
// public STUN server.
func NewHandler(iceServersJSON string) *Handler {
	return &Handler{iceServers: ParseICEServers(iceServersJSON)}
}

func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// Peer is one negotiated connection.
type Peer struct {
	id  string
	pc  *webrtc.PeerConnection
	out *OpusPacedWriter

	closeOnce sync.Once
	done      chan struct{}
}

// Negotiate answers offerSDP. Decoded microphone audio is published to mic.
// onCandidate receives local candidates as they are gathered and nil once
// gathering completes.
func (h *Handler) Negotiate(ctx context.Context, id, offerSDP string, mic PCMPublisher, onCandidate func(*Candidate)) (string, *Peer, error) {
	if offerSDP == "" {
		return "", nil, ErrInvalidOffer
	}
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return "", nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return "", nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.iceServers})
	if err != nil {
		return "", nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: outRate, Channels: 1},
		"interviewer-audio", "interviewer",
	)
	if err != nil {
		_ = pc.Close()
		return "", nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return "", nil, err
	}
	out, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = pc.Close()
		return "", nil, err
	}
	p := &Peer{id: id, pc: pc, out: out, done: make(chan struct{})}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if onCandidate == nil {
			return
		}
		if c == nil {
			onCandidate(nil)
			return
		}
		init := c.ToJSON()
		onCandidate(&Candidate{Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", id, state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", id, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			p.Close()
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", id, remote.Codec().MimeType)
		go readMic(id, func() ([]byte, error) {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return nil, err
			}
			return pkt.Payload, nil
		}, mic)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		p.Close()
		return "", nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		p.Close()
		return "", nil, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		p.Close()
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		p.Close()
		return "", nil, err
	}
	local := pc.LocalDescription()
	if local == nil {
		p.Close()
		return "", nil, errors.New("rtc: no local description")
	}
	return local.SDP, p, nil
}

// AddCandidate applies a remote trickled candidate.
func (p *Peer) AddCandidate(c Candidate) error {
	if c.Candidate == "" {
		return nil
	}
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex})
}

// Writer is the outbound audio of the peer.
func (p *Peer) Writer() *OpusPacedWriter { return p.out }

// Done is closed once the connection is closed.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.out.Close()
		_ = p.pc.Close()
		close(p.done)
	})
}
