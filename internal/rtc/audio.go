package rtc

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	outRate       = 48000
	frameDuration = 20 * time.Millisecond
	frameSamples  = outRate / 50 // 20ms
	// tailFrames of silence follow each utterance so the last syllable is not clipped.
	tailFrames = 10
)

// SampleWriter is the outbound side of a media track.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusPacedWriter encodes 48 kHz mono PCM16 into 20ms opus frames and
// writes them to a track in real time.
type OpusPacedWriter struct {
	enc    *opus.Encoder
	track  SampleWriter
	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pcm     []int16
	stopped bool
}

func NewOpusPacedWriter(track SampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(outRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(track, enc)
	go w.pace()
	return w, nil
}

func newPacedWriter(track SampleWriter, enc *opus.Encoder) *OpusPacedWriter {
	return &OpusPacedWriter{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, 512),
		stopCh: make(chan struct{}),
	}
}

// WritePCM buffers little-endian PCM16 and queues every complete frame.
func (w *OpusPacedWriter) WritePCM(b []byte) {
	if len(b) < 2 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i+1 < len(b); i += 2 {
		w.pcm = append(w.pcm, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	for len(w.pcm) >= frameSamples {
		w.encode(w.pcm[:frameSamples])
		w.pcm = append(w.pcm[:0], w.pcm[frameSamples:]...)
	}
}

// FlushTail pads the buffered remainder to a full frame and appends a
// short silence.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pcm) > 0 {
		frame := make([]int16, frameSamples)
		copy(frame, w.pcm)
		w.encode(frame)
		w.pcm = w.pcm[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < tailFrames; i++ {
		w.encode(silence)
	}
}

// Reset drops queued audio so the next utterance starts immediately.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcm = w.pcm[:0]
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

// encode is called with mu held.
func (w *OpusPacedWriter) encode(frame []int16) {
	if w.enc == nil {
		return
	}
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n == 0 {
		return
	}
	w.push(buf[:n])
}

// push blocks until the pacer has room or the writer is closed.
func (w *OpusPacedWriter) push(pkt []byte) {
	select {
	case w.frames <- pkt:
	case <-w.stopCh:
	}
}

func (w *OpusPacedWriter) pace() {
	tick := time.NewTicker(frameDuration)
	defer tick.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-tick.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
			default:
			}
		}
	}
}
