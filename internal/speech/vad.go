package speech

import (
	"encoding/binary"
	"math"
)

const (
	sampleRate16k  = 16000
	samplesPer10ms = sampleRate16k / 100
)

// VoiceDetector is an energy gate over 10ms frames of 16kHz PCM16LE with a
// short majority-vote smoothing window.
type VoiceDetector struct {
	Threshold float64
	Smooth    int
	votes     []bool
}

func NewVoiceDetector() *VoiceDetector {
	return &VoiceDetector{Threshold: 250, Smooth: 4}
}

// Feed consumes pcm (any length, trailing partial frame ignored) and reports
// whether the smoothed detector considers any frame of it voiced.
func (v *VoiceDetector) Feed(pcm []byte) bool {
	voiced := false
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		if v.frame(pcm[off : off+samplesPer10ms*2]) {
			voiced = true
		}
	}
	return voiced
}

func (v *VoiceDetector) frame(pcm []byte) bool {
	v.votes = append(v.votes, rms16(pcm) >= v.Threshold)
	if n := v.Smooth; n > 0 && len(v.votes) > n {
		v.votes = v.votes[len(v.votes)-n:]
	}
	on := 0
	for _, b := range v.votes {
		if b {
			on++
		}
	}
	return on*2 >= len(v.votes)
}

// Reset clears the smoothing window.
func (v *VoiceDetector) Reset() { v.votes = v.votes[:0] }

func rms16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
