package rtc

import (
	"encoding/binary"
	"log"

	"github.com/hraban/opus"
)

const (
	micRate = 16000
	// micChunkBytes is 100ms of 16 kHz mono PCM16.
	micChunkBytes = micRate / 10 * 2
)

// PCMPublisher receives microphone audio chunks.
type PCMPublisher interface {
	Publish(pcm []byte)
}

// chunker accumulates decoded samples and emits fixed-size PCM16 chunks.
type chunker struct {
	buf  []byte
	size int
	emit func([]byte)
}

func (c *chunker) write(samples []int16) {
	for _, s := range samples {
		c.buf = binary.LittleEndian.AppendUint16(c.buf, uint16(s))
	}
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		c.emit(chunk)
		c.buf = append(c.buf[:0], c.buf[c.size:]...)
	}
}

// readMic decodes opus payloads from next to 16 kHz PCM and publishes them
// in 100ms chunks until next fails.
func readMic(callID string, next func() ([]byte, error), pub PCMPublisher) {
	dec, err := opus.NewDecoder(micRate, 1)
	if err != nil {
		log.Printf("[%s] Opus decoder error: %v", callID, err)
		return
	}
	c := &chunker{size: micChunkBytes, emit: pub.Publish}
	samples := make([]int16, 1920)
	for {
		payload, err := next()
		if err != nil {
			log.Printf("[%s] RTP read ended: %v", callID, err)
			return
		}
		if len(payload) == 0 {
			continue
		}
		n, err := dec.Decode(payload, samples)
		if err != nil {
			log.Printf("[%s] Opus decode error: %v", callID, err)
			continue
		}
		c.write(samples[:n])
	}
}
