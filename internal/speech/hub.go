package speech

import (
	"sync"
)

// PCMHub fans out 16kHz PCM16LE microphone chunks to subscribers. Slow
// subscribers lose chunks rather than stall the producer.
type PCMHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan []byte
	closed bool
}

func NewPCMHub() *PCMHub {
	return &PCMHub{subs: make(map[int]chan []byte)}
}

// Publish copies chunk to every subscriber.
func (h *PCMHub) Publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		b := make([]byte, len(chunk))
		copy(b, chunk)
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribe returns a chunk channel and a cancel func that closes it.
// Subscribing to a closed hub yields an already closed channel.
func (h *PCMHub) Subscribe(buffer int) (<-chan []byte, func()) {
	ch := make(chan []byte, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (h *PCMHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *PCMHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
