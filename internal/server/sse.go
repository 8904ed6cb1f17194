package server

import (
	"encoding/json"
	"sync"
)

const (
	sseHistoryLimit = 256
	sseBufferSize   = 64
)

// Broadcaster fans engine events out to SSE subscribers. New subscribers
// get the recent history replayed first; subscribers that stop draining
// their channel are dropped rather than allowed to stall the engine.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	history [][]byte
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[chan []byte]struct{}{}}
}

// Publish serializes the event and delivers it to every subscriber.
func (b *Broadcaster) Publish(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, data)
	if len(b.history) > sseHistoryLimit {
		b.history = b.history[len(b.history)-sseHistoryLimit:]
	}
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Subscribe returns a channel carrying serialized events, starting with the
// replayed history. Call the returned cancel func when done.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, sseBufferSize)
	b.mu.Lock()
	replay := make([][]byte, len(b.history))
	copy(replay, b.history)
	if !b.closed {
		b.subs[ch] = struct{}{}
	}
	b.mu.Unlock()

	for _, data := range replay {
		select {
		case ch <- data:
		default:
		}
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close drops all subscribers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
