package event

import "sync"

// Bus is a fan-out pub/sub for values that cross goroutines, such as
// frames streamed to SSE subscribers.
type Bus[T any] struct {
	mu   sync.RWMutex
	subs map[chan T]struct{}
	size int
}

// NewBus creates a bus whose subscriber channels hold size buffered values.
func NewBus[T any](size int) *Bus[T] {
	if size <= 0 {
		size = 16
	}
	return &Bus[T]{subs: make(map[chan T]struct{}), size: size}
}

// Publish sends v to all subscribers (non-blocking). It reports how many
// subscribers were skipped because their buffer was full.
func (b *Bus[T]) Publish(v T) (dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// subscriber too slow, skip
			dropped++
		}
	}
	return dropped
}

// Subscribe returns a buffered channel that receives published values.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
