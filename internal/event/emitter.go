// Package event contains the typed event plumbing shared by the view
// controllers: a synchronous Emitter for same-loop notifications and a
// channel-based Bus for fan-out across goroutines.
package event

// Emitter delivers values synchronously to its subscribers in registration
// order. It is not safe for concurrent use; an Emitter belongs to a single
// session event loop.
type Emitter[T any] struct {
	handlers []func(T)
}

// Subscribe registers fn to be called on every Emit.
func (e *Emitter[T]) Subscribe(fn func(T)) {
	if fn == nil {
		return
	}
	e.handlers = append(e.handlers, fn)
}

// Emit calls every subscriber with v.
func (e *Emitter[T]) Emit(v T) {
	for _, h := range e.handlers {
		h(v)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	return len(e.handlers)
}
