package event

import "testing"

func TestEmitter_deliversInOrder(t *testing.T) {
	var e Emitter[int]
	var got []int
	e.Subscribe(func(v int) { got = append(got, v*10) })
	e.Subscribe(func(v int) { got = append(got, v*100) })
	e.Subscribe(nil)

	e.Emit(2)

	if e.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", e.Len())
	}
	if len(got) != 2 || got[0] != 20 || got[1] != 200 {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestBus_publishAndUnsubscribe(t *testing.T) {
	b := NewBus[string](1)
	ch := b.Subscribe()

	if dropped := b.Publish("a"); dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if dropped := b.Publish("b"); dropped != 1 {
		t.Fatalf("expected full buffer to drop, got %d", dropped)
	}
	if v := <-ch; v != "a" {
		t.Fatalf("expected a, got %q", v)
	}

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
}
