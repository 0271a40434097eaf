package eventbus

import "testing"

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[string]()
	ch := bus.Subscribe()
	if n := bus.Publish("hello"); n != 1 {
		t.Fatalf("expected 1 delivery got %d", n)
	}
	v := <-ch
	if v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
}

func TestTypedBusDropsWhenFull(t *testing.T) {
	bus := NewTypedBuffered[int](1)
	ch := bus.Subscribe()
	bus.Publish(1)
	if n := bus.Publish(2); n != 0 {
		t.Fatalf("expected drop, delivered to %d", n)
	}
	if v := <-ch; v != 1 {
		t.Fatalf("expected 1 got %d", v)
	}
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	if n := bus.Publish(3); n != 0 {
		t.Fatalf("publish after close delivered to %d", n)
	}
}

func TestTypedBusUnsubscribeAfterClose(t *testing.T) {
	bus := NewTyped[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}
