package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, ua := b.Subscribe(2)
	c, uc := b.Subscribe(2)
	defer ua()
	defer uc()

	b.Publish(Event{Type: "delivery.sent"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "delivery.sent" || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.(Dropped).Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestPrefixFilterAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := SubscribePrefix(b, 4, "delivery.")
	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: "delivery.paused"})

	e := <-ch
	if e.Type != "delivery.paused" {
		t.Fatalf("got %q, want delivery.paused", e.Type)
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "delivery.sent"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
