package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Message, 1)

	sub, err := bus.Subscribe(ctx, "convoy.agent.review", func(msg *Message) []byte {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	err = bus.Publish(ctx, "convoy.agent.review", []byte("hello"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Errorf("Expected 'hello', got %q", string(msg.Data))
		}
		if msg.Subject != "convoy.agent.review" {
			t.Errorf("Expected subject 'convoy.agent.review', got %q", msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestMemoryBus_Wildcard(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var received atomic.Int32

	sub, err := bus.Subscribe(ctx, "convoy.agent.*", func(msg *Message) []byte {
		received.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	bus.Publish(ctx, "convoy.agent.review", []byte("a"))
	bus.Publish(ctx, "convoy.agent.deploy", []byte("b"))
	bus.Publish(ctx, "convoy.session.1", []byte("c")) // should not match

	time.Sleep(100 * time.Millisecond)

	if got := received.Load(); got != 2 {
		t.Errorf("received = %d, want 2", got)
	}
}

func TestMemoryBus_RequestReply(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "convoy.arbiter", func(msg *Message) []byte {
		return []byte("granted")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	reply, err := bus.Request(ctx, "convoy.arbiter", []byte("may I?"), time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(reply) != "granted" {
		t.Errorf("reply = %q, want granted", string(reply))
	}
}

func TestMemoryBus_RequestNoResponders(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	_, err := bus.Request(context.Background(), "convoy.nobody", []byte("hi"), 100*time.Millisecond)
	if err != ErrNoResponders {
		t.Errorf("err = %v, want ErrNoResponders", err)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var received atomic.Int32

	sub, _ := bus.Subscribe(ctx, "convoy.agent.review", func(msg *Message) []byte {
		received.Add(1)
		return nil
	})

	sub.Unsubscribe()
	bus.Publish(ctx, "convoy.agent.review", []byte("after"))

	time.Sleep(50 * time.Millisecond)
	if got := received.Load(); got != 0 {
		t.Errorf("received = %d after unsubscribe, want 0", got)
	}
}

func TestMemoryBus_ClosedBus(t *testing.T) {
	bus := NewMemoryBus()
	bus.Close()

	if err := bus.Publish(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("Publish on closed = %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe(context.Background(), "x", nil); err != ErrClosed {
		t.Errorf("Subscribe on closed = %v, want ErrClosed", err)
	}
	if err := bus.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"convoy.agent.review", "convoy.agent.review", true},
		{"convoy.agent.*", "convoy.agent.review", true},
		{"convoy.agent.*", "convoy.agent.review.extra", false},
		{"convoy.>", "convoy.agent.review.extra", true},
		{"convoy.agent.*", "convoy.session.1", false},
		{"*.agent.review", "convoy.agent.review", true},
	}

	for _, tc := range cases {
		if got := matchSubject(tc.pattern, tc.subject); got != tc.want {
			t.Errorf("matchSubject(%q, %q) = %v, want %v", tc.pattern, tc.subject, got, tc.want)
		}
	}
}
