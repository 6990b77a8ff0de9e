package marks

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestResolveAcks(t *testing.T) {
	r := NewRegistry(testLog())
	ch := r.Register("m-1")
	r.Resolve("m-1")
	if res := r.Await(context.Background(), "m-1", ch, time.Second); res != Acked {
		t.Fatalf("expected Acked, got %v", res)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending marks, got %d", r.Pending())
	}
}

func TestDuplicateAckIgnored(t *testing.T) {
	r := NewRegistry(testLog())
	ch := r.Register("m-1")
	r.Resolve("m-1")
	r.Resolve("m-1") // second ack must be a no-op
	r.Resolve("never-registered")
	if res := <-ch; res != Acked {
		t.Fatalf("expected Acked, got %v", res)
	}
}

func TestAwaitTimeout(t *testing.T) {
	r := NewRegistry(testLog())
	ch := r.Register("m-1")
	res := r.Await(context.Background(), "m-1", ch, 10*time.Millisecond)
	if res != TimedOut {
		t.Fatalf("expected TimedOut, got %v", res)
	}
	if r.Pending() != 0 {
		t.Fatalf("timed-out waiter should be removed, pending=%d", r.Pending())
	}
}

func TestCancelAll(t *testing.T) {
	r := NewRegistry(testLog())
	ch1 := r.Register("m-1")
	ch2 := r.Register("m-2")
	r.CancelAll()
	if res := <-ch1; res != Cancelled {
		t.Fatalf("expected Cancelled, got %v", res)
	}
	if res := <-ch2; res != Cancelled {
		t.Fatalf("expected Cancelled, got %v", res)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending marks, got %d", r.Pending())
	}
}

func TestAwaitContextCancel(t *testing.T) {
	r := NewRegistry(testLog())
	ch := r.Register("m-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := r.Await(ctx, "m-1", ch, time.Second); res != Cancelled {
		t.Fatalf("expected Cancelled, got %v", res)
	}
}

func TestReregisterCancelsPrevious(t *testing.T) {
	r := NewRegistry(testLog())
	ch1 := r.Register("m-1")
	ch2 := r.Register("m-1")
	if res := <-ch1; res != Cancelled {
		t.Fatalf("expected first waiter Cancelled, got %v", res)
	}
	r.Resolve("m-1")
	if res := <-ch2; res != Acked {
		t.Fatalf("expected second waiter Acked, got %v", res)
	}
}
