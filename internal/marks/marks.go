// Package marks tracks the named playback markers sent to the carrier.
// The carrier echoes each mark after playing all audio queued before it,
// which is the only reliable "playback finished" signal we get.
package marks

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of waiting on one mark.
type Result int

const (
	Acked Result = iota
	Cancelled
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Acked:
		return "acked"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Registry maps mark names to one-shot waiters. Register and Resolve run on
// different goroutines (dialogue driver vs ingress reader).
type Registry struct {
	log *logrus.Entry

	mu      sync.Mutex
	waiters map[string]chan Result
}

func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{log: log, waiters: make(map[string]chan Result)}
}

// Register creates a waiter for the named mark. Registering a name twice
// cancels the first waiter.
func (r *Registry) Register(name string) <-chan Result {
	ch := make(chan Result, 1)
	r.mu.Lock()
	if old, ok := r.waiters[name]; ok {
		old <- Cancelled
	}
	r.waiters[name] = ch
	r.mu.Unlock()
	return ch
}

// Resolve signals the waiter for an acknowledged mark. Unknown or duplicate
// acknowledgements are ignored.
func (r *Registry) Resolve(name string) {
	r.mu.Lock()
	ch, ok := r.waiters[name]
	if ok {
		delete(r.waiters, name)
	}
	r.mu.Unlock()
	if !ok {
		r.log.WithField("mark", name).Debug("ack for unknown mark ignored")
		return
	}
	ch <- Acked
	metricAcked.Inc()
}

// CancelAll resolves every outstanding waiter as Cancelled. Used on barge-in
// and session close.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	for name, ch := range r.waiters {
		ch <- Cancelled
		delete(r.waiters, name)
	}
	r.mu.Unlock()
}

// Pending reports the number of unacknowledged marks.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Await blocks until the mark resolves, the timeout lapses, or ctx is done.
// A lapsed timeout removes the waiter; the carrier is assumed to have moved on.
func (r *Registry) Await(ctx context.Context, name string, ch <-chan Result, timeout time.Duration) Result {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-ch:
		return res
	case <-t.C:
		r.drop(name)
		metricTimedOut.Inc()
		r.log.WithField("mark", name).Warn("mark acknowledgement timed out")
		return TimedOut
	case <-ctx.Done():
		r.drop(name)
		return Cancelled
	}
}

func (r *Registry) drop(name string) {
	r.mu.Lock()
	delete(r.waiters, name)
	r.mu.Unlock()
}
