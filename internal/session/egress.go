package session

import (
	"errors"
	"sync"

	"dajeong/bridge/internal/wire"
)

var ErrEgressClosed = errors.New("egress closed")

// Egress queues outbound carrier frames for the socket writer. The dialogue
// engine produces onto it from its own goroutine; the session's write loop
// drains it.
type Egress struct {
	mu  sync.RWMutex
	sid string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewEgress(depth int) *Egress {
	if depth < 1 {
		depth = 64
	}
	return &Egress{out: make(chan []byte, depth), done: make(chan struct{})}
}

// BindStream sets the stream SID once the carrier's start event arrives.
// Nothing is sent before that.
func (q *Egress) BindStream(sid string) {
	q.mu.Lock()
	q.sid = sid
	q.mu.Unlock()
}

func (q *Egress) streamSid() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.sid
}

func (q *Egress) SendMedia(payloadB64 string) error {
	return q.enqueue(wire.OutboundMedia(q.streamSid(), payloadB64))
}

func (q *Egress) SendMark(name string) error {
	return q.enqueue(wire.OutboundMark(q.streamSid(), name))
}

func (q *Egress) SendClear() error {
	return q.enqueue(wire.OutboundClear(q.streamSid()))
}

func (q *Egress) enqueue(frame []byte) error {
	select {
	case q.out <- frame:
		return nil
	case <-q.done:
		return ErrEgressClosed
	}
}

// Frames is the writer side's drain channel.
func (q *Egress) Frames() <-chan []byte {
	return q.out
}

// Close unblocks any producer; further sends fail with ErrEgressClosed.
func (q *Egress) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
