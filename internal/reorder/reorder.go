// Package reorder puts carrier media frames back into sequence order before
// they reach the voice activity detector. The carrier numbers media frames
// but delivery order is not guaranteed.
package reorder

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Frame is one sequence-numbered media frame.
type Frame struct {
	Seq     uint64
	Arrived time.Time
	Payload []byte
}

// Buffer holds out-of-order frames until the missing prefix arrives.
// Frames stuck past the gap budget are flushed out of order with a warning
// rather than held forever; frames older than the released prefix are dropped.
type Buffer struct {
	log        *logrus.Entry
	maxGap     int
	gapTimeout time.Duration

	started bool
	next    uint64
	pending map[uint64]Frame
}

func New(maxGap int, gapTimeout time.Duration, log *logrus.Entry) *Buffer {
	if maxGap <= 0 {
		maxGap = 64
	}
	return &Buffer{
		log:        log,
		maxGap:     maxGap,
		gapTimeout: gapTimeout,
		pending:    make(map[uint64]Frame),
	}
}

// Push inserts a frame and returns every frame that is now releasable, in
// strict ascending sequence order.
func (b *Buffer) Push(f Frame) []Frame {
	if !b.started {
		b.started = true
		b.next = f.Seq
	}
	if f.Seq < b.next {
		metricStaleDropped.Inc()
		b.log.WithFields(logrus.Fields{"seq": f.Seq, "next": b.next}).Debug("dropping stale media frame")
		return nil
	}
	if _, dup := b.pending[f.Seq]; dup {
		metricStaleDropped.Inc()
		return nil
	}
	b.pending[f.Seq] = f

	out := b.releasePrefix(nil)
	if len(b.pending) > 0 && len(out) == 0 {
		metricGapHeld.Inc()
	}
	return b.maybeFlush(out, f.Arrived)
}

// FlushDue releases the pending frames out of order once the oldest has
// waited past the gap timeout. Push only re-evaluates the timeout on the
// next arrival, so a stalled ingress stream needs this called on a tick.
func (b *Buffer) FlushDue(now time.Time) []Frame {
	if len(b.pending) == 0 || b.gapTimeout <= 0 {
		return nil
	}
	oldest := b.oldestArrival()
	if oldest.IsZero() || now.Sub(oldest) < b.gapTimeout {
		return nil
	}
	b.log.WithFields(logrus.Fields{"pending": len(b.pending), "next": b.next, "waited": now.Sub(oldest)}).
		Warn("sequence gap timed out; releasing out of order")
	return b.flushOutOfOrder(nil)
}

// Flush releases everything still pending, in order. Used at session close.
func (b *Buffer) Flush() []Frame {
	if len(b.pending) == 0 {
		return nil
	}
	return b.flushOutOfOrder(nil)
}

// Pending reports how many frames are buffered waiting on a gap.
func (b *Buffer) Pending() int { return len(b.pending) }

func (b *Buffer) releasePrefix(out []Frame) []Frame {
	for {
		f, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		b.next++
		out = append(out, f)
	}
}

func (b *Buffer) maybeFlush(out []Frame, now time.Time) []Frame {
	if len(b.pending) == 0 {
		return out
	}
	if len(b.pending) > b.maxGap {
		b.log.WithFields(logrus.Fields{"pending": len(b.pending), "next": b.next}).
			Warn("reorder buffer over gap budget; releasing out of order")
		return b.flushOutOfOrder(out)
	}
	if b.gapTimeout > 0 {
		oldest := b.oldestArrival()
		if !oldest.IsZero() && now.Sub(oldest) >= b.gapTimeout {
			b.log.WithFields(logrus.Fields{"pending": len(b.pending), "next": b.next, "waited": now.Sub(oldest)}).
				Warn("sequence gap timed out; releasing out of order")
			return b.flushOutOfOrder(out)
		}
	}
	return out
}

func (b *Buffer) flushOutOfOrder(out []Frame) []Frame {
	metricOutOfOrderFlushes.Inc()
	seqs := make([]uint64, 0, len(b.pending))
	for s := range b.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, s := range seqs {
		out = append(out, b.pending[s])
		delete(b.pending, s)
	}
	if n := len(seqs); n > 0 {
		b.next = seqs[n-1] + 1
	}
	return out
}

func (b *Buffer) oldestArrival() time.Time {
	var oldest time.Time
	for _, f := range b.pending {
		if oldest.IsZero() || f.Arrived.Before(oldest) {
			oldest = f.Arrived
		}
	}
	return oldest
}
