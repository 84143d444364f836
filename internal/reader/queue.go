package reader

import (
	"context"
	"sync/atomic"

	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/metrics"
)

// Policy selects what a full Queue does with a new packet.
type Policy int

// Backpressure policies.
const (
	// DropOldest discards the oldest queued packet to make room.
	DropOldest Policy = iota
	// Block makes the producer wait until the consumer drains.
	Block
)

func (p Policy) String() string {
	if p == Block {
		return "block"
	}
	return "drop-oldest"
}

// Queue is a bounded Sink. Consumers receive from C or drain batches.
type Queue struct {
	ch      chan media.Packet
	policy  Policy
	label   string
	dropped atomic.Int64
}

// NewQueue creates a queue holding at most capacity packets. The kind
// labels drop metrics.
func NewQueue(capacity int, policy Policy, kind media.TrackKind) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan media.Packet, capacity),
		policy: policy,
		label:  kind.String(),
	}
}

// QueueFor creates a queue sized for kind with the media package defaults.
func QueueFor(kind media.TrackKind, policy Policy) *Queue {
	size := media.SubtitleQueueSize
	switch kind {
	case media.KindVideo:
		size = media.VideoQueueSize
	case media.KindAudio:
		size = media.AudioQueueSize
	}
	return NewQueue(size, policy, kind)
}

// Deliver enqueues pkt according to the queue policy.
func (q *Queue) Deliver(ctx context.Context, pkt media.Packet) error {
	if q.policy == Block {
		select {
		case q.ch <- pkt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case q.ch <- pkt:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			metrics.PacketsDropped.WithLabelValues(q.label).Inc()
		default:
		}
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan media.Packet { return q.ch }

// Drain returns up to max queued packets without blocking. max <= 0
// drains everything currently queued.
func (q *Queue) Drain(max int) []media.Packet {
	n := len(q.ch)
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]media.Packet, 0, n)
	for i := 0; i < n; i++ {
		select {
		case p := <-q.ch:
			out = append(out, p)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of queued packets.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns how many packets DropOldest has discarded.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
