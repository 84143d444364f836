// Package reader drives per-track packet sequences to completion and
// forwards each packet to a sink, with an explicit cancellation contract:
// the caller signals, the reader releases and cancels its sequence, and the
// caller awaits confirmed termination before reusing the track.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/metrics"
)

// Per-invocation packet bounds. They guard against malformed or endless
// containers; hitting one stops the loop with a warning.
const (
	MaxVideoPackets    = 500000
	MaxAudioPackets    = 1000000
	MaxSubtitlePackets = 100000
)

// DefaultMaxPackets returns the packet bound for a track kind.
func DefaultMaxPackets(kind media.TrackKind) int {
	switch kind {
	case media.KindVideo:
		return MaxVideoPackets
	case media.KindAudio:
		return MaxAudioPackets
	default:
		return MaxSubtitlePackets
	}
}

// Sequence is a pull-driven packet stream with an exclusive claim.
// *matroska.PacketSequence implements it.
type Sequence interface {
	Next(ctx context.Context) (media.Packet, error)
	Release()
	Cancel()
}

// Opener opens a packet sequence for a track starting at from seconds.
type Opener interface {
	OpenSequence(ctx context.Context, track media.Track, from float64) (Sequence, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, track media.Track, from float64) (Sequence, error)

// OpenSequence calls f.
func (f OpenerFunc) OpenSequence(ctx context.Context, track media.Track, from float64) (Sequence, error) {
	return f(ctx, track, from)
}

// SessionOpener opens sequences on a container session, seeking via cues
// when from is past the start.
func SessionOpener(s *matroska.Session) Opener {
	return OpenerFunc(func(ctx context.Context, track media.Track, from float64) (Sequence, error) {
		seq, err := s.ReadPackets(ctx, track.Kind, from, track.ID, from > 0)
		if err != nil {
			return nil, err
		}
		return seq, nil
	})
}

// Sink receives delivered packets. Deliver may block for backpressure and
// must return when ctx is done.
type Sink interface {
	Deliver(ctx context.Context, pkt media.Packet) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, pkt media.Packet) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, pkt media.Packet) error {
	return f(ctx, pkt)
}

// State is the lifecycle state of a reader.
type State int32

// Reader states. A reader moves forward only.
const (
	StateIdle State = iota
	StateReading
	StateCanceling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateCanceling:
		return "canceling"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotIdle is returned by Start on a reader that was already started.
var ErrNotIdle = errors.New("reader: already started")

// ReadError reports a failure that ended one track's pull loop. It does
// not affect other tracks.
type ReadError struct {
	TrackID int
	Kind    media.TrackKind
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reader: %s track %d: %v", e.Kind, e.TrackID, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Options configures a Reader.
type Options struct {
	// MaxPackets bounds one invocation; 0 selects DefaultMaxPackets.
	MaxPackets int
	Logger     *slog.Logger
}

// Result summarizes a finished pull loop.
type Result struct {
	Packets   int
	Truncated bool // the packet bound was reached
	Canceled  bool
	Err       error
}

// Reader runs one pull loop for one track.
type Reader struct {
	opener Opener
	track  media.Track
	sink   Sink
	max    int
	log    *slog.Logger

	state    atomic.Int32
	canceled atomic.Bool

	mu     sync.Mutex
	seq    Sequence
	stop   context.CancelFunc
	result Result

	done   chan struct{}
	errs   chan error
	finish sync.Once
}

// New creates an idle reader for track that forwards packets to sink.
func New(opener Opener, track media.Track, sink Sink, opts Options) *Reader {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	max := opts.MaxPackets
	if max <= 0 {
		max = DefaultMaxPackets(track.Kind)
	}
	return &Reader{
		opener: opener,
		track:  track,
		sink:   sink,
		max:    max,
		log:    log.With("component", "reader", "track", track.ID, "kind", track.Kind.String()),
		done:   make(chan struct{}),
		errs:   make(chan error, 1),
	}
}

// Track returns the track being read.
func (r *Reader) Track() media.Track { return r.track }

// State returns the current state.
func (r *Reader) State() State { return State(r.state.Load()) }

// Start opens a sequence at from and starts the pull loop. A failure to
// open the sequence is returned as a *ReadError and leaves the reader
// closed.
func (r *Reader) Start(ctx context.Context, from float64) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateReading)) {
		return ErrNotIdle
	}
	seq, err := r.opener.OpenSequence(ctx, r.track, from)
	if err != nil {
		rerr := &ReadError{TrackID: r.track.ID, Kind: r.track.Kind, Err: err}
		r.close(Result{Err: rerr})
		return rerr
	}

	loopCtx, stop := context.WithCancel(ctx)
	r.mu.Lock()
	r.seq = seq
	r.stop = stop
	r.mu.Unlock()

	// A cancel that raced with opening must still reach the sequence.
	if r.canceled.Load() {
		seq.Release()
		seq.Cancel()
	}

	metrics.ReadersActive.WithLabelValues(r.track.Kind.String()).Inc()
	r.log.Debug("reader started", "from", from)
	go r.run(loopCtx, seq)
	return nil
}

func (r *Reader) run(ctx context.Context, seq Sequence) {
	kind := r.track.Kind.String()
	defer metrics.ReadersActive.WithLabelValues(kind).Dec()

	var res Result
	for {
		if res.Packets >= r.max {
			res.Truncated = true
			r.log.Warn("packet bound reached, stopping reader", "max", r.max)
			break
		}
		if r.canceled.Load() || ctx.Err() != nil {
			res.Canceled = true
			break
		}
		pkt, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if r.canceled.Load() || isCancellation(err) || ctx.Err() != nil {
				res.Canceled = true
				break
			}
			res.Err = &ReadError{TrackID: r.track.ID, Kind: r.track.Kind, Err: err}
			metrics.ReaderErrors.WithLabelValues(kind).Inc()
			r.log.Error("read failed", "error", err, "packets", res.Packets)
			break
		}
		// A packet pulled while canceling is dropped.
		if r.canceled.Load() {
			res.Canceled = true
			break
		}
		if err := r.sink.Deliver(ctx, pkt); err != nil {
			if r.canceled.Load() || isCancellation(err) {
				res.Canceled = true
			} else {
				res.Err = &ReadError{TrackID: r.track.ID, Kind: r.track.Kind, Err: err}
				metrics.ReaderErrors.WithLabelValues(kind).Inc()
				r.log.Error("delivery failed", "error", err)
			}
			break
		}
		res.Packets++
		metrics.PacketsRead.WithLabelValues(kind).Inc()
	}

	seq.Release()
	seq.Cancel()
	r.log.Debug("reader finished", "packets", res.Packets, "truncated", res.Truncated, "canceled", res.Canceled)
	r.close(res)
}

func (r *Reader) close(res Result) {
	r.finish.Do(func() {
		r.mu.Lock()
		r.result = res
		stop := r.stop
		r.mu.Unlock()
		if stop != nil {
			stop()
		}
		r.state.Store(int32(StateClosed))
		if res.Err != nil {
			r.errs <- res.Err
		}
		close(r.errs)
		close(r.done)
	})
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, matroska.ErrSequenceCanceled) ||
		errors.Is(err, matroska.ErrClosed)
}

// Signal sets the cancellation flag. The loop observes it before the next
// delivery and drops any packet it pulls afterwards. It is the first phase
// of Cancel.
func (r *Reader) Signal() {
	r.canceled.Store(true)
	r.state.CompareAndSwap(int32(StateReading), int32(StateCanceling))
}

// Cancel runs the full cancellation protocol: signal, release the sequence
// claim, then cancel the sequence. Redundant calls are harmless. Cancel
// does not wait; use Wait for confirmed termination.
func (r *Reader) Cancel() {
	r.Signal()
	r.mu.Lock()
	seq, stop := r.seq, r.stop
	r.mu.Unlock()
	if seq != nil {
		seq.Release()
		seq.Cancel()
	}
	if stop != nil {
		stop()
	}
	if r.State() == StateIdle {
		r.close(Result{Canceled: true})
	}
}

// Wait blocks until the loop has terminated or ctx is done.
func (r *Reader) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the loop has terminated, for any reason.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Errors receives at most one *ReadError and is closed when the loop
// terminates. Normal completion and cancellation send nothing.
func (r *Reader) Errors() <-chan error { return r.errs }

// Err returns the loop error after Done is closed.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.Err
}

// Result returns the loop summary. It is complete once Done is closed.
func (r *Reader) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}
