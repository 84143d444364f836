package audio

import (
	"sync"
	"time"
)

// Chunk is one encoded packet handed to a decoder.
type Chunk struct {
	Timestamp float64
	Duration  float64
	Key       bool
	Data      []byte
}

// Buffer is a block of decoded audio ready to be scheduled.
type Buffer struct {
	Timestamp  float64 // presentation time of the source chunk
	Duration   float64 // seconds of audio
	SampleRate int
	Channels   int
	Samples    []float32 // interleaved, may be nil for simulated output
}

// Decoder decodes chunks asynchronously. Output is delivered through the
// callbacks passed to the DecoderFactory, possibly from another goroutine
// and possibly before Decode returns.
type Decoder interface {
	Configure(cfg DecoderConfig) error
	Decode(c Chunk) error
	Close() error
}

// DecoderFactory creates a decoder whose buffers go to onBuffer and whose
// asynchronous failures go to onError.
type DecoderFactory func(onBuffer func(Buffer), onError func(error)) (Decoder, error)

// Output is the audio device: a monotonic clock plus a way to start a
// buffer at an absolute clock time.
type Output interface {
	Now() float64
	Schedule(buf Buffer, at float64) error
	// Stop silences everything scheduled so far.
	Stop()
	Close() error
}

// NullDecoder produces silent buffers whose duration matches the chunk.
// It is used for timeline simulation and tests.
type NullDecoder struct {
	mu       sync.Mutex
	cfg      DecoderConfig
	onBuffer func(Buffer)
	closed   bool
}

// NewNullDecoder is a DecoderFactory for NullDecoder.
func NewNullDecoder(onBuffer func(Buffer), _ func(error)) (Decoder, error) {
	return &NullDecoder{onBuffer: onBuffer}, nil
}

// Configure stores cfg.
func (d *NullDecoder) Configure(cfg DecoderConfig) error {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Decode emits one buffer synchronously. AAC chunks without a duration are
// assumed to hold 1024 samples.
func (d *NullDecoder) Decode(c Chunk) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	cfg := d.cfg
	d.mu.Unlock()

	dur := c.Duration
	if dur <= 0 && cfg.SampleRate > 0 {
		dur = 1024 / float64(cfg.SampleRate)
	}
	d.onBuffer(Buffer{
		Timestamp:  c.Timestamp,
		Duration:   dur,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})
	return nil
}

// Close stops further output.
func (d *NullDecoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Scheduled is one buffer placed on the output timeline.
type Scheduled struct {
	At     float64
	Buffer Buffer
}

// WallClockOutput is an Output driven by the monotonic wall clock that
// records what was scheduled instead of playing it.
type WallClockOutput struct {
	start time.Time
	now   func() time.Time

	mu        sync.Mutex
	scheduled []Scheduled
	closed    bool
}

// NewWallClockOutput returns an output whose clock starts at zero.
func NewWallClockOutput() *WallClockOutput {
	return &WallClockOutput{start: time.Now(), now: time.Now}
}

// Now returns seconds since the output was created.
func (o *WallClockOutput) Now() float64 {
	return o.now().Sub(o.start).Seconds()
}

// Schedule records buf at at.
func (o *WallClockOutput) Schedule(buf Buffer, at float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.scheduled = append(o.scheduled, Scheduled{At: at, Buffer: buf})
	return nil
}

// Stop forgets buffers that have not started yet.
func (o *WallClockOutput) Stop() {
	now := o.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.scheduled[:0]
	for _, s := range o.scheduled {
		if s.At <= now {
			kept = append(kept, s)
		}
	}
	o.scheduled = kept
}

// Close releases the output.
func (o *WallClockOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

// Timeline returns a copy of everything scheduled.
func (o *WallClockOutput) Timeline() []Scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Scheduled(nil), o.scheduled...)
}
