package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/metrics"
	"github.com/zsiec/lumen/internal/reader"
)

// DefaultSwitchGrace is the delay between signalling a reader and forcibly
// canceling its sequence during a track switch.
const DefaultSwitchGrace = 50 * time.Millisecond

// Scheduler errors.
var (
	ErrNoTrack  = errors.New("audio: no track configured")
	ErrDisposed = errors.New("audio: scheduler disposed")
	ErrNotAudio = errors.New("audio: not an audio track")
)

// Options configures a Scheduler.
type Options struct {
	SwitchGrace time.Duration
	Framing     Framing
	Reader      reader.Options
	Logger      *slog.Logger

	// OnPackets observes packets accepted for decoding, in delivery order.
	OnPackets func(trackID int, pkts []media.Packet)
	// OnTrackError receives the *reader.ReadError that ended a reader.
	OnTrackError func(trackID int, err error)
}

// Scheduler decodes packets of the current audio track and schedules the
// decoded buffers back to back on the output clock.
type Scheduler struct {
	opener     reader.Opener
	newDecoder DecoderFactory
	out        Output
	grace      time.Duration
	framing    Framing
	readerOpts reader.Options
	log        *slog.Logger
	onPackets  func(int, []media.Packet)
	onTrackErr func(int, error)

	// ctl serializes Play, Seek, SwitchTrack, Stop and Dispose. It is
	// never held by decoder or reader callbacks.
	ctl sync.Mutex
	rd  *reader.Reader

	mu       sync.Mutex
	track    *media.Track
	framer   *ADTSFramer
	dec      Decoder
	gen      uint64
	cursor   float64
	disposed bool
}

// New creates a scheduler reading packets through opener.
func New(opener reader.Opener, newDecoder DecoderFactory, out Output, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	grace := opts.SwitchGrace
	if grace <= 0 {
		grace = DefaultSwitchGrace
	}
	ro := opts.Reader
	if ro.Logger == nil {
		ro.Logger = log
	}
	return &Scheduler{
		opener:     opener,
		newDecoder: newDecoder,
		out:        out,
		grace:      grace,
		framing:    opts.Framing,
		readerOpts: ro,
		log:        log.With("component", "audio-scheduler"),
		onPackets:  opts.OnPackets,
		onTrackErr: opts.OnTrackError,
	}
}

// SetTrack resets the timeline cursor to the output clock and replaces the
// decoder with one configured for track. Output of earlier decoders is
// discarded from here on.
func (s *Scheduler) SetTrack(track media.Track) error {
	if track.Kind != media.KindAudio {
		return fmt.Errorf("%w: track %d is %s", ErrNotAudio, track.ID, track.Kind)
	}
	cfg, err := ConfigFor(track, s.framing)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.gen++
	gen := s.gen
	old := s.dec
	s.dec = nil
	s.cursor = s.out.Now()
	s.track = &track
	s.framer = nil
	if IsAAC(track.Codec) && s.framing == FramingADTS {
		s.framer = NewADTSFramer(track.Extradata, track.SampleRate, track.Channels)
	}
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	dec, err := s.newDecoder(
		func(b Buffer) { s.onBuffer(gen, b) },
		func(err error) { s.onDecodeError(gen, err) },
	)
	if err != nil {
		return fmt.Errorf("audio: create decoder: %w", err)
	}
	if err := dec.Configure(cfg); err != nil {
		dec.Close()
		return fmt.Errorf("audio: configure %s: %w", cfg.Codec, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.disposed {
		s.mu.Unlock()
		dec.Close()
		return nil
	}
	s.dec = dec
	s.mu.Unlock()

	s.log.Debug("decoder configured", "track", track.ID, "codec", cfg.Codec,
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	return nil
}

// Decode submits packets of the current track to the decoder. Packets that
// fail to decode are logged and skipped.
func (s *Scheduler) Decode(pkts []media.Packet) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.decode(gen, pkts)
}

func (s *Scheduler) decode(gen uint64, pkts []media.Packet) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.gen != gen {
		// Late packets from a stopped reader.
		s.mu.Unlock()
		return nil
	}
	dec, framer := s.dec, s.framer
	s.mu.Unlock()
	if dec == nil {
		return ErrNoTrack
	}
	if s.onPackets != nil && len(pkts) > 0 {
		s.onPackets(pkts[0].TrackID, pkts)
	}

	for _, p := range pkts {
		data := p.Data
		if framer != nil {
			framed, err := framer.Wrap(data)
			if err != nil {
				s.decodeFailed(p, err)
				continue
			}
			data = framed
		}
		err := dec.Decode(Chunk{
			Timestamp: p.Timestamp,
			Duration:  p.Duration,
			Key:       p.IsKeyframe,
			Data:      data,
		})
		if err != nil {
			s.decodeFailed(p, err)
		}
	}
	return nil
}

func (s *Scheduler) decodeFailed(p media.Packet, err error) {
	metrics.AudioDecodeErrors.Inc()
	s.log.Warn("decode failed, skipping packet", "track", p.TrackID, "ts", p.Timestamp, "error", err)
}

func (s *Scheduler) onDecodeError(gen uint64, err error) {
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	metrics.AudioDecodeErrors.Inc()
	s.log.Warn("decoder error", "error", err)
}

func (s *Scheduler) onBuffer(gen uint64, b Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.gen != gen {
		return
	}
	if now := s.out.Now(); s.cursor < now {
		metrics.AudioUnderruns.Inc()
		s.log.Debug("audio underrun, snapping cursor", "behind", now-s.cursor)
		s.cursor = now
	}
	if err := s.out.Schedule(b, s.cursor); err != nil {
		s.log.Warn("schedule failed", "error", err)
		return
	}
	metrics.AudioBuffersScheduled.Inc()
	if b.Duration > 0 {
		s.cursor += b.Duration
	}
}

// ScheduledTime returns the output clock time at which the next buffer
// starts.
func (s *Scheduler) ScheduledTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Track returns the configured track.
func (s *Scheduler) Track() (media.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return media.Track{}, false
	}
	return *s.track, true
}

// Reader returns the reader currently feeding the decoder, nil when idle.
func (s *Scheduler) Reader() *reader.Reader {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return s.rd
}

// Play configures track and starts reading it from from seconds.
func (s *Scheduler) Play(ctx context.Context, track media.Track, from float64) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if err := s.stopReaderLocked(ctx, 0); err != nil {
		return err
	}
	return s.startLocked(ctx, track, from)
}

// Seek restarts the current track at t with a fresh decoder and cursor.
func (s *Scheduler) Seek(ctx context.Context, t float64) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	track, ok := s.Track()
	if !ok {
		return ErrNoTrack
	}
	if err := s.stopReaderLocked(ctx, 0); err != nil {
		return err
	}
	s.out.Stop()
	return s.startLocked(ctx, track, t)
}

// SwitchTrack stops and drains the current track before starting track at
// t. The old reader gets the grace delay to observe its cancel flag before
// its sequence is canceled.
func (s *Scheduler) SwitchTrack(ctx context.Context, track media.Track, t float64) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if err := s.stopReaderLocked(ctx, s.grace); err != nil {
		return err
	}
	s.out.Stop()
	if old, ok := s.Track(); ok {
		s.log.Info("switching audio track", "from", old.ID, "to", track.ID, "at", t)
	}
	return s.startLocked(ctx, track, t)
}

// Stop halts reading, closes the decoder and silences scheduled output.
// The track is remembered so Seek can resume it.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	err := s.stopReaderLocked(ctx, 0)
	s.mu.Lock()
	s.gen++
	dec := s.dec
	s.dec = nil
	s.mu.Unlock()
	if dec != nil {
		dec.Close()
	}
	s.out.Stop()
	return err
}

// Dispose stops playback and releases the decoder and output. Dispose is
// idempotent.
func (s *Scheduler) Dispose() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.gen++
	dec := s.dec
	s.dec = nil
	s.mu.Unlock()

	if s.rd != nil {
		s.rd.Cancel()
		<-s.rd.Done()
		s.rd = nil
	}
	var errs []error
	if dec != nil {
		errs = append(errs, dec.Close())
	}
	s.out.Stop()
	errs = append(errs, s.out.Close())
	return errors.Join(errs...)
}

func (s *Scheduler) startLocked(ctx context.Context, track media.Track, from float64) error {
	if err := s.SetTrack(track); err != nil {
		return err
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	sink := reader.SinkFunc(func(_ context.Context, p media.Packet) error {
		switch err := s.decode(gen, []media.Packet{p}); {
		case errors.Is(err, ErrDisposed):
			return context.Canceled
		case err != nil && !errors.Is(err, ErrNoTrack):
			return err
		}
		return nil
	})
	rd := reader.New(s.opener, track, sink, s.readerOpts)
	if err := rd.Start(ctx, from); err != nil {
		return err
	}
	s.rd = rd
	if s.onTrackErr != nil {
		go func() {
			<-rd.Done()
			if err := rd.Err(); err != nil {
				s.onTrackErr(track.ID, err)
			}
		}()
	}
	return nil
}

// stopReaderLocked terminates the current reader. With a grace delay the
// reader is signalled first and canceled once the delay passes or it ends
// by itself.
func (s *Scheduler) stopReaderLocked(ctx context.Context, grace time.Duration) error {
	rd := s.rd
	if rd == nil {
		return nil
	}
	s.rd = nil

	// Invalidate the old reader's sink before it drains.
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()

	if grace > 0 {
		rd.Signal()
		t := time.NewTimer(grace)
		select {
		case <-rd.Done():
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
	}
	rd.Cancel()
	return rd.Wait(ctx)
}
