// Package player coordinates playback of one open container: it announces
// the tracks, runs the video and audio readers, feeds the audio scheduler,
// and keeps the subtitle window in step with the playhead.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/subtitle"
)

// DefaultVideoBatch bounds the packets handed to OnVideoSamples at once.
const DefaultVideoBatch = 16

// shutdownTimeout bounds how long Close waits for readers to terminate.
const shutdownTimeout = 5 * time.Second

// Player errors.
var (
	ErrStarted    = errors.New("player: already started")
	ErrNotStarted = errors.New("player: not started")
	ErrClosed     = errors.New("player: closed")
)

// Options configures a Player.
type Options struct {
	// NewDecoder creates audio decoders; nil selects audio.NewNullDecoder.
	NewDecoder audio.DecoderFactory
	// Output is the audio clock and sink; nil selects a wall-clock output.
	Output audio.Output
	Audio  audio.Options

	// Renderer displays subtitle cues; nil disables presentation.
	Renderer subtitle.Renderer
	Window   subtitle.WindowConfig

	Preferences Preferences

	VideoPolicy reader.Policy
	VideoBatch  int
	Reader      reader.Options
	Logger      *slog.Logger
}

// Player is the playback coordinator for one container session. It does
// not own the session; closing the player leaves the container open.
type Player struct {
	container *matroska.Session
	opener    reader.Opener
	sink      Sink
	opts      Options
	log       *slog.Logger

	videos *reader.Registry
	audio  *audio.Scheduler

	// fwd guards the video queue and is held while a batch is delivered,
	// so no batch of a replaced queue reaches the sink after a restart.
	fwd       sync.Mutex
	videoQ    *reader.Queue
	videoSwap chan struct{}

	// ctl serializes Start, Seek, track selection and Close.
	ctl     sync.Mutex
	g       *errgroup.Group
	cancel  context.CancelFunc
	ctx     context.Context
	started bool
	closed  bool
	info    Info

	mu        sync.Mutex
	position  float64
	subTrack  *media.Track
	window    *subtitle.WindowCache
	presenter *subtitle.Presenter
	scripted  bool
	offset    float64
}

// New creates a player for container that reports to sink.
func New(container *matroska.Session, sink Sink, opts Options) *Player {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "player")
	if opts.NewDecoder == nil {
		opts.NewDecoder = audio.NewNullDecoder
	}
	if opts.Output == nil {
		opts.Output = audio.NewWallClockOutput()
	}
	if opts.VideoBatch < 2 {
		opts.VideoBatch = DefaultVideoBatch
	}
	if opts.Reader.Logger == nil {
		opts.Reader.Logger = log
	}
	if opts.Window.Logger == nil {
		opts.Window.Logger = log
	}
	if sink == nil {
		sink = Callbacks{}
	}

	p := &Player{
		container: container,
		opener:    reader.SessionOpener(container),
		sink:      sink,
		opts:      opts,
		log:       log,
		videoQ:    reader.QueueFor(media.KindVideo, opts.VideoPolicy),
		videoSwap: make(chan struct{}),
		offset:    opts.Window.Offset,
	}
	p.videos = reader.NewRegistry(p.opener, opts.Reader)

	ao := opts.Audio
	if ao.Logger == nil {
		ao.Logger = log
	}
	if ao.Reader.MaxPackets == 0 {
		ao.Reader = opts.Reader
	}
	ao.OnPackets = sink.OnAudioSamples
	ao.OnTrackError = sink.OnTrackError
	p.audio = audio.New(p.opener, opts.NewDecoder, opts.Output, ao)
	return p
}

// Start opens the container if needed, reports OnReady once, and starts
// the video reader and the preferred audio track at position 0.
func (p *Player) Start(ctx context.Context) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return ErrStarted
	}
	if p.container.State() == matroska.StateUnopened {
		if _, err := p.container.Open(ctx); err != nil {
			return err
		}
	}

	p.info = p.describe()
	p.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	p.g, p.ctx, p.cancel = g, gctx, cancel

	p.sink.OnReady(p.info)

	if p.info.Video != nil {
		if err := p.startVideoLocked(gctx, 0); err != nil {
			p.log.Warn("video reader failed to start", "track", p.info.Video.ID, "error", err)
			p.sink.OnTrackError(p.info.Video.ID, err)
		}
		g.Go(func() error { return p.forwardVideo(gctx) })
	}

	if t, ok := SelectAudio(p.info.AudioTracks, p.opts.Preferences); ok {
		if err := p.audio.Play(gctx, t, 0); err != nil {
			p.log.Warn("audio track failed to start", "track", t.ID, "error", err)
			p.sink.OnTrackError(t.ID, err)
		}
	}

	if t, ok := SelectSubtitle(p.info.SubtitleTracks, p.opts.Preferences); ok {
		if err := p.selectSubtitleLocked(gctx, t.ID); err != nil {
			p.log.Warn("subtitle track unavailable", "track", t.ID, "error", err)
		}
	}

	p.log.Info("playback started",
		"duration", p.info.Duration,
		"audio", len(p.info.AudioTracks),
		"subtitles", len(p.info.SubtitleTracks))
	return nil
}

func (p *Player) describe() Info {
	info := Info{
		Duration: p.container.Duration(),
		Title:    p.container.Title(),
		Chapters: p.container.Chapters(),
		Fonts:    p.container.Fonts(),
	}
	for _, t := range p.container.Tracks() {
		switch t.Kind {
		case media.KindVideo:
			if info.Video == nil {
				v := t
				info.Video = &v
			}
		case media.KindAudio:
			info.AudioTracks = append(info.AudioTracks, t)
		case media.KindSubtitle:
			info.SubtitleTracks = append(info.SubtitleTracks, t)
		}
	}
	return info
}

// Info returns what OnReady reported.
func (p *Player) Info() Info {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	return p.info
}

func (p *Player) startVideoLocked(ctx context.Context, from float64) error {
	track := *p.info.Video
	if err := p.videos.Stop(ctx, track.ID); err != nil {
		return err
	}
	// Packets queued before the restart belong to the old position.
	q := reader.QueueFor(media.KindVideo, p.opts.VideoPolicy)
	p.fwd.Lock()
	p.videoQ = q
	close(p.videoSwap)
	p.videoSwap = make(chan struct{})
	p.fwd.Unlock()
	rd, err := p.videos.Start(ctx, track, from, q)
	if err != nil {
		return err
	}
	go p.watch(rd)
	return nil
}

func (p *Player) watch(rd *reader.Reader) {
	<-rd.Done()
	if err := rd.Err(); err != nil {
		p.sink.OnTrackError(rd.Track().ID, err)
	}
}

func (p *Player) forwardVideo(ctx context.Context) error {
	for {
		p.fwd.Lock()
		q, swapped := p.videoQ, p.videoSwap
		p.fwd.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-swapped:
		case pkt := <-q.C():
			batch := append([]media.Packet{pkt}, q.Drain(p.opts.VideoBatch-1)...)
			p.fwd.Lock()
			if q == p.videoQ {
				p.sink.OnVideoSamples(batch)
			}
			p.fwd.Unlock()
		}
	}
}

// Seek moves playback to t seconds: the video and audio readers restart
// at t and the subtitle window is invalidated.
func (p *Player) Seek(ctx context.Context, t float64) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if err := p.runningLocked(); err != nil {
		return err
	}
	if t < 0 {
		t = 0
	}
	if d := p.info.Duration; d > 0 && t > d {
		t = d
	}

	var errs []error
	if p.info.Video != nil {
		if err := p.startVideoLocked(p.ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("video: %w", err))
		}
	}
	if _, ok := p.audio.Track(); ok {
		if err := p.audio.Seek(p.ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		}
	}

	p.mu.Lock()
	p.position = t
	window, presenter := p.window, p.presenter
	p.mu.Unlock()
	if window != nil {
		window.ClearCache()
	}
	if presenter != nil {
		presenter.Reset()
	}
	p.log.Debug("seek", "t", t)
	return errors.Join(errs...)
}

// SwitchAudioTrack changes the audio track at the current position. An id
// that is not an audio track of the container, or the current track, is a
// no-op.
func (p *Player) SwitchAudioTrack(ctx context.Context, id int) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if err := p.runningLocked(); err != nil {
		return err
	}
	track, ok := byID(p.info.AudioTracks, id)
	if !ok {
		p.log.Debug("ignoring switch to unknown audio track", "track", id)
		return nil
	}
	if cur, ok := p.audio.Track(); ok && cur.ID == id && p.audio.Reader() != nil {
		return nil
	}
	return p.audio.SwitchTrack(p.ctx, track, p.Position())
}

// AudioTrack returns the audio track being played.
func (p *Player) AudioTrack() (media.Track, bool) {
	return p.audio.Track()
}

// Position returns the last playhead reported by Tick or Seek.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// ScheduledAudioTime returns the output clock time of the next audio buffer.
func (p *Player) ScheduledAudioTime() float64 {
	return p.audio.ScheduledTime()
}

// Tick reports the playhead, taken from the video clock, and updates
// subtitles.
func (p *Player) Tick(ctx context.Context, t float64) {
	p.mu.Lock()
	p.position = t
	presenter := p.presenter
	p.mu.Unlock()
	if presenter != nil {
		presenter.Tick(ctx, t)
	}
}

// ExtractAttachment returns attachment index with its data. An index that
// does not exist yields nil and false.
func (p *Player) ExtractAttachment(ctx context.Context, index int) (*media.Attachment, bool, error) {
	a, err := p.container.ExtractAttachment(ctx, index)
	if errors.Is(err, matroska.ErrUnknownAttachment) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// GetAllAttachments returns the font attachments, without data.
func (p *Player) GetAllAttachments() []media.Attachment {
	return p.container.Fonts()
}

func (p *Player) runningLocked() error {
	switch {
	case p.closed:
		return ErrClosed
	case !p.started:
		return ErrNotStarted
	}
	return nil
}

// Close stops every reader and releases the audio scheduler. Close is
// idempotent.
func (p *Player) Close() error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := p.videos.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.audio.Dispose(); err != nil {
		errs = append(errs, err)
	}
	p.mu.Lock()
	presenter := p.presenter
	p.presenter, p.window, p.subTrack = nil, nil, nil
	p.mu.Unlock()
	if presenter != nil {
		presenter.Reset()
	}
	if p.cancel != nil {
		p.cancel()
		if err := p.g.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.Debug("player closed")
	return errors.Join(errs...)
}
