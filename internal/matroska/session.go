// Package matroska reads Matroska and WebM containers from a random-access
// source: it discovers tracks, chapters and attachments, and serves lazy
// per-track packet sequences with cue-based seeking.
package matroska

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/lumen/internal/ebml"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/metrics"
	"github.com/zsiec/lumen/internal/source"
)

// State is the lifecycle state of a session.
type State int

// Session states. Reads and seeks are valid only in StateReady.
const (
	StateUnopened State = iota
	StateOpening
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TrackList is the result of opening a container.
type TrackList struct {
	Video     []media.Track
	Audio     []media.Track
	Subtitles []media.Track
	Fonts     []media.Attachment
}

// All returns every track in the list, video first.
func (l TrackList) All() []media.Track {
	out := make([]media.Track, 0, len(l.Video)+len(l.Audio)+len(l.Subtitles))
	out = append(out, l.Video...)
	out = append(out, l.Audio...)
	return append(out, l.Subtitles...)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The session adds its own component field.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithMetadataHints supplies the backend's flattened metadata, used for
// any kind the container itself does not describe.
func WithMetadataHints(m *LegacyMetadata) Option {
	return func(s *Session) { s.hints = m }
}

// Session is one open container.
type Session struct {
	src   source.Source
	log   *slog.Logger
	hints *LegacyMetadata

	mu          sync.Mutex
	state       State
	info        segmentInfo
	tracks      []media.Track
	byID        map[int]*trackInfo
	chapters    []media.Chapter
	attachments []attachmentRef
	cues        []cuePoint
	claims      map[int]*PacketSequence
	done        chan struct{}
}

// New creates an unopened session reading from src. The session owns src
// and closes it on Close.
func New(src source.Source, opts ...Option) *Session {
	s := &Session{
		src:    src,
		claims: make(map[int]*PacketSequence),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "matroska")
	return s
}

// Open parses the container metadata. It may be called once; later calls
// fail with ErrAlreadyOpen, or ErrClosed after Close.
func (s *Session) Open(ctx context.Context) (TrackList, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return TrackList{}, ErrClosed
	case StateOpening, StateReady:
		s.mu.Unlock()
		return TrackList{}, ErrAlreadyOpen
	}
	s.state = StateOpening
	s.mu.Unlock()

	start := time.Now()
	hdr, err := parseHeader(ctx, s.src, s.src.Size(), s.log)
	metrics.SessionOpenDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return TrackList{}, ErrClosed
	}
	if err != nil {
		s.state = StateUnopened
		s.log.Warn("open failed", "error", err)
		return TrackList{}, &OpenError{Err: err}
	}

	s.info = hdr.info
	tracks := make([]trackInfo, 0, len(hdr.tracks))
	seen := make(map[int]bool, len(hdr.tracks))
	for _, t := range hdr.tracks {
		if seen[t.ID] {
			s.log.Warn("duplicate track number", "track", t.ID)
			continue
		}
		seen[t.ID] = true
		tracks = append(tracks, t)
	}
	s.byID = make(map[int]*trackInfo, len(tracks))
	for i := range tracks {
		s.byID[tracks[i].ID] = &tracks[i]
	}
	s.tracks = Normalize(streamInfos(tracks), s.hints)
	s.chapters = normalizeChapters(hdr.chapters, s.hints)
	s.attachments = hdr.attachments
	s.cues = hdr.cues
	s.state = StateReady
	metrics.SessionsActive.Inc()

	list := s.trackListLocked()
	s.log.Info("container opened",
		"duration", s.info.duration,
		"video", len(list.Video),
		"audio", len(list.Audio),
		"subtitles", len(list.Subtitles),
		"fonts", len(list.Fonts),
		"chapters", len(s.chapters),
		"cues", len(s.cues),
	)
	return list, nil
}

func (s *Session) trackListLocked() TrackList {
	var l TrackList
	for _, t := range s.tracks {
		switch t.Kind {
		case media.KindVideo:
			l.Video = append(l.Video, t)
		case media.KindAudio:
			l.Audio = append(l.Audio, t)
		case media.KindSubtitle:
			l.Subtitles = append(l.Subtitles, t)
		}
	}
	l.Fonts = s.fontsLocked()
	return l
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tracks returns a copy of the normalized track list.
func (s *Session) Tracks() []media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Track(nil), s.tracks...)
}

// Track returns the track with the given id.
func (s *Session) Track(id int) (media.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.ID == id {
			return t, true
		}
	}
	return media.Track{}, false
}

// Duration returns the presentation duration in seconds, 0 when unknown.
func (s *Session) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.duration
}

// Title returns the segment title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.title
}

// Chapters returns the chapter list ordered by start.
func (s *Session) Chapters() []media.Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Chapter(nil), s.chapters...)
}

// Attachments returns every attachment without data.
func (s *Session) Attachments() []media.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Attachment, 0, len(s.attachments))
	for _, a := range s.attachments {
		out = append(out, a.Attachment)
	}
	return out
}

// Fonts returns the font attachments without data.
func (s *Session) Fonts() []media.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fontsLocked()
}

func (s *Session) fontsLocked() []media.Attachment {
	var out []media.Attachment
	for _, a := range s.attachments {
		if IsFont(a.MimeType, a.Filename) {
			out = append(out, a.Attachment)
		}
	}
	return out
}

// ExtractAttachment reads the data of attachment index.
func (s *Session) ExtractAttachment(ctx context.Context, index int) (*media.Attachment, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if index < 0 || index >= len(s.attachments) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownAttachment, index)
	}
	ref := s.attachments[index]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := ebml.ReadBytes(s.src, ebml.Header{ID: ebml.IDFileData, Size: ref.Size, DataOffset: ref.dataOffset})
	if err != nil {
		return nil, &ParseError{Element: "FileData", Offset: ref.dataOffset, Err: err}
	}
	a := ref.Attachment
	a.Data = data
	return &a, nil
}

func (s *Session) readyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Close releases the source. Outstanding sequences fail with ErrClosed on
// their next pull. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasReady := s.state == StateReady
	s.state = StateClosed
	close(s.done)
	s.claims = make(map[int]*PacketSequence)
	s.mu.Unlock()

	if wasReady {
		metrics.SessionsActive.Dec()
	}
	s.log.Debug("session closed")
	return s.src.Close()
}
