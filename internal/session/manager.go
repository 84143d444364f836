// Package session tracks the container sessions open in a process, providing
// open/get/remove/list operations used by the CLI and the inspect server.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/source"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Session is one opened container.
type Session struct {
	ID        string
	Location  string
	OpenedAt  time.Time
	Container *matroska.Session
	Tracks    matroska.TrackList
}

// OpenOptions controls how a location is opened.
type OpenOptions struct {
	// HintsURL, when set, points at the backend's flattened metadata for
	// the location. Results are cached per location.
	HintsURL string
	Source   []source.HTTPOption
}

// Manager manages the lifecycle of open sessions.
type Manager struct {
	log    *slog.Logger
	cache  *MetadataCache
	client *http.Client

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager backed by cache. A nil cache gets a
// private one with the default size. If log is nil, slog.Default() is used.
func NewManager(cache *MetadataCache, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cache == nil {
		cache = NewMetadataCache(0)
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		cache:    cache,
		client:   http.DefaultClient,
		sessions: make(map[string]*Session),
	}
}

// Cache returns the manager's metadata cache.
func (m *Manager) Cache() *MetadataCache { return m.cache }

// Open opens location, parses its metadata, and registers the session under
// a fresh id.
func (m *Manager) Open(ctx context.Context, location string, opts OpenOptions) (*Session, error) {
	var copts []matroska.Option
	if opts.HintsURL != "" {
		hints, err := m.cache.Hints(ctx, location, func(ctx context.Context) (*matroska.LegacyMetadata, error) {
			return matroska.FetchHints(ctx, m.client, opts.HintsURL)
		})
		if err != nil {
			// The container's own metadata is authoritative; hints only fill gaps.
			m.log.Warn("metadata hints unavailable", "location", location, "error", err)
		} else {
			copts = append(copts, matroska.WithMetadataHints(hints))
		}
	}

	src, err := source.Open(ctx, location, opts.Source...)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", location, err)
	}

	id := uuid.NewString()
	copts = append(copts, matroska.WithLogger(m.log.With("session", id)))
	container := matroska.New(src, copts...)
	tracks, err := container.Open(ctx)
	if err != nil {
		container.Close()
		return nil, err
	}

	s := &Session{
		ID:        id,
		Location:  location,
		OpenedAt:  time.Now(),
		Container: container,
		Tracks:    tracks,
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("session opened", "session", id, "location", location,
		"video", len(tracks.Video), "audio", len(tracks.Audio), "subtitles", len(tracks.Subtitles))
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Remove closes a session and removes it from the manager.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.log.Info("session removed", "session", id)
	return s.Container.Close()
}

// List returns all open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// CloseAll closes every session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Container.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
