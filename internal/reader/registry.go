package reader

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/lumen/internal/media"
)

// Registry enforces at most one reading reader per track. Starting a
// reader for a track cancels the previous one and waits for it to
// terminate before a new sequence is requested.
type Registry struct {
	opener Opener
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	readers map[int]*Reader
}

// NewRegistry creates a registry whose readers open sequences through
// opener.
func NewRegistry(opener Opener, opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		opener:  opener,
		opts:    opts,
		log:     log.With("component", "reader-registry"),
		readers: make(map[int]*Reader),
	}
}

// Start replaces any reader for track with a new one that reads from from
// and delivers to sink.
func (g *Registry) Start(ctx context.Context, track media.Track, from float64, sink Sink) (*Reader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.readers[track.ID]; ok {
		old.Cancel()
		if err := old.Wait(ctx); err != nil {
			return nil, err
		}
		delete(g.readers, track.ID)
		g.log.Debug("previous reader stopped", "track", track.ID)
	}

	r := New(g.opener, track, sink, g.opts)
	if err := r.Start(ctx, from); err != nil {
		return nil, err
	}
	g.readers[track.ID] = r
	return r, nil
}

// Stop cancels the reader for trackID and waits for it to terminate.
// Stopping a track without a reader is a no-op.
func (g *Registry) Stop(ctx context.Context, trackID int) error {
	g.mu.Lock()
	r, ok := g.readers[trackID]
	if ok {
		delete(g.readers, trackID)
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}
	r.Cancel()
	return r.Wait(ctx)
}

// Signal sets the cancellation flag of the reader for trackID without
// releasing its sequence, so an in-flight pull can observe it.
func (g *Registry) Signal(trackID int) {
	g.mu.Lock()
	r := g.readers[trackID]
	g.mu.Unlock()
	if r != nil {
		r.Signal()
	}
}

// StopAll cancels every reader and waits for all of them.
func (g *Registry) StopAll(ctx context.Context) error {
	g.mu.Lock()
	readers := g.readers
	g.readers = make(map[int]*Reader)
	g.mu.Unlock()

	for _, r := range readers {
		r.Cancel()
	}
	for _, r := range readers {
		if err := r.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the reader registered for trackID.
func (g *Registry) Get(trackID int) (*Reader, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.readers[trackID]
	return r, ok
}

// Active returns the track ids with a reader still reading, sorted.
func (g *Registry) Active() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []int
	for id, r := range g.readers {
		if r.State() == StateReading {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
