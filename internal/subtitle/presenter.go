package subtitle

import (
	"context"
	"log/slog"
	"sync"
)

// Renderer displays cues. A renderer that understands ASS styling also
// receives the full script.
type Renderer interface {
	CueActive(c Cue)
	CueInactive(c Cue)
}

// ScriptRenderer is implemented by renderers that take over ASS tracks.
type ScriptRenderer interface {
	Renderer
	LoadScript(script string)
}

// Presenter drives a Renderer from a WindowCache as the playhead moves.
// At most one cue is displayed at a time.
type Presenter struct {
	cache    *WindowCache
	renderer Renderer
	log      *slog.Logger

	mu      sync.Mutex
	current *Cue
}

// NewPresenter creates a presenter for cache.
func NewPresenter(cache *WindowCache, r Renderer, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	return &Presenter{cache: cache, renderer: r, log: log.With("component", "subtitle-presenter")}
}

// LoadScript hands an ASS script to renderers that support it. It reports
// whether the renderer took it.
func (p *Presenter) LoadScript(script string) bool {
	sr, ok := p.renderer.(ScriptRenderer)
	if ok {
		sr.LoadScript(script)
	}
	return ok
}

// Tick refreshes the window for playhead t and updates the displayed cue.
// Fetch failures keep the current cache and are only logged.
func (p *Presenter) Tick(ctx context.Context, t float64) {
	if _, err := p.cache.Update(ctx, t, false); err != nil {
		p.log.Debug("window update failed", "t", t, "error", err)
	}
	p.Show(t)
}

// Show updates the displayed cue for t without fetching.
func (p *Presenter) Show(t float64) {
	next, ok := p.cache.Active(t)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && ok && sameCue(*p.current, next) {
		return
	}
	if p.current != nil {
		p.renderer.CueInactive(*p.current)
		p.current = nil
	}
	if ok {
		p.current = &next
		p.renderer.CueActive(next)
	}
}

// Reset hides the current cue, for seeks and track changes.
func (p *Presenter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.renderer.CueInactive(*p.current)
		p.current = nil
	}
}

func sameCue(a, b Cue) bool {
	return a.Start == b.Start && a.End == b.End && a.Text == b.Text
}
