package subtitle

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/lumen/internal/metrics"
)

// Window defaults.
const (
	DefaultWindowBefore    = 60.0
	DefaultWindowAfter     = 120.0
	DefaultCoverTolerance  = 10.0
	DefaultDebounce        = 500 * time.Millisecond
	DefaultSeekThreshold   = 2.0
	DefaultDedupeTolerance = 0.1
)

// Fetcher returns the cues overlapping [from, to] seconds.
type Fetcher interface {
	Fetch(ctx context.Context, from, to float64) ([]Cue, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, from, to float64) ([]Cue, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, from, to float64) ([]Cue, error) {
	return f(ctx, from, to)
}

// WindowConfig tunes a WindowCache. Zero values take the defaults.
type WindowConfig struct {
	Before          float64 // seconds before the playhead to fetch
	After           float64 // seconds after the playhead to fetch
	CoverTolerance  float64
	Debounce        time.Duration
	SeekThreshold   float64
	DedupeTolerance float64

	// Duration clamps the fetch window; 0 means unknown.
	Duration float64
	Offset   float64

	Now    func() time.Time
	Logger *slog.Logger
}

func (c *WindowConfig) applyDefaults() {
	if c.Before <= 0 {
		c.Before = DefaultWindowBefore
	}
	if c.After <= 0 {
		c.After = DefaultWindowAfter
	}
	if c.CoverTolerance <= 0 {
		c.CoverTolerance = DefaultCoverTolerance
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SeekThreshold <= 0 {
		c.SeekThreshold = DefaultSeekThreshold
	}
	if c.DedupeTolerance <= 0 {
		c.DedupeTolerance = DefaultDedupeTolerance
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// UpdateResult says what an Update call did.
type UpdateResult int

// Update outcomes.
const (
	Fetched UpdateResult = iota
	Covered
	Debounced
	Busy
)

func (r UpdateResult) String() string {
	switch r {
	case Fetched:
		return "fetched"
	case Covered:
		return "covered"
	case Debounced:
		return "debounced"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Range is a covered span of the timeline in seconds.
type Range struct {
	Start float64
	End   float64
}

// Window is a snapshot of the cache.
type Window struct {
	Ranges []Range
	Cues   []Cue
	Offset float64
}

// WindowCache holds the cues around the playhead. Only its own fetch
// completions mutate the cached cues, one fetch at a time.
type WindowCache struct {
	fetcher Fetcher
	cfg     WindowConfig
	log     *slog.Logger

	mu        sync.Mutex
	cues      []Cue
	ranges    []Range
	offset    float64
	busy      bool
	epoch     uint64
	lastFetch time.Time
	lastPos   float64
	hasPos    bool
}

// NewWindowCache creates an empty cache backed by f.
func NewWindowCache(f Fetcher, cfg WindowConfig) *WindowCache {
	cfg.applyDefaults()
	return &WindowCache{
		fetcher: f,
		cfg:     cfg,
		log:     cfg.Logger.With("component", "subtitle-window"),
		offset:  cfg.Offset,
	}
}

// Update makes sure the cues around playhead t are cached. A jump of more
// than the seek threshold since the previous call, or force, bypasses the
// coverage check and the debounce.
func (w *WindowCache) Update(ctx context.Context, t float64, force bool) (UpdateResult, error) {
	w.mu.Lock()
	seek := w.hasPos && math.Abs(t-w.lastPos) > w.cfg.SeekThreshold
	w.lastPos, w.hasPos = t, true

	pos := t + w.offset
	from := math.Max(0, pos-w.cfg.Before)
	to := pos + w.cfg.After
	if w.cfg.Duration > 0 {
		to = math.Min(w.cfg.Duration, to)
	}

	if w.busy {
		w.mu.Unlock()
		metrics.SubtitleFetches.WithLabelValues("busy").Inc()
		return Busy, nil
	}
	if !force && !seek && w.coveredLocked(from, to) {
		w.mu.Unlock()
		return Covered, nil
	}
	now := w.cfg.Now()
	if !force && !seek && !w.lastFetch.IsZero() && now.Sub(w.lastFetch) < w.cfg.Debounce {
		w.mu.Unlock()
		metrics.SubtitleFetches.WithLabelValues("debounced").Inc()
		return Debounced, nil
	}
	w.busy = true
	w.lastFetch = now
	epoch := w.epoch
	w.mu.Unlock()

	start := time.Now()
	cues, err := w.fetcher.Fetch(ctx, from, to)
	metrics.SubtitleFetchDuration.Observe(time.Since(start).Seconds())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	if err != nil {
		metrics.SubtitleFetches.WithLabelValues("error").Inc()
		w.log.Warn("subtitle fetch failed", "from", from, "to", to, "error", err)
		return Fetched, err
	}
	if epoch != w.epoch {
		// ClearCache ran while fetching.
		return Fetched, nil
	}
	added := w.mergeLocked(cues, Range{Start: from, End: to})
	metrics.SubtitleFetches.WithLabelValues("ok").Inc()
	w.log.Debug("subtitle window fetched", "from", from, "to", to, "cues", len(cues), "added", added, "seek", seek)
	return Fetched, nil
}

func (w *WindowCache) coveredLocked(from, to float64) bool {
	if len(w.cues) == 0 {
		return false
	}
	tol := w.cfg.CoverTolerance
	for _, r := range w.ranges {
		if r.Start <= from+tol && r.End >= to-tol {
			return true
		}
	}
	return false
}

// Merge adds cues fetched for r. Cues already present (same text, start
// within the dedupe tolerance) are not added again.
func (w *WindowCache) Merge(cues []Cue, r Range) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mergeLocked(cues, r)
}

func (w *WindowCache) mergeLocked(cues []Cue, r Range) int {
	added := 0
	for _, c := range cues {
		if w.containsLocked(c) {
			continue
		}
		// w.cues stays sorted so later cues of the batch dedupe against
		// earlier ones.
		i := sort.Search(len(w.cues), func(i int) bool { return w.cues[i].Start > c.Start })
		w.cues = slices.Insert(w.cues, i, c)
		added++
	}
	w.ranges = addRange(w.ranges, r)
	return added
}

func (w *WindowCache) containsLocked(c Cue) bool {
	tol := w.cfg.DedupeTolerance
	lo := sort.Search(len(w.cues), func(i int) bool { return w.cues[i].Start >= c.Start-tol })
	for i := lo; i < len(w.cues) && w.cues[i].Start <= c.Start+tol; i++ {
		if w.cues[i].Text == c.Text {
			return true
		}
	}
	return false
}

// addRange inserts r into a sorted list of disjoint ranges, joining
// overlapping or touching ones.
func addRange(ranges []Range, r Range) []Range {
	if r.End < r.Start {
		return ranges
	}
	out := make([]Range, 0, len(ranges)+1)
	for _, x := range ranges {
		switch {
		case x.End < r.Start:
			out = append(out, x)
		case x.Start > r.End:
			out = append(out, r)
			r = x
		default:
			r.Start = math.Min(r.Start, x.Start)
			r.End = math.Max(r.End, x.End)
		}
	}
	return append(out, r)
}

// Active returns the cue shown at playhead t: the first cue in start order
// that contains t plus the offset.
func (w *WindowCache) Active(t float64) (Cue, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos := t + w.offset
	end := sort.Search(len(w.cues), func(i int) bool { return w.cues[i].Start > pos })
	for i := 0; i < end; i++ {
		if w.cues[i].Contains(pos) {
			return w.cues[i], true
		}
	}
	return Cue{}, false
}

// SetOffset shifts cue matching by offset seconds.
func (w *WindowCache) SetOffset(offset float64) {
	w.mu.Lock()
	w.offset = offset
	w.mu.Unlock()
}

// Offset returns the current offset.
func (w *WindowCache) Offset() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// SetDuration updates the media duration used to clamp fetches.
func (w *WindowCache) SetDuration(d float64) {
	w.mu.Lock()
	w.cfg.Duration = d
	w.mu.Unlock()
}

// ClearCache drops all cues and coverage. A fetch in flight is discarded
// when it completes.
func (w *WindowCache) ClearCache() {
	w.mu.Lock()
	w.cues = nil
	w.ranges = nil
	w.epoch++
	w.lastFetch = time.Time{}
	w.hasPos = false
	w.mu.Unlock()
}

// Window returns a snapshot of the cached ranges and cues.
func (w *WindowCache) Window() Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Window{
		Ranges: append([]Range(nil), w.ranges...),
		Cues:   append([]Cue(nil), w.cues...),
		Offset: w.offset,
	}
}
