package subtitle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// countingFetcher serves cues from a fixed list and records requests.
type countingFetcher struct {
	mu    sync.Mutex
	cues  []Cue
	calls []Range
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, from, to float64) ([]Cue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Range{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []Cue
	for _, c := range f.cues {
		if c.End >= from && c.Start <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func everyTwoSeconds(n int) []Cue {
	cues := make([]Cue, n)
	for i := range cues {
		cues[i] = Cue{Start: float64(2 * i), End: float64(2*i) + 1.5, Text: "cue " + string(rune('a'+i%26))}
	}
	return cues
}

func TestWindowFetchRange(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{cues: everyTwoSeconds(200)}
	w := NewWindowCache(f, WindowConfig{Duration: 300, Now: newFakeClock().Now})

	res, err := w.Update(context.Background(), 30, false)
	if err != nil || res != Fetched {
		t.Fatalf("Update: got %v, %v", res, err)
	}
	if got := f.calls[0]; got != (Range{0, 150}) {
		t.Errorf("window at 30: got %+v, want {0 150}", got)
	}

	w.ClearCache()
	w.Update(context.Background(), 250, true)
	if got := f.calls[1]; got != (Range{190, 300}) {
		t.Errorf("window at 250: got %+v, want {190 300}", got)
	}
}

func TestWindowCoveredSkips(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := &countingFetcher{cues: everyTwoSeconds(200)}
	w := NewWindowCache(f, WindowConfig{Now: clock.Now})

	// Covers [40, 220]; the window end stays within the tolerance up to 110.
	w.Update(context.Background(), 100, false)
	pos := 100.0
	for pos+1.5 <= 110 {
		pos += 1.5
		clock.Advance(time.Second)
		if res, _ := w.Update(context.Background(), pos, false); res != Covered {
			t.Errorf("at %v: got %v, want covered", pos, res)
		}
	}
	clock.Advance(time.Second)
	if res, _ := w.Update(context.Background(), pos+1.5, false); res != Fetched {
		t.Errorf("at %v: got %v, want fetched", pos+1.5, res)
	}
	if f.count() != 2 {
		t.Errorf("fetches: got %d, want 2", f.count())
	}
}

func TestWindowSeekBypassesDebounce(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	// No cues at all, so coverage never short-circuits.
	f := &countingFetcher{}
	w := NewWindowCache(f, WindowConfig{Now: clock.Now})

	if res, _ := w.Update(context.Background(), 10, false); res != Fetched {
		t.Fatalf("first update: got %v", res)
	}
	clock.Advance(100 * time.Millisecond)
	if res, _ := w.Update(context.Background(), 10.3, false); res != Debounced {
		t.Errorf("10 -> 10.3: got %v, want debounced", res)
	}
	clock.Advance(100 * time.Millisecond)
	if res, _ := w.Update(context.Background(), 40, false); res != Fetched {
		t.Errorf("10.3 -> 40: got %v, want fetched", res)
	}
	clock.Advance(100 * time.Millisecond)
	if res, _ := w.Update(context.Background(), 40.2, true); res != Fetched {
		t.Errorf("forced: got %v, want fetched", res)
	}
	clock.Advance(time.Second)
	if res, _ := w.Update(context.Background(), 40.5, false); res != Fetched {
		t.Errorf("after debounce: got %v, want fetched", res)
	}
}

func TestWindowSeekBypassesCoverage(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := &countingFetcher{cues: everyTwoSeconds(100)}
	w := NewWindowCache(f, WindowConfig{Now: clock.Now})

	if res, _ := w.Update(context.Background(), 10, false); res != Fetched {
		t.Fatalf("first update: got %v", res)
	}
	clock.Advance(100 * time.Millisecond)
	if res, _ := w.Update(context.Background(), 11, false); res != Covered {
		t.Errorf("10 -> 11: got %v, want covered", res)
	}
	// 15 is inside [0, 130] but the jump exceeds the seek threshold.
	clock.Advance(100 * time.Millisecond)
	if res, _ := w.Update(context.Background(), 15, false); res != Fetched {
		t.Errorf("11 -> 15: got %v, want fetched", res)
	}
	if f.count() != 2 {
		t.Errorf("fetches: got %d, want 2", f.count())
	}
	// Starts 0..134 after the second fetch over [0, 135].
	if n := len(w.Window().Cues); n != 68 {
		t.Errorf("cues after refetch: got %d, want 68", n)
	}
}

func TestWindowMergeIdempotent(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{cues: everyTwoSeconds(100)}
	w := NewWindowCache(f, WindowConfig{Now: newFakeClock().Now})

	w.Update(context.Background(), 60, true)
	first := w.Window()
	w.Update(context.Background(), 60, true)
	second := w.Window()

	if len(second.Cues) != len(first.Cues) {
		t.Errorf("cues after refetch: got %d, want %d", len(second.Cues), len(first.Cues))
	}
	if len(second.Ranges) != 1 || second.Ranges[0] != first.Ranges[0] {
		t.Errorf("ranges: got %+v, want %+v", second.Ranges, first.Ranges)
	}

	// Near-identical starts with the same text are duplicates.
	added := w.Merge([]Cue{{Start: 0.05, End: 1.5, Text: "cue a"}, {Start: 0.05, End: 1, Text: "other"}}, Range{0, 1})
	if added != 1 {
		t.Errorf("added: got %d, want 1", added)
	}
	if got := w.Window().Ranges; got[0].Start != 0 || got[0].End != first.Ranges[0].End {
		t.Errorf("range shrank: %+v", got)
	}
}

func TestWindowMergeDedupesWithinBatch(t *testing.T) {
	t.Parallel()

	w := NewWindowCache(&countingFetcher{}, WindowConfig{})
	w.Merge([]Cue{{Start: 50, End: 51, Text: "x"}}, Range{40, 60})

	added := w.Merge([]Cue{
		{Start: 5, End: 6, Text: "d"},
		{Start: 5, End: 6, Text: "d"},
		{Start: 5.05, End: 6, Text: "d"},
	}, Range{0, 10})
	if added != 1 {
		t.Errorf("added: got %d, want 1", added)
	}
	cues := w.Window().Cues
	if len(cues) != 2 || cues[0].Text != "d" || cues[1].Text != "x" {
		t.Errorf("cues: got %+v", cues)
	}
}

func TestWindowMergeEarlierBatch(t *testing.T) {
	t.Parallel()

	w := NewWindowCache(&countingFetcher{}, WindowConfig{})
	var later []Cue
	for i := 0; i < 20; i++ {
		later = append(later, Cue{Start: float64(100 + i), End: float64(100+i) + 0.5, Text: fmt.Sprintf("c%d", i)})
	}
	w.Merge(later, Range{100, 120})

	// A batch from before the cached cues that repeats the first of them.
	var earlier []Cue
	for i := 1; i < 100; i++ {
		earlier = append(earlier, Cue{Start: float64(i), End: float64(i) + 0.5, Text: fmt.Sprintf("e%d", i)})
	}
	earlier = append(earlier, later[0])
	if added := w.Merge(earlier, Range{0, 100}); added != 99 {
		t.Errorf("added: got %d, want 99", added)
	}

	cues := w.Window().Cues
	if len(cues) != 119 {
		t.Fatalf("cues: got %d, want 119", len(cues))
	}
	copies := 0
	for i, c := range cues {
		if i > 0 && cues[i-1].Start > c.Start {
			t.Fatalf("cues out of order at %d: %v after %v", i, c.Start, cues[i-1].Start)
		}
		if c.Text == "c0" {
			copies++
		}
	}
	if copies != 1 {
		t.Errorf("copies of c0: got %d, want 1", copies)
	}
}

func TestAddRange(t *testing.T) {
	t.Parallel()

	var rs []Range
	rs = addRange(rs, Range{10, 20})
	rs = addRange(rs, Range{40, 50})
	rs = addRange(rs, Range{0, 5})
	if len(rs) != 3 || rs[0] != (Range{0, 5}) || rs[2] != (Range{40, 50}) {
		t.Fatalf("disjoint: got %+v", rs)
	}
	rs = addRange(rs, Range{5, 45})
	if len(rs) != 1 || rs[0] != (Range{0, 50}) {
		t.Errorf("joined: got %+v", rs)
	}
}

func TestWindowActive(t *testing.T) {
	t.Parallel()

	w := NewWindowCache(&countingFetcher{}, WindowConfig{})
	w.Merge([]Cue{
		{Start: 5, End: 8, Text: "late"},
		{Start: 1, End: 4, Text: "first"},
		{Start: 2, End: 3, Text: "overlap"},
	}, Range{0, 10})

	if c, ok := w.Active(2.5); !ok || c.Text != "first" {
		t.Errorf("Active(2.5): got %+v, %v, want first", c, ok)
	}
	if _, ok := w.Active(4.5); ok {
		t.Error("Active(4.5): expected no cue")
	}
	if _, ok := w.Active(8); ok {
		t.Error("Active(8): end is exclusive")
	}

	w.SetOffset(2)
	if w.Offset() != 2 {
		t.Errorf("offset: got %v", w.Offset())
	}
	if c, ok := w.Active(4.5); !ok || c.Text != "late" {
		t.Errorf("Active(4.5) with offset: got %+v, %v", c, ok)
	}
}

// blockingFetcher parks in Fetch until released.
type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _, _ float64) ([]Cue, error) {
	f.entered <- struct{}{}
	<-f.release
	return []Cue{{Start: 0, End: 1, Text: "x"}}, nil
}

func TestWindowBusySuppressesOverlap(t *testing.T) {
	t.Parallel()

	f := &blockingFetcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWindowCache(f, WindowConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Update(context.Background(), 0, true)
	}()
	<-f.entered

	if res, _ := w.Update(context.Background(), 0, true); res != Busy {
		t.Errorf("overlapping update: got %v, want busy", res)
	}
	w.ClearCache()
	close(f.release)
	<-done

	if n := len(w.Window().Cues); n != 0 {
		t.Errorf("fetch finishing after ClearCache stored %d cues", n)
	}
}

func TestWindowFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	f := &countingFetcher{err: boom}
	w := NewWindowCache(f, WindowConfig{Now: newFakeClock().Now})
	if _, err := w.Update(context.Background(), 0, false); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if res, _ := w.Update(context.Background(), 0, true); res != Fetched {
		t.Errorf("busy flag left set after error: %v", res)
	}
}
