package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/testsupport"
)

func writeFile(t *testing.T) string {
	t.Helper()
	f := testsupport.File{
		Duration: 2000,
		Tracks: []testsupport.Track{
			{Number: 1, Type: testsupport.TypeVideo, Codec: "V_VP9", Width: 320, Height: 240},
			{Number: 2, Type: testsupport.TypeAudio, Codec: "A_OPUS", SampleRate: 48000, Channels: 2},
		},
		Clusters: []testsupport.Cluster{{Time: 0, Blocks: []testsupport.Block{
			{Track: 1, Time: 0, Keyframe: true, Data: []byte{1}},
			{Track: 2, Time: 0, Keyframe: true, Data: []byte{2}},
		}}},
	}
	path := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(path, f.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerOpenGetRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	path := writeFile(t)

	s, err := m.Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.ID == "" || s.OpenedAt.IsZero() {
		t.Errorf("got %+v, want id and open time", s)
	}
	if len(s.Tracks.Video) != 1 || len(s.Tracks.Audio) != 1 {
		t.Errorf("tracks: got %+v", s.Tracks)
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get: got %v, %v", got, err)
	}
	if err := m.Remove(s.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Container.State() != matroska.StateClosed {
		t.Errorf("state after remove: got %v, want closed", s.Container.State())
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove: got %v, want ErrNotFound", err)
	}
	if err := m.Remove(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove: got %v, want ErrNotFound", err)
	}
}

func TestManagerOpenMissing(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	if _, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "nope.mkv"), OpenOptions{}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("sessions: got %d, want 0", n)
	}
}

func TestManagerListAndCloseAll(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	path := writeFile(t)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := m.Open(context.Background(), path, OpenOptions{})
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		ids = append(ids, s.ID)
	}
	list := m.List()
	if len(list) != 3 {
		t.Fatalf("list: got %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].OpenedAt.Before(list[i-1].OpenedAt) {
			t.Errorf("list not ordered by open time at %d", i)
		}
	}
	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	for _, id := range ids {
		if _, err := m.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) after CloseAll: got %v", id, err)
		}
	}
}

func TestManagerHintsCachedPerLocation(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audio_tracks":[{"index":2,"language":"jpn"}],"subtitle_tracks":[],"chapters":[{"index":0,"title":"Intro","start_time":0,"end_time":1}]}`))
	}))
	defer srv.Close()

	cache := NewMetadataCache(4)
	m := NewManager(cache, nil)
	path := writeFile(t)
	for i := 0; i < 2; i++ {
		s, err := m.Open(context.Background(), path, OpenOptions{HintsURL: srv.URL})
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		if chs := s.Container.Chapters(); len(chs) != 1 || chs[0].Title != "Intro" {
			t.Errorf("chapters from hints: got %+v", chs)
		}
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("hint requests: got %d, want 1", got)
	}
	if cache.Len() != 1 {
		t.Errorf("cache len: got %d, want 1", cache.Len())
	}
	m.CloseAll()
}

func TestManagerHintsFailureStillOpens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewManager(nil, nil)
	s, err := m.Open(context.Background(), writeFile(t), OpenOptions{HintsURL: srv.URL})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if m.Cache().Len() != 0 {
		t.Error("failed hints must not be cached")
	}
	m.Remove(s.ID)
}

func TestMetadataCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	c := NewMetadataCache(2)
	c.Put("a", &matroska.LegacyMetadata{})
	c.Put("b", &matroska.LegacyMetadata{})
	c.Get("a")
	c.Put("c", &matroska.LegacyMetadata{})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be cached", k)
		}
	}
	c.Remove("a")
	if c.Len() != 1 {
		t.Errorf("len: got %d, want 1", c.Len())
	}
}

func TestMetadataCacheSingleLoad(t *testing.T) {
	t.Parallel()

	c := NewMetadataCache(0)
	var loads atomic.Int64
	release := make(chan struct{})
	load := func(ctx context.Context) (*matroska.LegacyMetadata, error) {
		loads.Add(1)
		<-release
		return &matroska.LegacyMetadata{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Hints(context.Background(), "loc", load); err != nil {
				t.Errorf("Hints: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()
	if got := loads.Load(); got != 1 {
		t.Errorf("loads: got %d, want 1", got)
	}
}

func TestMetadataCacheLoadError(t *testing.T) {
	t.Parallel()

	c := NewMetadataCache(0)
	boom := errors.New("boom")
	if _, err := c.Hints(context.Background(), "loc", func(context.Context) (*matroska.LegacyMetadata, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if _, ok := c.Get("loc"); ok {
		t.Error("error result must not be cached")
	}
}
