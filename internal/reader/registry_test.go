package reader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/source"
	"github.com/zsiec/lumen/internal/testsupport"
)

func openSession(t *testing.T) *matroska.Session {
	t.Helper()
	f := testsupport.File{
		Duration: 10000,
		Tracks: []testsupport.Track{
			{Number: 1, Type: testsupport.TypeVideo, Codec: "V_VP9", Width: 320, Height: 240},
			{Number: 2, Type: testsupport.TypeAudio, Codec: "A_OPUS", SampleRate: 48000, Channels: 2},
			{Number: 3, Type: testsupport.TypeAudio, Codec: "A_AAC", SampleRate: 44100, Channels: 2},
		},
		Cues: true,
	}
	for c := 0; c < 10; c++ {
		base := int64(c * 1000)
		cl := testsupport.Cluster{Time: uint64(base)}
		for i := int64(0); i < 1000; i += 100 {
			cl.Blocks = append(cl.Blocks,
				testsupport.Block{Track: 1, Time: base + i, Keyframe: i == 0, Data: []byte{1}},
				testsupport.Block{Track: 2, Time: base + i, Keyframe: true, Data: []byte{2}},
				testsupport.Block{Track: 3, Time: base + i, Keyframe: true, Data: []byte{3}},
			)
		}
		f.Clusters = append(f.Clusters, cl)
	}
	s := matroska.New(source.NewMemory(f.Bytes()))
	if _, err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegistryReplacesReader(t *testing.T) {
	t.Parallel()

	s := openSession(t)
	g := NewRegistry(SessionOpener(s), Options{})
	track, _ := s.Track(2)

	// A full blocking queue parks the first reader inside Deliver.
	stalled := NewQueue(1, Block, media.KindAudio)
	first, err := g.Start(context.Background(), track, 0, stalled)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	sink := &collector{}
	second, err := g.Start(context.Background(), track, 5, sink)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	select {
	case <-first.Done():
	default:
		t.Fatal("previous reader must be terminated before the new one starts")
	}
	if first.Err() != nil {
		t.Errorf("replaced reader reported %v", first.Err())
	}
	waitDone(t, second)
	if sink.len() != 50 {
		t.Errorf("packets from 5s: got %d, want 50", sink.len())
	}
}

func TestRegistryRapidSwitchNeverInterleaves(t *testing.T) {
	t.Parallel()

	s := openSession(t)
	g := NewRegistry(SessionOpener(s), Options{})

	var mu sync.Mutex
	var order []int
	sinkFor := func(id int) Sink {
		return SinkFunc(func(ctx context.Context, p media.Packet) error {
			if p.TrackID != id {
				t.Errorf("packet for track %d delivered to sink of %d", p.TrackID, id)
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(100 * time.Microsecond)
			return nil
		})
	}

	var readers []*Reader
	for i := 0; i < 20; i++ {
		id := 2 + i%2
		tr, _ := s.Track(id)
		// Stop the other audio track first: only one audio reader at a time.
		if err := g.Stop(context.Background(), 5-id); err != nil {
			t.Fatal(err)
		}
		mu.Lock()
		order = append(order, -id)
		mu.Unlock()
		r, err := g.Start(context.Background(), tr, float64(i%5), sinkFor(id))
		if err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		readers = append(readers, r)
	}
	if err := g.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, r := range readers {
		waitDone(t, r)
	}

	// After a marker for track id, no packet from the other track appears.
	mu.Lock()
	defer mu.Unlock()
	current := 0
	for _, v := range order {
		if v < 0 {
			current = -v
			continue
		}
		if v != current {
			t.Fatalf("packet for track %d delivered while track %d was active", v, current)
		}
	}
}

func TestRegistryStop(t *testing.T) {
	t.Parallel()

	s := openSession(t)
	g := NewRegistry(SessionOpener(s), Options{})
	track, _ := s.Track(1)

	r, err := g.Start(context.Background(), track, 0, NewQueue(1, Block, media.KindVideo))
	if err != nil {
		t.Fatal(err)
	}
	if got := g.Active(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Active: got %v, want [1]", got)
	}
	if err := g.Stop(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateClosed {
		t.Errorf("state after Stop: got %v, want closed", r.State())
	}
	if err := g.Stop(context.Background(), 1); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, ok := g.Get(1); ok {
		t.Error("stopped reader still registered")
	}

	// The track claim was released, so it can be read again.
	if _, err := s.ReadPackets(context.Background(), media.KindVideo, 0, 1, false); err != nil {
		t.Errorf("ReadPackets after Stop: %v", err)
	}
}

func TestRegistrySessionClosed(t *testing.T) {
	t.Parallel()

	s := openSession(t)
	g := NewRegistry(SessionOpener(s), Options{})
	track, _ := s.Track(2)
	r, err := g.Start(context.Background(), track, 0, NewQueue(1, Block, media.KindAudio))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	r.Cancel()
	waitDone(t, r)
	if r.Err() != nil {
		t.Errorf("closed session surfaced %v", r.Err())
	}
	if _, err := g.Start(context.Background(), track, 0, &collector{}); !errors.Is(err, matroska.ErrClosed) {
		t.Errorf("Start on closed session: got %v, want ErrClosed", err)
	}
}

func TestQueueDropOldest(t *testing.T) {
	t.Parallel()

	q := NewQueue(3, DropOldest, media.KindSubtitle)
	for i := 0; i < 5; i++ {
		if err := q.Deliver(context.Background(), media.Packet{Timestamp: float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if q.Dropped() != 2 {
		t.Errorf("dropped: got %d, want 2", q.Dropped())
	}
	got := q.Drain(0)
	if len(got) != 3 || got[0].Timestamp != 2 || got[2].Timestamp != 4 {
		t.Errorf("drained: got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("len after drain: got %d", q.Len())
	}
}

func TestQueueBlock(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, Block, media.KindAudio)
	if err := q.Deliver(context.Background(), media.Packet{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Deliver(ctx, media.Packet{Timestamp: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("full queue: got %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Deliver(context.Background(), media.Packet{Timestamp: 3}) }()
	if p := <-q.C(); p.Timestamp != 1 {
		t.Errorf("first packet: got %v, want 1", p.Timestamp)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked Deliver: %v", err)
	}
	if got := q.Drain(5); len(got) != 1 || got[0].Timestamp != 3 {
		t.Errorf("drained: got %v", got)
	}
}

func TestQueueFor(t *testing.T) {
	t.Parallel()

	if got := QueueFor(media.KindVideo, Block).Cap(); got != media.VideoQueueSize {
		t.Errorf("video: got %d, want %d", got, media.VideoQueueSize)
	}
	if got := QueueFor(media.KindAudio, DropOldest).Cap(); got != media.AudioQueueSize {
		t.Errorf("audio: got %d, want %d", got, media.AudioQueueSize)
	}
	if got := QueueFor(media.KindSubtitle, DropOldest).Cap(); got != media.SubtitleQueueSize {
		t.Errorf("subtitle: got %d, want %d", got, media.SubtitleQueueSize)
	}
}
