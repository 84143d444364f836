package subtitle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/source"
	"github.com/zsiec/lumen/internal/testsupport"
)

var testASSHeader = []byte("[Script Info]\nScriptType: v4.00+\n\n[V4+ Styles]\nFormat: Name, Fontname\nStyle: Default,Arial\n")

// subtitleSession opens a 20 s file with an ASS track (2) carrying a cue
// every 2 s and an SRT track (3) carrying a cue every 3 s.
func subtitleSession(t *testing.T) *matroska.Session {
	t.Helper()
	f := testsupport.File{
		Duration: 20000,
		Tracks: []testsupport.Track{
			{Number: 1, Type: testsupport.TypeVideo, Codec: "V_VP9", Width: 320, Height: 240},
			{Number: 2, Type: testsupport.TypeSubtitle, Codec: "S_TEXT/ASS", CodecPrivate: testASSHeader},
			{Number: 3, Type: testsupport.TypeSubtitle, Codec: "S_TEXT/UTF8", Language: "spa"},
			{Number: 4, Type: testsupport.TypeSubtitle, Codec: "S_HDMV/PGS"},
		},
		Cues:     true,
		CueTrack: 1,
	}
	for c := 0; c < 20; c++ {
		base := int64(c * 1000)
		cl := testsupport.Cluster{Time: uint64(base)}
		cl.Blocks = append(cl.Blocks, testsupport.Block{Track: 1, Time: base, Keyframe: true, Data: []byte{1}})
		if c%2 == 0 {
			cl.Blocks = append(cl.Blocks, testsupport.Block{
				Track: 2, Time: base, Keyframe: true, Duration: 1000,
				Data: []byte(fmt.Sprintf("%d,0,Default,,0,0,0,,Line %d, part two", c/2, c)),
			})
		}
		if c%3 == 0 {
			cl.Blocks = append(cl.Blocks, testsupport.Block{
				Track: 3, Time: base + 500, Keyframe: true, Duration: 1000,
				Data: []byte(fmt.Sprintf(" Texto %d ", c)),
			})
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

func TestContainerFetcherASS(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(2)
	f, err := NewContainerFetcher(reader.SessionOpener(s), track)
	if err != nil {
		t.Fatal(err)
	}
	cues, err := f.Fetch(context.Background(), 10, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 3 {
		t.Fatalf("cues: got %d, want 3: %+v", len(cues), cues)
	}
	want := Cue{Start: 10, End: 11, Text: "Line 10, part two", Style: "Default"}
	if cues[0] != want {
		t.Errorf("first cue: got %+v, want %+v", cues[0], want)
	}
	if cues[2].Start != 14 {
		t.Errorf("last cue start: got %v, want 14", cues[2].Start)
	}

	// The claim is released after each fetch.
	if _, err := f.Fetch(context.Background(), 0, 5); err != nil {
		t.Errorf("second fetch: %v", err)
	}
}

func TestContainerFetcherText(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(3)
	f, err := NewContainerFetcher(reader.SessionOpener(s), track)
	if err != nil {
		t.Fatal(err)
	}
	cues, err := f.Fetch(context.Background(), 0, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 3 || cues[1].Text != "Texto 3" || cues[1].Start != 3.5 {
		t.Errorf("got %+v", cues)
	}
}

func TestContainerFetcherRejects(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	pgs, _ := s.Track(4)
	if _, err := NewContainerFetcher(reader.SessionOpener(s), pgs); err == nil {
		t.Error("bitmap subtitles accepted")
	}
	video, _ := s.Track(1)
	if _, err := NewContainerFetcher(reader.SessionOpener(s), video); !errors.Is(err, errNotSubtitle) {
		t.Errorf("video track: got %v", err)
	}
}

func TestWindowOverContainer(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(2)
	f, _ := NewContainerFetcher(reader.SessionOpener(s), track)
	w := NewWindowCache(f, WindowConfig{Before: 5, After: 5, CoverTolerance: 1, Duration: 20})

	if _, err := w.Update(context.Background(), 8.5, true); err != nil {
		t.Fatal(err)
	}
	if c, ok := w.Active(8.5); !ok || c.Text != "Line 8, part two" {
		t.Errorf("Active(8.5): got %+v, %v", c, ok)
	}
	if _, ok := w.Active(9.5); ok {
		t.Error("Active(9.5): expected gap")
	}
}

func TestExtractASS(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(2)
	script, isASS, err := Extract(context.Background(), reader.SessionOpener(s), track)
	if err != nil {
		t.Fatal(err)
	}
	if !isASS {
		t.Error("expected ASS output")
	}
	if !strings.HasPrefix(script, "[Script Info]") || !strings.Contains(script, "[Events]\n"+eventsFormat) {
		t.Errorf("script header: %q", script)
	}
	if got := strings.Count(script, "Dialogue: "); got != 10 {
		t.Errorf("dialogue lines: got %d, want 10", got)
	}
	if !strings.Contains(script, "Dialogue: 0,0:00:04.00,0:00:05.00,Default,,0,0,0,,Line 4, part two\n") {
		t.Errorf("missing dialogue line in %q", script)
	}
}

func TestExtractSRT(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(3)
	blob, isASS, err := Extract(context.Background(), reader.SessionOpener(s), track)
	if err != nil {
		t.Fatal(err)
	}
	if isASS {
		t.Error("text track reported as ASS")
	}
	cues := ParseSRT([]byte(blob))
	if len(cues) != 7 {
		t.Fatalf("cues: got %d, want 7", len(cues))
	}
	if cues[6].Text != "Texto 18" || cues[6].Start != 18.5 {
		t.Errorf("last cue: got %+v", cues[6])
	}
}

func TestExtractRejectsVideo(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(1)
	if _, _, err := Extract(context.Background(), reader.SessionOpener(s), track); err == nil {
		t.Error("expected error for video track")
	}
}

func TestExtractStopsAtLimit(t *testing.T) {
	t.Parallel()

	s := subtitleSession(t)
	track, _ := s.Track(3)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	blob, _, err := extract(context.Background(), reader.SessionOpener(s), track, 3, log)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(ParseSRT([]byte(blob))); got != 3 {
		t.Errorf("cues: got %d, want 3", got)
	}
	if !strings.Contains(buf.String(), "packet limit") || !strings.Contains(buf.String(), "track=3") {
		t.Errorf("log: got %q, want a packet limit warning for track 3", buf.String())
	}

	buf.Reset()
	if _, _, err := extract(context.Background(), reader.SessionOpener(s), track, 100, log); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("log: got %q, want nothing below the limit", buf.String())
	}
}

func TestRemoteFetcherDownloadsOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srt := FormatSRT([]Cue{
		{Start: 1, End: 2, Text: "one"},
		{Start: 100, End: 101, Text: "two"},
		{Start: 200, End: 201, Text: "three"},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, srt)
	}))
	defer srv.Close()

	f := NewRemoteFetcher(HTTPLoader(srv.Client(), srv.URL))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), 0, 10); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	cues, err := f.Fetch(context.Background(), 50, 150)
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 1 || cues[0].Text != "two" {
		t.Errorf("range 50-150: got %+v", cues)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("downloads: got %d, want 1", n)
	}
}

func TestRemoteFetcherRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	var calls int
	f := NewRemoteFetcher(func(context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("offline")
		}
		return []byte("[Events]\nFormat: Start, End, Text\nDialogue: 0:00:01.00,0:00:03.00,hola\n"), nil
	})
	if _, err := f.Fetch(context.Background(), 0, 10); err == nil {
		t.Fatal("expected error")
	}
	cues, err := f.Fetch(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cues) != 1 || cues[0].Text != "hola" {
		t.Errorf("got %+v", cues)
	}
}

func TestHTTPLoaderStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := HTTPLoader(nil, srv.URL)(context.Background()); err == nil {
		t.Error("expected error for 404")
	}
}

func TestDecodeTextLatin1(t *testing.T) {
	t.Parallel()

	if got := decodeText([]byte{'c', 'a', 'f', 0xE9}); got != "café" {
		t.Errorf("got %q", got)
	}
}
