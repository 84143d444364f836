package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/source"
	"github.com/zsiec/lumen/internal/subtitle"
	"github.com/zsiec/lumen/internal/testsupport"
)

const testHeader = "[Script Info]\nScriptType: v4.00+\n\n[V4+ Styles]\nFormat: Name, Fontname, Fontsize\nStyle: Default,Arial,20\n"

func movie(t *testing.T, open bool) *matroska.Session {
	t.Helper()
	f := testsupport.File{
		Duration: 10000,
		Title:    "Test Movie",
		Tracks: []testsupport.Track{
			{Number: 1, Type: testsupport.TypeVideo, Codec: "V_VP9", Width: 640, Height: 360},
			{Number: 2, Type: testsupport.TypeAudio, Codec: "A_AAC", SampleRate: 48000, Channels: 2,
				CodecPrivate: []byte{0x11, 0x90}, Language: "jpn"},
			{Number: 3, Type: testsupport.TypeSubtitle, Codec: "S_TEXT/UTF8", Language: "eng", NotDefault: true},
			{Number: 4, Type: testsupport.TypeSubtitle, Codec: "S_TEXT/ASS", Language: "jpn", NotDefault: true,
				CodecPrivate: []byte(testHeader)},
		},
		Chapters: []testsupport.Chapter{
			{UID: 1, Start: 0, End: 5e9, Title: "Opening"},
			{UID: 2, Start: 5e9, End: 10e9, Title: "Ending"},
		},
		Attachments: []testsupport.Attachment{
			{UID: 10, Name: "Font.ttf", MimeType: "application/x-truetype-font", Data: []byte("glyphs")},
			{UID: 11, Name: "cover.jpg", MimeType: "image/jpeg", Data: []byte{0xFF, 0xD8}},
		},
		Cues:     true,
		CueTrack: 1,
	}
	for c := 0; c < 10; c++ {
		base := int64(c * 1000)
		cl := testsupport.Cluster{Time: uint64(base)}
		for i := int64(0); i < 1000; i += 100 {
			cl.Blocks = append(cl.Blocks,
				testsupport.Block{Track: 1, Time: base + i, Keyframe: i == 0, Data: []byte{1}},
				testsupport.Block{Track: 2, Time: base + i, Keyframe: true, Data: []byte{0x21, 0x10}},
			)
			if i == 500 {
				cl.Blocks = append(cl.Blocks,
					testsupport.Block{Track: 3, Time: base + i, Keyframe: true, Duration: 1000,
						Data: []byte(fmt.Sprintf("Line %d", c))},
					testsupport.Block{Track: 4, Time: base + i, Keyframe: true, Duration: 1000,
						Data: []byte(fmt.Sprintf("%d,0,Default,,0,0,0,,Line %d, again", c, c))},
				)
			}
		}
		f.Clusters = append(f.Clusters, cl)
	}
	s := matroska.New(source.NewMemory(f.Bytes()))
	if open {
		if _, err := s.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// recorder is a Sink that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	ready  []Info
	video  []media.Packet
	audio  map[int]int
	errors map[int]error
}

func newRecorder() *recorder {
	return &recorder{audio: make(map[int]int), errors: make(map[int]error)}
}

func (r *recorder) OnReady(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, info)
}

func (r *recorder) OnVideoSamples(pkts []media.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video = append(r.video, pkts...)
}

func (r *recorder) OnAudioSamples(trackID int, pkts []media.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[trackID] += len(pkts)
}

func (r *recorder) OnTrackError(trackID int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[trackID] = err
}

func (r *recorder) videoCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.video)
}

func (r *recorder) audioCount(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio[id]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPlayerEndToEnd(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(movie(t, true), rec, Options{})
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventually(t, "all video packets", func() bool { return rec.videoCount() == 100 })
	eventually(t, "all audio packets", func() bool { return rec.audioCount(2) == 100 })

	rec.mu.Lock()
	if len(rec.ready) != 1 {
		t.Fatalf("OnReady calls: got %d, want 1", len(rec.ready))
	}
	info := rec.ready[0]
	rec.mu.Unlock()
	if len(info.AudioTracks) != 1 {
		t.Errorf("audio tracks: got %d, want 1", len(info.AudioTracks))
	}
	if info.Video == nil || info.Video.ID != 1 {
		t.Errorf("video: got %+v, want track 1", info.Video)
	}
	if info.Duration != 10 || info.Title != "Test Movie" {
		t.Errorf("info: got duration %v title %q", info.Duration, info.Title)
	}
	if len(info.Chapters) != 2 || info.Chapters[1].Title != "Ending" {
		t.Errorf("chapters: got %+v", info.Chapters)
	}
	if len(info.SubtitleTracks) != 2 || len(info.Fonts) != 1 {
		t.Errorf("subtitles %d fonts %d, want 2 and 1", len(info.SubtitleTracks), len(info.Fonts))
	}

	// Video timestamps arrive in order.
	rec.mu.Lock()
	for i := 1; i < len(rec.video); i++ {
		if rec.video[i].Timestamp < rec.video[i-1].Timestamp {
			t.Errorf("video out of order at %d", i)
			break
		}
	}
	rec.mu.Unlock()

	if err := p.SwitchAudioTrack(ctx, 99); err != nil {
		t.Errorf("switch to unknown track: got %v, want nil", err)
	}
	if tr, ok := p.AudioTrack(); !ok || tr.ID != 2 {
		t.Errorf("audio track after bogus switch: got %d %v, want 2", tr.ID, ok)
	}
	rec.mu.Lock()
	if len(rec.ready) != 1 || len(rec.errors) != 0 || rec.audio[99] != 0 {
		t.Errorf("bogus switch produced callbacks: ready=%d errors=%v", len(rec.ready), rec.errors)
	}
	rec.mu.Unlock()

	if err := p.Start(ctx); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start: got %v, want ErrStarted", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := p.Seek(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Seek after Close: got %v, want ErrClosed", err)
	}
}

func TestPlayerOpensContainer(t *testing.T) {
	t.Parallel()

	s := movie(t, false)
	p := New(s, nil, Options{})
	defer p.Close()
	if err := p.Seek(context.Background(), 1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Seek before Start: got %v, want ErrNotStarted", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != matroska.StateReady {
		t.Errorf("state: got %v, want ready", s.State())
	}
}

func TestPlayerSeekRestartsVideo(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(movie(t, true), rec, Options{})
	defer p.Close()
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, "first pass", func() bool { return rec.videoCount() == 100 })
	eventually(t, "audio first pass", func() bool { return rec.audioCount(2) == 100 })

	if err := p.Seek(ctx, 5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if p.Position() != 5 {
		t.Errorf("position: got %v, want 5", p.Position())
	}
	eventually(t, "video after seek", func() bool { return rec.videoCount() == 150 })
	eventually(t, "audio after seek", func() bool { return rec.audioCount(2) == 150 })

	rec.mu.Lock()
	first := rec.video[100]
	rec.mu.Unlock()
	if first.Timestamp != 5 || !first.IsKeyframe {
		t.Errorf("first packet after seek: got %+v, want keyframe at 5", first)
	}
}

func TestPlayerSeekDropsStaleVideo(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(movie(t, true), rec, Options{VideoBatch: 2})
	defer p.Close()
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		if err := p.Seek(ctx, 2); err != nil {
			t.Fatalf("Seek(2): %v", err)
		}
		if err := p.Seek(ctx, 8); err != nil {
			t.Fatalf("Seek(8): %v", err)
		}
		rec.mu.Lock()
		mark := len(rec.video)
		rec.mu.Unlock()
		time.Sleep(5 * time.Millisecond)

		rec.mu.Lock()
		for _, pkt := range rec.video[mark:] {
			if pkt.Timestamp < 8 {
				t.Errorf("round %d: packet at %v delivered after Seek(8) returned", i, pkt.Timestamp)
				break
			}
		}
		rec.mu.Unlock()
	}
}

// cueRenderer records cue transitions and scripts.
type cueRenderer struct {
	mu      sync.Mutex
	events  []string
	scripts []string
}

func (r *cueRenderer) CueActive(c subtitle.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "+"+c.Text)
}

func (r *cueRenderer) CueInactive(c subtitle.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "-"+c.Text)
}

func (r *cueRenderer) LoadScript(script string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
}

func (r *cueRenderer) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]string(nil), r.scripts...)
}

func TestPlayerSubtitles(t *testing.T) {
	t.Parallel()

	r := &cueRenderer{}
	p := New(movie(t, true), nil, Options{
		Renderer:    r,
		Preferences: Preferences{SubtitleLanguage: "en"},
	})
	defer p.Close()
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if tr, ok := p.SubtitleTrack(); !ok || tr.ID != 3 {
		t.Fatalf("subtitle track: got %d %v, want 3", tr.ID, ok)
	}

	p.Tick(ctx, 0.7)
	p.Tick(ctx, 1.0)
	p.Tick(ctx, 3.6)
	events, _ := r.snapshot()
	want := []string{"+Line 0", "-Line 0", "+Line 3"}
	if strings.Join(events, "|") != strings.Join(want, "|") {
		t.Errorf("events: got %v, want %v", events, want)
	}

	p.SetSubtitleOffset(1)
	if c, ok := p.ActiveCue(2.6); !ok || c.Text != "Line 3" {
		t.Errorf("offset cue: got %+v %v, want Line 3", c, ok)
	}

	if err := p.SelectSubtitleTrack(ctx, 4); err != nil {
		t.Fatalf("select ASS: %v", err)
	}
	if !p.SubtitleScripted() {
		t.Error("ASS track should be scripted")
	}
	events, scripts := r.snapshot()
	if len(scripts) != 1 || !strings.Contains(scripts[0], "[Events]") ||
		!strings.Contains(scripts[0], "Line 4, again") {
		t.Errorf("script: got %q", scripts)
	}
	if events[len(events)-1] != "-Line 3" {
		t.Errorf("previous cue should be hidden on track change, got %v", events)
	}

	if err := p.SelectSubtitleTrack(ctx, 2); !errors.Is(err, matroska.ErrUnknownTrack) {
		t.Errorf("select audio as subtitle: got %v, want ErrUnknownTrack", err)
	}
	if err := p.SelectSubtitleTrack(ctx, 0); err != nil {
		t.Errorf("subtitles off: %v", err)
	}
	if _, ok := p.SubtitleTrack(); ok {
		t.Error("subtitles should be off")
	}
}

func TestPlayerExternalSubtitles(t *testing.T) {
	t.Parallel()

	p := New(movie(t, true), nil, Options{})
	defer p.Close()
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	srt := "1\n00:00:01,000 --> 00:00:02,500\nRemote line\n"
	f := subtitle.NewRemoteFetcher(func(context.Context) ([]byte, error) { return []byte(srt), nil })
	if err := p.LoadExternalSubtitles(ctx, f); err != nil {
		t.Fatal(err)
	}
	if res, err := p.UpdateSubtitles(ctx, 1.5, false); err != nil || res != subtitle.Fetched {
		t.Fatalf("update: got %v %v", res, err)
	}
	if c, ok := p.ActiveCue(1.5); !ok || c.Text != "Remote line" {
		t.Errorf("active: got %+v %v", c, ok)
	}
	if w, ok := p.SubtitleWindow(); !ok || len(w.Cues) != 1 {
		t.Errorf("window: got %+v", w)
	}
}

func TestPlayerExtraction(t *testing.T) {
	t.Parallel()

	p := New(movie(t, true), nil, Options{})
	defer p.Close()
	ctx := context.Background()

	fonts := p.GetAllAttachments()
	if len(fonts) != 1 || fonts[0].Filename != "Font.ttf" {
		t.Fatalf("fonts: got %+v", fonts)
	}
	a, ok, err := p.ExtractAttachment(ctx, 0)
	if err != nil || !ok || string(a.Data) != "glyphs" {
		t.Errorf("attachment 0: got %+v %v %v", a, ok, err)
	}
	if a, ok, err := p.ExtractAttachment(ctx, 7); a != nil || ok || err != nil {
		t.Errorf("attachment 7: got %+v %v %v, want nil false nil", a, ok, err)
	}

	script, isASS, err := p.ExtractSubtitleTrack(ctx, 4)
	if err != nil || !isASS {
		t.Fatalf("extract ASS: %v %v", isASS, err)
	}
	if !strings.Contains(script, "Dialogue: 0,0:00:00.50,0:00:01.50,Default,,0,0,0,,Line 0, again") {
		t.Errorf("script:\n%s", script)
	}
	srt, isASS, err := p.ExtractSubtitleTrack(ctx, 3)
	if err != nil || isASS {
		t.Fatalf("extract SRT: %v %v", isASS, err)
	}
	if !strings.Contains(srt, "00:00:00,500 --> 00:00:01,500\nLine 0") {
		t.Errorf("srt:\n%s", srt)
	}
	for _, id := range []int{2, 99} {
		text, isASS, err := p.ExtractSubtitleTrack(ctx, id)
		if err != nil || isASS || text != "" {
			t.Errorf("extract track %d: got %q, %v, %v, want empty and nil error", id, text, isASS, err)
		}
	}
}

func TestSelectAudio(t *testing.T) {
	t.Parallel()

	tracks := []media.Track{
		{ID: 2, Language: "ja"},
		{ID: 3, Language: "en", Default: true},
		{ID: 4, Language: "pt-BR"},
	}
	tests := []struct {
		name  string
		prefs Preferences
		want  int
	}{
		{"default flag", Preferences{}, 3},
		{"language", Preferences{AudioLanguage: "jpn"}, 2},
		{"regional language", Preferences{AudioLanguage: "pt"}, 4},
		{"explicit id", Preferences{AudioTrack: 4, AudioLanguage: "en"}, 4},
		{"unknown id falls back", Preferences{AudioTrack: 9}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := SelectAudio(tracks, tt.prefs)
			if !ok || got.ID != tt.want {
				t.Errorf("got %d, want %d", got.ID, tt.want)
			}
		})
	}

	if got, _ := SelectAudio([]media.Track{{ID: 7}, {ID: 8}}, Preferences{}); got.ID != 7 {
		t.Errorf("first track: got %d, want 7", got.ID)
	}
	if _, ok := SelectAudio(nil, Preferences{}); ok {
		t.Error("no tracks should select nothing")
	}
}

func TestSelectSubtitle(t *testing.T) {
	t.Parallel()

	tracks := []media.Track{
		{ID: 5, Language: "en"},
		{ID: 6, Language: "en", Forced: true},
		{ID: 7, Language: "es"},
	}
	if _, ok := SelectSubtitle(tracks[:1], Preferences{}); ok {
		t.Error("no preference and no forced track should leave subtitles off")
	}
	if got, _ := SelectSubtitle(tracks, Preferences{}); got.ID != 6 {
		t.Errorf("forced: got %d, want 6", got.ID)
	}
	if got, _ := SelectSubtitle(tracks, Preferences{SubtitleLanguage: "spa"}); got.ID != 7 {
		t.Errorf("language: got %d, want 7", got.ID)
	}
	if got, _ := SelectSubtitle(tracks, Preferences{SubtitleTrack: 5}); got.ID != 5 {
		t.Errorf("explicit: got %d, want 5", got.ID)
	}
}
