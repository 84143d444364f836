package matroska

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/zsiec/lumen/internal/media"
)

func TestNormalizeStructuredWins(t *testing.T) {
	t.Parallel()

	structured := []StreamInfo{
		{Index: 0, CodecType: "video", Codec: "h264", Width: 1920, Height: 1080},
		{Index: 1, CodecType: "audio", Codec: "aac", SampleRate: 48000, Channels: 6, Language: "eng", Default: true},
		{Index: 7, CodecType: "attachment", Codec: "ttf"},
	}
	legacy := &LegacyMetadata{
		AudioTracks:    []LegacyTrack{{Index: 1, Language: "jpn", Codec: "opus"}},
		SubtitleTracks: []LegacyTrack{{Index: 2, Language: "spa", Codec: "ass", Name: "Signs"}},
	}
	got := Normalize(structured, legacy)
	if len(got) != 3 {
		t.Fatalf("tracks: got %d, want 3", len(got))
	}
	if got[1].Codec != "aac" || got[1].Language != "en" || got[1].Channels != 6 {
		t.Errorf("audio should come from the structured list, got %+v", got[1])
	}
	want := media.Track{ID: 2, Kind: media.KindSubtitle, Codec: "ass", Name: "Signs", Language: "es"}
	if !reflect.DeepEqual(got[2], want) {
		t.Errorf("subtitle: got %+v, want %+v", got[2], want)
	}
}

func TestNormalizeShapesAgree(t *testing.T) {
	t.Parallel()

	structured := []StreamInfo{
		{Index: 3, CodecType: "audio", Codec: "A_AAC", Language: "ger", Title: "Commentary"},
		{Index: 4, CodecType: "subtitle", Codec: "S_TEXT/ASS", Language: ""},
	}
	legacy := &LegacyMetadata{
		AudioTracks:    []LegacyTrack{{Index: 3, Language: "ger", Codec: "A_AAC", Name: "Commentary"}},
		SubtitleTracks: []LegacyTrack{{Index: 4, Codec: "S_TEXT/ASS"}},
	}
	fromStructured := Normalize(structured, nil)
	fromLegacy := Normalize(nil, legacy)
	if !reflect.DeepEqual(fromStructured, fromLegacy) {
		t.Errorf("shapes disagree:\nstructured %+v\nlegacy     %+v", fromStructured, fromLegacy)
	}
	if fromLegacy[1].Language != "und" {
		t.Errorf("empty language: got %q, want und", fromLegacy[1].Language)
	}
	if both := Normalize(structured, legacy); !reflect.DeepEqual(both, fromStructured) {
		t.Errorf("both shapes present: got %+v, want %+v", both, fromStructured)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	t.Parallel()

	if got := Normalize(nil, nil); len(got) != 0 {
		t.Errorf("got %d tracks, want 0", len(got))
	}
}

func TestIsFont(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime, name string
		want       bool
	}{
		{"font/ttf", "a.bin", true},
		{"FONT/woff2", "", true},
		{"application/x-truetype-font", "x", true},
		{"application/vnd.ms-opentype", "x", true},
		{"application/octet-stream", "Roboto.OTF", true},
		{"", "style.woff", true},
		{"", "style.woff2", true},
		{"image/png", "cover.png", false},
		{"text/plain", "notes.txt", false},
		{"", "ttf", false},
	}
	for _, tt := range tests {
		if got := IsFont(tt.mime, tt.name); got != tt.want {
			t.Errorf("IsFont(%q, %q) = %v, want %v", tt.mime, tt.name, got, tt.want)
		}
	}
}

func TestFetchHints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audio_tracks":[{"index":1,"language":"eng","codec":"aac","name":null}],` +
			`"subtitle_tracks":[{"index":2,"language":null,"codec":"ass","name":"Full"}],` +
			`"chapters":[{"index":0,"title":"Intro","start_time":0,"end_time":12.5}]}`))
	}))
	defer srv.Close()

	m, err := FetchHints(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("FetchHints: %v", err)
	}
	if len(m.AudioTracks) != 1 || m.AudioTracks[0].Codec != "aac" {
		t.Errorf("audio: got %+v", m.AudioTracks)
	}
	if len(m.SubtitleTracks) != 1 || m.SubtitleTracks[0].Language != "" || m.SubtitleTracks[0].Name != "Full" {
		t.Errorf("subtitles: got %+v", m.SubtitleTracks)
	}
	if len(m.Chapters) != 1 || m.Chapters[0].EndTime != 12.5 {
		t.Errorf("chapters: got %+v", m.Chapters)
	}
}

func TestFetchHintsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := FetchHints(context.Background(), nil, srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}
