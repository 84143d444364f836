package matroska

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/zsiec/lumen/internal/media"
)

// StreamInfo is the structured per-stream description of a container
// stream: one entry per stream with its codec type and properties.
type StreamInfo struct {
	Index           int     `json:"index"`
	CodecType       string  `json:"codec_type"` // "video", "audio", "subtitle", "attachment"
	Codec           string  `json:"codec_name"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Channels        int     `json:"channels,omitempty"`
	BitDepth        int     `json:"bits_per_sample,omitempty"`
	Language        string  `json:"language,omitempty"`
	Title           string  `json:"title,omitempty"`
	Extradata       []byte  `json:"extradata,omitempty"`
	Default         bool    `json:"default,omitempty"`
	Forced          bool    `json:"forced,omitempty"`
	DefaultDuration float64 `json:"default_duration,omitempty"`
}

// LegacyTrack is one entry of a flattened per-kind track list.
type LegacyTrack struct {
	Index    int    `json:"index"`
	Language string `json:"language,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Name     string `json:"name,omitempty"`
}

// LegacyChapter is one entry of the flattened chapter list.
type LegacyChapter struct {
	Index     int     `json:"index"`
	Title     string  `json:"title,omitempty"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// LegacyMetadata is the flattened metadata shape reported by the streaming
// backend alongside the stream URL.
type LegacyMetadata struct {
	VideoTracks    []LegacyTrack   `json:"video_tracks,omitempty"`
	AudioTracks    []LegacyTrack   `json:"audio_tracks"`
	SubtitleTracks []LegacyTrack   `json:"subtitle_tracks"`
	Chapters       []LegacyChapter `json:"chapters"`
}

func (m *LegacyMetadata) list(kind media.TrackKind) []LegacyTrack {
	if m == nil {
		return nil
	}
	switch kind {
	case media.KindVideo:
		return m.VideoTracks
	case media.KindAudio:
		return m.AudioTracks
	case media.KindSubtitle:
		return m.SubtitleTracks
	}
	return nil
}

func kindOf(codecType string) (media.TrackKind, bool) {
	switch strings.ToLower(codecType) {
	case "video":
		return media.KindVideo, true
	case "audio":
		return media.KindAudio, true
	case "subtitle":
		return media.KindSubtitle, true
	}
	return 0, false
}

// Normalize merges the structured and legacy metadata shapes into one track
// list, ordered video, audio, subtitle. For each kind the structured entries
// win; the legacy list is used only when no structured entry of that kind
// exists.
func Normalize(structured []StreamInfo, legacy *LegacyMetadata) []media.Track {
	byKind := make(map[media.TrackKind][]media.Track)
	for _, s := range structured {
		kind, ok := kindOf(s.CodecType)
		if !ok {
			continue
		}
		byKind[kind] = append(byKind[kind], media.Track{
			ID:              s.Index,
			Kind:            kind,
			Codec:           s.Codec,
			Name:            s.Title,
			Language:        normalizeLanguage(s.Language),
			Width:           s.Width,
			Height:          s.Height,
			SampleRate:      s.SampleRate,
			Channels:        s.Channels,
			BitDepth:        s.BitDepth,
			Extradata:       s.Extradata,
			DefaultDuration: s.DefaultDuration,
			Default:         s.Default,
			Forced:          s.Forced,
		})
	}

	var out []media.Track
	for _, kind := range []media.TrackKind{media.KindVideo, media.KindAudio, media.KindSubtitle} {
		if tracks := byKind[kind]; len(tracks) > 0 {
			out = append(out, tracks...)
			continue
		}
		for _, l := range legacy.list(kind) {
			out = append(out, media.Track{
				ID:       l.Index,
				Kind:     kind,
				Codec:    l.Codec,
				Name:     l.Name,
				Language: normalizeLanguage(l.Language),
			})
		}
	}
	return out
}

// normalizeChapters returns the container chapters, or the legacy ones when
// the container has none.
func normalizeChapters(container []media.Chapter, legacy *LegacyMetadata) []media.Chapter {
	if len(container) > 0 || legacy == nil {
		return container
	}
	out := make([]media.Chapter, 0, len(legacy.Chapters))
	for i, c := range legacy.Chapters {
		title := c.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		out = append(out, media.Chapter{
			Index:    i,
			Title:    title,
			Language: "und",
			Start:    c.StartTime,
			End:      c.EndTime,
		})
	}
	return out
}

// streamInfos describes discovered container tracks in the structured shape.
func streamInfos(tracks []trackInfo) []StreamInfo {
	out := make([]StreamInfo, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, StreamInfo{
			Index:           t.ID,
			CodecType:       t.Kind.String(),
			Codec:           t.Codec,
			Width:           t.Width,
			Height:          t.Height,
			SampleRate:      t.SampleRate,
			Channels:        t.Channels,
			BitDepth:        t.BitDepth,
			Language:        t.Language,
			Title:           t.Name,
			Extradata:       t.Extradata,
			Default:         t.Default,
			Forced:          t.Forced,
			DefaultDuration: t.DefaultDuration,
		})
	}
	return out
}

// FetchHints downloads the backend's flattened metadata document.
func FetchHints(ctx context.Context, client *http.Client, url string) (*LegacyMetadata, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("matroska: build hints request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matroska: fetch hints: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matroska: fetch hints: unexpected status %d", resp.StatusCode)
	}
	var m LegacyMetadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("matroska: decode hints: %w", err)
	}
	return &m, nil
}

var fontMIMEs = map[string]bool{
	"application/x-truetype-font": true,
	"application/x-font-ttf":      true,
	"application/x-font-otf":      true,
	"application/vnd.ms-opentype": true,
	"application/font-sfnt":       true,
	"application/font-woff":       true,
}

// IsFont reports whether an attachment is a font, by MIME type or by
// filename extension.
func IsFont(mimeType, filename string) bool {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(m, "font/") || fontMIMEs[m] {
		return true
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".ttf", ".otf", ".woff", ".woff2":
		return true
	}
	return false
}
