package inspect

import (
	"time"

	"github.com/zsiec/lumen/internal/language"
	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/session"
)

// OpenRequest is the body of POST /api/sessions.
type OpenRequest struct {
	Location string `json:"location"`
	HintsURL string `json:"hintsUrl,omitempty"`
}

// SessionInfo summarizes one open session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	OpenedAt  time.Time `json:"openedAt"`
	Title     string    `json:"title,omitempty"`
	Duration  float64   `json:"duration"`
	Video     int       `json:"video"`
	Audio     int       `json:"audio"`
	Subtitles int       `json:"subtitles"`
	Fonts     int       `json:"fonts"`
}

// SessionDetail is a session with its tracks and chapters.
type SessionDetail struct {
	SessionInfo
	Tracks   TrackListInfo `json:"tracks"`
	Chapters []ChapterInfo `json:"chapters"`
}

// TrackInfo is the JSON form of a track.
type TrackInfo struct {
	ID           int     `json:"id"`
	Kind         string  `json:"kind"`
	Codec        string  `json:"codec"`
	Name         string  `json:"name,omitempty"`
	Language     string  `json:"language"`
	LanguageName string  `json:"languageName"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	SampleRate   int     `json:"sampleRate,omitempty"`
	Channels     int     `json:"channels,omitempty"`
	FrameRate    float64 `json:"frameRate,omitempty"`
	Default      bool    `json:"default"`
	Forced       bool    `json:"forced"`
	ASS          bool    `json:"ass,omitempty"`
}

// TrackListInfo groups tracks by kind.
type TrackListInfo struct {
	Video     []TrackInfo      `json:"video"`
	Audio     []TrackInfo      `json:"audio"`
	Subtitles []TrackInfo      `json:"subtitles"`
	Fonts     []AttachmentInfo `json:"fonts"`
}

// ChapterInfo is the JSON form of a chapter.
type ChapterInfo struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Language string  `json:"language,omitempty"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// AttachmentInfo is the JSON form of an attachment, without data.
type AttachmentInfo struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	Description string `json:"description,omitempty"`
	Size        int64  `json:"size"`
	Font        bool   `json:"font"`
}

func summarize(s *session.Session) SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Location:  s.Location,
		OpenedAt:  s.OpenedAt,
		Title:     s.Container.Title(),
		Duration:  s.Container.Duration(),
		Video:     len(s.Tracks.Video),
		Audio:     len(s.Tracks.Audio),
		Subtitles: len(s.Tracks.Subtitles),
		Fonts:     len(s.Tracks.Fonts),
	}
}

func detail(s *session.Session) SessionDetail {
	return SessionDetail{
		SessionInfo: summarize(s),
		Tracks:      trackList(s.Tracks),
		Chapters:    chapters(s.Container.Chapters()),
	}
}

func trackInfo(t media.Track) TrackInfo {
	ti := TrackInfo{
		ID:           t.ID,
		Kind:         t.Kind.String(),
		Codec:        t.Codec,
		Name:         t.Name,
		Language:     t.Language,
		LanguageName: language.DisplayName(t.Language),
		Width:        t.Width,
		Height:       t.Height,
		SampleRate:   t.SampleRate,
		Channels:     t.Channels,
		Default:      t.Default,
		Forced:       t.Forced,
		ASS:          t.Kind == media.KindSubtitle && matroska.IsASS(t.Codec),
	}
	if t.Kind == media.KindVideo && t.DefaultDuration > 0 {
		ti.FrameRate = 1 / t.DefaultDuration
	}
	return ti
}

func tracks(in []media.Track) []TrackInfo {
	out := make([]TrackInfo, 0, len(in))
	for _, t := range in {
		out = append(out, trackInfo(t))
	}
	return out
}

func trackList(l matroska.TrackList) TrackListInfo {
	return TrackListInfo{
		Video:     tracks(l.Video),
		Audio:     tracks(l.Audio),
		Subtitles: tracks(l.Subtitles),
		Fonts:     attachments(l.Fonts),
	}
}

func chapters(in []media.Chapter) []ChapterInfo {
	out := make([]ChapterInfo, 0, len(in))
	for _, c := range in {
		out = append(out, ChapterInfo{
			Index:    c.Index,
			Title:    c.Title,
			Language: c.Language,
			Start:    c.Start,
			End:      c.End,
		})
	}
	return out
}

func attachments(in []media.Attachment) []AttachmentInfo {
	out := make([]AttachmentInfo, 0, len(in))
	for _, a := range in {
		out = append(out, AttachmentInfo{
			Index:       a.Index,
			Filename:    a.Filename,
			MimeType:    a.MimeType,
			Description: a.Description,
			Size:        a.Size,
			Font:        matroska.IsFont(a.MimeType, a.Filename),
		})
	}
	return out
}
