// Package media defines the track, packet, chapter, and attachment types that
// flow from the container session through the readers to the audio and
// subtitle consumers.
package media

import "fmt"

// Queue sizes used by track readers (producer) and the player sink
// (consumer). Sized to absorb jitter without excessive memory: about two
// seconds of video, a few seconds of audio, and a handful of subtitle events.
const (
	VideoQueueSize    = 60
	AudioQueueSize    = 120
	SubtitleQueueSize = 32
)

// TrackKind classifies a container stream.
type TrackKind int

// Stream kinds recognized during track discovery.
const (
	KindVideo TrackKind = iota + 1
	KindAudio
	KindSubtitle
	KindFontAttachment
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	case KindFontAttachment:
		return "font"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Track describes one logical stream inside a container. Tracks are created
// while the container is opened and never change afterwards; consumers hold
// copies.
type Track struct {
	ID    int // container stream index (Matroska TrackNumber)
	Kind  TrackKind
	Codec string // container codec id, e.g. "A_AAC" or "S_TEXT/ASS"
	Name  string

	// Language is a BCP 47 tag ("en", "pt-BR"), "und" when unknown.
	Language string

	Width  int
	Height int

	SampleRate int
	Channels   int
	BitDepth   int

	// Extradata carries codec-specific out-of-band configuration
	// (CodecPrivate): AudioSpecificConfig for AAC, avcC for H.264, the
	// script header for ASS subtitles.
	Extradata []byte

	// DefaultDuration is the per-frame duration in seconds, 0 when unset.
	DefaultDuration float64

	Default bool
	Forced  bool
}

// Packet is one timestamped chunk of compressed data for a track. Ownership
// of Data passes to the consumer once the packet is delivered.
type Packet struct {
	TrackID    int
	Timestamp  float64 // seconds, non-decreasing within a track
	Duration   float64 // seconds, 0 when unknown
	Data       []byte
	IsKeyframe bool
}

// End returns the packet end time in seconds.
func (p Packet) End() float64 {
	return p.Timestamp + p.Duration
}

// Chapter is a named position on the presentation timeline.
type Chapter struct {
	Index    int
	UID      uint64
	Title    string
	Language string
	Start    float64
	End      float64
}

// Attachment is a file embedded in the container. Data is populated only by
// explicit extraction.
type Attachment struct {
	Index       int
	UID         uint64
	Filename    string
	MimeType    string
	Description string
	Size        int64
	Data        []byte
}
