package player

import "github.com/zsiec/lumen/internal/media"

// Info describes the opened container. It is delivered once, before any
// samples.
type Info struct {
	Duration       float64
	Title          string
	Video          *media.Track
	AudioTracks    []media.Track
	SubtitleTracks []media.Track
	Chapters       []media.Chapter
	Fonts          []media.Attachment
}

// Sink receives the outputs of a Player. Sample callbacks run on reader
// goroutines; a slow sink applies backpressure to its track only.
// OnVideoSamples must not call Seek.
type Sink interface {
	OnReady(info Info)
	OnVideoSamples(pkts []media.Packet)
	OnAudioSamples(trackID int, pkts []media.Packet)
	OnTrackError(trackID int, err error)
}

// Callbacks adapts optional functions to a Sink. Nil fields are skipped.
type Callbacks struct {
	Ready        func(Info)
	VideoSamples func([]media.Packet)
	AudioSamples func(int, []media.Packet)
	TrackError   func(int, error)
}

func (c Callbacks) OnReady(info Info) {
	if c.Ready != nil {
		c.Ready(info)
	}
}

func (c Callbacks) OnVideoSamples(pkts []media.Packet) {
	if c.VideoSamples != nil {
		c.VideoSamples(pkts)
	}
}

func (c Callbacks) OnAudioSamples(trackID int, pkts []media.Packet) {
	if c.AudioSamples != nil {
		c.AudioSamples(trackID, pkts)
	}
}

func (c Callbacks) OnTrackError(trackID int, err error) {
	if c.TrackError != nil {
		c.TrackError(trackID, err)
	}
}
