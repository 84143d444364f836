package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zsiec/lumen/internal/media"
)

// ErrUnsupportedCodec is returned for audio codecs with no decoder mapping.
var ErrUnsupportedCodec = errors.New("audio: unsupported codec")

// Framing selects how AAC packets are presented to the decoder.
type Framing int

const (
	// FramingADTS prepends a synthesized ADTS header to every packet.
	FramingADTS Framing = iota
	// FramingRaw passes raw frames and the AudioSpecificConfig as
	// out-of-band description.
	FramingRaw
)

func (f Framing) String() string {
	if f == FramingRaw {
		return "raw"
	}
	return "adts"
}

// ParseFraming maps a config value to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "adts":
		return FramingADTS, nil
	case "raw":
		return FramingRaw, nil
	default:
		return 0, fmt.Errorf("audio: unknown aac framing %q", s)
	}
}

// DecoderConfig configures a Decoder for one track.
type DecoderConfig struct {
	Codec       string // decoder codec string, e.g. "mp4a.40.2"
	SampleRate  int
	Channels    int
	Description []byte
}

// legacy Matroska AAC ids carry the object type in the codec id.
var aacProfiles = map[string]int{
	"A_AAC/MPEG4/MAIN":   ObjectMain,
	"A_AAC/MPEG2/MAIN":   ObjectMain,
	"A_AAC/MPEG4/LC":     ObjectLC,
	"A_AAC/MPEG2/LC":     ObjectLC,
	"A_AAC/MPEG4/SSR":    ObjectSSR,
	"A_AAC/MPEG2/SSR":    ObjectSSR,
	"A_AAC/MPEG4/LTP":    ObjectLTP,
	"A_AAC/MPEG4/LC/SBR": ObjectSBR,
	"A_AAC/MPEG2/LC/SBR": ObjectSBR,
}

// IsAAC reports whether codec names an AAC track.
func IsAAC(codec string) bool {
	c := strings.ToUpper(codec)
	return c == "AAC" || strings.HasPrefix(c, "A_AAC")
}

// CodecString maps a container codec id to the decoder codec string. AAC
// resolves its object type from the AudioSpecificConfig when present.
func CodecString(codec string, extradata []byte) (string, error) {
	switch c := strings.ToUpper(strings.TrimSpace(codec)); {
	case IsAAC(c):
		ot := ObjectLC
		if p, ok := aacProfiles[c]; ok {
			ot = p
		}
		if cfg, err := ParseAudioSpecificConfig(extradata); err == nil {
			ot = cfg.ObjectType
		}
		return fmt.Sprintf("mp4a.40.%d", ot), nil
	case c == "A_OPUS" || c == "OPUS":
		return "opus", nil
	case c == "A_VORBIS" || c == "VORBIS":
		return "vorbis", nil
	case c == "A_FLAC" || c == "FLAC":
		return "flac", nil
	case c == "A_MPEG/L3" || c == "MP3":
		return "mp3", nil
	case c == "A_AC3" || c == "AC3" || c == "AC-3":
		return "ac-3", nil
	case c == "A_EAC3" || c == "EAC3" || c == "E-AC-3":
		return "ec-3", nil
	case c == "A_PCM/INT/LIT" || c == "PCM_S16LE":
		return "pcm-s16", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
}

// needsDescription lists decoder codecs that take CodecPrivate as
// out-of-band configuration.
func needsDescription(codec string) bool {
	return strings.HasPrefix(codec, "mp4a.") || codec == "opus" || codec == "vorbis" || codec == "flac"
}

// ConfigFor builds the decoder configuration for track. With ADTS framing
// AAC tracks carry no description since every packet is self-describing.
func ConfigFor(track media.Track, framing Framing) (DecoderConfig, error) {
	codec, err := CodecString(track.Codec, track.Extradata)
	if err != nil {
		return DecoderConfig{}, err
	}
	cfg := DecoderConfig{
		Codec:      codec,
		SampleRate: track.SampleRate,
		Channels:   track.Channels,
	}
	if needsDescription(codec) && len(track.Extradata) > 0 {
		cfg.Description = track.Extradata
	}
	if IsAAC(track.Codec) && framing == FramingADTS {
		cfg.Description = nil
	}
	return cfg, nil
}
