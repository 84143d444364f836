package audio

import (
	"errors"
	"fmt"
)

// ADTSHeaderSize is the size of an ADTS header without CRC.
const ADTSHeaderSize = 7

// maxADTSFrame is the largest value the 13-bit frame_length field holds.
const maxADTSFrame = 1<<13 - 1

// Errors returned by ADTS and AudioSpecificConfig handling.
var (
	ErrInvalidADTS     = errors.New("audio: invalid ADTS header")
	ErrADTSFrameSize   = errors.New("audio: frame too large for ADTS")
	ErrADTSChannels    = errors.New("audio: channel count not representable in ADTS")
	ErrInvalidASC      = errors.New("audio: invalid AudioSpecificConfig")
	ErrUnsupportedRate = errors.New("audio: unsupported sample rate")
)

// AAC sample rate index table (ISO 14496-3)
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AAC audio object types that matter for framing.
const (
	ObjectMain = 1
	ObjectLC   = 2
	ObjectSSR  = 3
	ObjectLTP  = 4
	ObjectSBR  = 5
	ObjectPS   = 29
)

// sampleRateIndex returns the table index for rate. Rates outside the table
// map to the closest entry.
func sampleRateIndex(rate int) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedRate, rate)
	}
	best, bestDiff := 0, -1
	for i, r := range aacSampleRates {
		if r == rate {
			return i, nil
		}
		d := r - rate
		if d < 0 {
			d = -d
		}
		if bestDiff < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best, nil
}

// BuildADTSHeader returns the 7-byte ADTS header for an AAC-LC raw frame
// of frameLength payload bytes. The frame_length field covers header and
// payload.
func BuildADTSHeader(frameLength, sampleRate, channels int) ([]byte, error) {
	return buildADTSHeader(ObjectLC, frameLength, sampleRate, channels)
}

func buildADTSHeader(objectType, frameLength, sampleRate, channels int) ([]byte, error) {
	full := frameLength + ADTSHeaderSize
	if frameLength < 0 || full > maxADTSFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrADTSFrameSize, frameLength)
	}
	if channels < 0 || channels > 7 {
		return nil, fmt.Errorf("%w: %d", ErrADTSChannels, channels)
	}
	sfi, err := sampleRateIndex(sampleRate)
	if err != nil {
		return nil, err
	}

	// ADTS carries profile = object type - 1 in two bits. SBR and PS
	// streams are signalled implicitly over an LC core.
	profile := ObjectLC - 1
	if objectType >= ObjectMain && objectType <= ObjectLTP {
		profile = objectType - 1
	}

	h := make([]byte, ADTSHeaderSize)
	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, no CRC
	h[2] = byte(profile)<<6 | byte(sfi)<<2 | byte(channels>>2)&0x01
	h[3] = byte(channels&0x03)<<6 | byte(full>>11)&0x03
	h[4] = byte(full >> 3)
	h[5] = byte(full&0x07)<<5 | 0x1F // buffer fullness 0x7FF (VBR)
	h[6] = 0xFC
	return h, nil
}

// AACFrame is a single AAC frame parsed from an ADTS stream.
type AACFrame struct {
	Data       []byte // complete ADTS frame (header + payload)
	Profile    int
	SampleRate int
	Channels   int
}

// ParseADTS parses an ADTS byte stream into individual AAC frames.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	offset := 0

	for offset < len(data) {
		if len(data)-offset < ADTSHeaderSize {
			break
		}

		// Sync word: 0xFFF
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		hasCRC := (data[offset+1] & 0x01) == 0
		headerSize := ADTSHeaderSize
		if hasCRC {
			headerSize = 9
		}

		sampleRateIdx := (data[offset+2] >> 2) & 0x0F
		if int(sampleRateIdx) >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}

		channelCfg := ((data[offset+2] & 0x01) << 2) | ((data[offset+3] >> 6) & 0x03)

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize || offset+frameLen > len(data) {
			break // truncated
		}

		frames = append(frames, AACFrame{
			Data:       data[offset : offset+frameLen],
			Profile:    int(data[offset+2]>>6) + 1,
			SampleRate: aacSampleRates[sampleRateIdx],
			Channels:   int(channelCfg),
		})

		offset += frameLen
	}

	return frames, nil
}

// isADTSFrame reports whether data is already exactly one ADTS frame.
func isADTSFrame(data []byte) bool {
	frames, err := ParseADTS(data)
	return err == nil && len(frames) == 1 && len(frames[0].Data) == len(data)
}

// AudioSpecificConfig is the decoded prefix of an MPEG-4 AudioSpecificConfig
// (CodecPrivate of A_AAC tracks).
type AudioSpecificConfig struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// ParseAudioSpecificConfig decodes object type, sample rate and channel
// configuration from b.
func ParseAudioSpecificConfig(b []byte) (AudioSpecificConfig, error) {
	br := bitReader{buf: b}
	ot := br.read(5)
	if ot == 31 {
		ot = 32 + br.read(6)
	}
	var rate int
	idx := br.read(4)
	switch {
	case idx == 15:
		rate = br.read(24)
	case idx < len(aacSampleRates):
		rate = aacSampleRates[idx]
	default:
		return AudioSpecificConfig{}, fmt.Errorf("%w: sample rate index %d", ErrInvalidASC, idx)
	}
	ch := br.read(4)
	if br.overrun {
		return AudioSpecificConfig{}, fmt.Errorf("%w: %d bytes", ErrInvalidASC, len(b))
	}
	if ot == 0 {
		return AudioSpecificConfig{}, fmt.Errorf("%w: object type 0", ErrInvalidASC)
	}
	return AudioSpecificConfig{ObjectType: ot, SampleRate: rate, Channels: ch}, nil
}

// ADTSFramer prepends ADTS headers to raw AAC frames of one track.
type ADTSFramer struct {
	objectType int
	sampleRate int
	channels   int
}

// NewADTSFramer builds a framer from a track's AudioSpecificConfig, falling
// back to the given sample rate and channel count when the config is absent
// or leaves them unset. For SBR streams the config rate is the core rate,
// which is what ADTS carries.
func NewADTSFramer(asc []byte, sampleRate, channels int) *ADTSFramer {
	f := &ADTSFramer{objectType: ObjectLC, sampleRate: sampleRate, channels: channels}
	if cfg, err := ParseAudioSpecificConfig(asc); err == nil {
		f.objectType = cfg.ObjectType
		if cfg.SampleRate > 0 {
			f.sampleRate = cfg.SampleRate
		}
		if cfg.Channels > 0 {
			f.channels = cfg.Channels
		}
	}
	return f
}

// Wrap returns payload with an ADTS header prepended. Payloads that are
// already a single ADTS frame are returned unchanged.
func (f *ADTSFramer) Wrap(payload []byte) ([]byte, error) {
	if isADTSFrame(payload) {
		return payload, nil
	}
	h, err := buildADTSHeader(f.objectType, len(payload), f.sampleRate, f.channels)
	if err != nil {
		return nil, err
	}
	return append(h, payload...), nil
}

type bitReader struct {
	buf     []byte
	pos     int
	overrun bool
}

func (r *bitReader) read(n int) int {
	v := 0
	for i := 0; i < n; i++ {
		if r.pos >= len(r.buf)*8 {
			r.overrun = true
			return 0
		}
		bit := r.buf[r.pos/8] >> (7 - uint(r.pos%8)) & 1
		v = v<<1 | int(bit)
		r.pos++
	}
	return v
}
