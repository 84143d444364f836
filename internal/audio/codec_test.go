package audio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/lumen/internal/media"
)

func TestCodecString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		codec string
		extra []byte
		want  string
	}{
		{"A_AAC", []byte{0x11, 0x90}, "mp4a.40.2"},
		{"aac", nil, "mp4a.40.2"},
		{"A_AAC", []byte{0x2B, 0x10}, "mp4a.40.5"},
		{"A_AAC/MPEG4/LC/SBR", nil, "mp4a.40.5"},
		{"A_AAC/MPEG2/MAIN", nil, "mp4a.40.1"},
		{"A_OPUS", nil, "opus"},
		{"opus", nil, "opus"},
		{"A_VORBIS", nil, "vorbis"},
		{"A_FLAC", nil, "flac"},
		{"A_MPEG/L3", nil, "mp3"},
		{"mp3", nil, "mp3"},
		{"A_AC3", nil, "ac-3"},
		{"A_EAC3", nil, "ec-3"},
		{"A_PCM/INT/LIT", nil, "pcm-s16"},
	}
	for _, tt := range tests {
		got, err := CodecString(tt.codec, tt.extra)
		if err != nil {
			t.Errorf("%s: %v", tt.codec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.codec, got, tt.want)
		}
	}

	if _, err := CodecString("A_TRUEHD", nil); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("A_TRUEHD: got %v, want ErrUnsupportedCodec", err)
	}
}

func TestConfigFor(t *testing.T) {
	t.Parallel()

	asc := []byte{0x11, 0x90}
	aac := media.Track{ID: 2, Kind: media.KindAudio, Codec: "aac", SampleRate: 48000, Channels: 2, Extradata: asc}

	cfg, err := ConfigFor(aac, FramingADTS)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Codec != "mp4a.40.2" || cfg.SampleRate != 48000 || cfg.Channels != 2 {
		t.Errorf("adts config: got %+v", cfg)
	}
	if cfg.Description != nil {
		t.Errorf("adts framing must not carry a description, got % X", cfg.Description)
	}

	cfg, _ = ConfigFor(aac, FramingRaw)
	if !bytes.Equal(cfg.Description, asc) {
		t.Errorf("raw description: got % X, want % X", cfg.Description, asc)
	}

	opus := media.Track{Codec: "A_OPUS", SampleRate: 48000, Channels: 2, Extradata: []byte("OpusHead")}
	cfg, _ = ConfigFor(opus, FramingADTS)
	if string(cfg.Description) != "OpusHead" {
		t.Errorf("opus description: got %q", cfg.Description)
	}

	mp3 := media.Track{Codec: "A_MPEG/L3", Extradata: []byte{1}}
	cfg, _ = ConfigFor(mp3, FramingRaw)
	if cfg.Description != nil {
		t.Errorf("mp3 description: got % X, want none", cfg.Description)
	}
}

func TestParseFraming(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Framing{"": FramingADTS, "ADTS": FramingADTS, "raw": FramingRaw} {
		got, err := ParseFraming(in)
		if err != nil || got != want {
			t.Errorf("ParseFraming(%q): got %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseFraming("latm"); err == nil {
		t.Error("ParseFraming(latm): expected error")
	}
}
