package matroska

import (
	"sort"
	"strings"

	"github.com/zsiec/lumen/internal/ebml"
	"github.com/zsiec/lumen/internal/language"
	"github.com/zsiec/lumen/internal/media"
)

// Matroska TrackType values.
const (
	trackTypeVideo    = 1
	trackTypeAudio    = 2
	trackTypeComplex  = 3
	trackTypeLogo     = 0x10
	trackTypeSubtitle = 0x11
	trackTypeButtons  = 0x12
	trackTypeControl  = 0x20
	trackTypeMetadata = 0x21
)

// ContentCompAlgo values.
const (
	compZlib        = 0
	compBzlib       = 1
	compLZO         = 2
	compHeaderStrip = 3
)

type contentEncoding struct {
	order     uint64
	scope     uint64
	encrypted bool
	algo      uint64
	settings  []byte
}

// trackInfo is a discovered track plus what is needed to decode its blocks.
type trackInfo struct {
	media.Track
	encodings []contentEncoding // in decoding order
}

func (p *parser) parseTracks(h ebml.Header) error {
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDTrackEntry {
			return nil
		}
		t, trackType, err := p.parseTrackEntry(c)
		if err != nil {
			return &ParseError{Element: "TrackEntry", Offset: c.Offset, Err: err}
		}
		kind, ok := classifyTrack(trackType, t.Codec)
		if !ok {
			p.log.Debug("skipping track", "track", t.ID, "type", trackType, "codec", t.Codec)
			return nil
		}
		t.Kind = kind
		p.h.tracks = append(p.h.tracks, t)
		return nil
	})
}

func (p *parser) parseTrackEntry(h ebml.Header) (trackInfo, uint64, error) {
	t := trackInfo{Track: media.Track{Default: true}}
	var trackType uint64
	lang, langIETF := "eng", ""
	err := ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		var err error
		var v uint64
		switch c.ID {
		case ebml.IDTrackNumber:
			v, err = ebml.ReadUint(p.r, c)
			t.ID = int(v)
		case ebml.IDTrackType:
			trackType, err = ebml.ReadUint(p.r, c)
		case ebml.IDCodecID:
			t.Codec, err = ebml.ReadString(p.r, c)
		case ebml.IDCodecPrivate:
			t.Extradata, err = ebml.ReadBytes(p.r, c)
		case ebml.IDName:
			t.Name, err = ebml.ReadString(p.r, c)
		case ebml.IDLanguage:
			lang, err = ebml.ReadString(p.r, c)
		case ebml.IDLanguageIETF:
			langIETF, err = ebml.ReadString(p.r, c)
		case ebml.IDFlagDefault:
			v, err = ebml.ReadUint(p.r, c)
			t.Default = v != 0
		case ebml.IDFlagForced:
			v, err = ebml.ReadUint(p.r, c)
			t.Forced = v != 0
		case ebml.IDDefaultDuration:
			v, err = ebml.ReadUint(p.r, c)
			t.DefaultDuration = float64(v) / 1e9
		case ebml.IDVideo:
			err = p.parseVideo(c, &t.Track)
		case ebml.IDAudio:
			err = p.parseAudio(c, &t.Track)
		case ebml.IDContentEncodings:
			t.encodings, err = p.parseEncodings(c)
		}
		return err
	})
	if err != nil {
		return t, 0, err
	}
	if langIETF != "" {
		lang = langIETF
	}
	t.Language = normalizeLanguage(lang)
	if err := t.decodePrivate(); err != nil {
		return t, 0, err
	}
	return t, trackType, nil
}

func (p *parser) parseVideo(h ebml.Header, t *media.Track) error {
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		var err error
		var v uint64
		switch c.ID {
		case ebml.IDPixelWidth:
			v, err = ebml.ReadUint(p.r, c)
			t.Width = int(v)
		case ebml.IDPixelHeight:
			v, err = ebml.ReadUint(p.r, c)
			t.Height = int(v)
		}
		return err
	})
}

func (p *parser) parseAudio(h ebml.Header, t *media.Track) error {
	t.SampleRate = 8000
	t.Channels = 1
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		var err error
		var v uint64
		switch c.ID {
		case ebml.IDSamplingFrequency:
			var f float64
			f, err = ebml.ReadFloat(p.r, c)
			if f > 0 {
				t.SampleRate = int(f + 0.5)
			}
		case ebml.IDChannels:
			v, err = ebml.ReadUint(p.r, c)
			if v > 0 {
				t.Channels = int(v)
			}
		case ebml.IDBitDepth:
			v, err = ebml.ReadUint(p.r, c)
			t.BitDepth = int(v)
		}
		return err
	})
}

func (p *parser) parseEncodings(h ebml.Header) ([]contentEncoding, error) {
	var encs []contentEncoding
	err := ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDContentEncoding {
			return nil
		}
		enc := contentEncoding{scope: 1}
		err := ebml.Walk(p.r, c.DataOffset, c.End(), func(f ebml.Header) error {
			var err error
			switch f.ID {
			case ebml.IDContentEncodingOrder:
				enc.order, err = ebml.ReadUint(p.r, f)
			case ebml.IDContentEncodingScope:
				enc.scope, err = ebml.ReadUint(p.r, f)
			case ebml.IDContentEncodingType:
				var v uint64
				v, err = ebml.ReadUint(p.r, f)
				enc.encrypted = v == 1
			case ebml.IDContentEncryption:
				enc.encrypted = true
			case ebml.IDContentCompression:
				err = ebml.Walk(p.r, f.DataOffset, f.End(), func(g ebml.Header) error {
					var err error
					switch g.ID {
					case ebml.IDContentCompAlgo:
						enc.algo, err = ebml.ReadUint(p.r, g)
					case ebml.IDContentCompSettings:
						enc.settings, err = ebml.ReadBytes(p.r, g)
					}
					return err
				})
			}
			return err
		})
		if err != nil {
			return err
		}
		encs = append(encs, enc)
		return nil
	})
	// Decoding applies the highest order first.
	sort.SliceStable(encs, func(i, j int) bool { return encs[i].order > encs[j].order })
	return encs, err
}

// decodePrivate undoes encodings whose scope covers CodecPrivate.
func (t *trackInfo) decodePrivate() error {
	if len(t.Extradata) == 0 {
		return nil
	}
	for _, e := range t.encodings {
		if e.scope&2 == 0 {
			continue
		}
		out, err := e.decode(t.Extradata)
		if err != nil {
			return err
		}
		t.Extradata = out
	}
	return nil
}

func classifyTrack(trackType uint64, codec string) (media.TrackKind, bool) {
	switch trackType {
	case trackTypeVideo:
		return media.KindVideo, true
	case trackTypeAudio:
		return media.KindAudio, true
	case trackTypeSubtitle:
		return media.KindSubtitle, true
	case 0:
		switch {
		case strings.HasPrefix(codec, "V_"):
			return media.KindVideo, true
		case strings.HasPrefix(codec, "A_"):
			return media.KindAudio, true
		case strings.HasPrefix(codec, "S_"):
			return media.KindSubtitle, true
		}
	}
	return 0, false
}

func normalizeLanguage(code string) string {
	return language.Canonical(code)
}

// IsASS reports whether a subtitle codec id carries ASS or SSA events.
func IsASS(codec string) bool {
	c := strings.ToUpper(codec)
	return c == "S_TEXT/ASS" || c == "S_TEXT/SSA" || c == "S_ASS" || c == "S_SSA" || c == "ASS" || c == "SSA"
}

// IsTextSubtitle reports whether a subtitle codec id carries plain or
// lightly marked-up UTF-8 text.
func IsTextSubtitle(codec string) bool {
	c := strings.ToUpper(codec)
	return c == "S_TEXT/UTF8" || c == "S_TEXT/ASCII" || c == "S_TEXT/WEBVTT" || c == "SUBRIP" || c == "SRT" || c == "WEBVTT" || c == "MOV_TEXT"
}
