// Package captions recovers CEA-608/708 closed captions carried in SEI
// messages of H.264 and HEVC video tracks and turns them into subtitle cues.
package captions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zsiec/ccx"

	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/subtitle"
)

// NAL unit types carrying SEI.
const (
	nalTypeSEI       = 6  // H.264
	hevcNALSEIPrefix = 39 // HEVC
)

// MaxCueDuration caps a caption that is never replaced.
const MaxCueDuration = 10.0

// ErrUnsupportedCodec is returned for video codecs without SEI captions.
var ErrUnsupportedCodec = errors.New("captions: unsupported video codec")

// Extractor decodes captions from the length-prefixed packets of one video
// track. It is not safe for concurrent use.
type Extractor struct {
	hevc   bool
	nalLen int

	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte

	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
	frames          int64

	cues *cueBuilder
}

// NewExtractor creates an extractor for an H.264 (V_MPEG4/ISO/AVC) or HEVC
// (V_MPEGH/ISO/HEVC) track. The NAL length size comes from the track's
// avcC or hvcC record.
func NewExtractor(track media.Track) (*Extractor, error) {
	e := &Extractor{
		nalLen: 4,
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		cea708Svcs: map[int]*ccx.CEA708Service{
			1: ccx.NewCEA708Service(),
			2: ccx.NewCEA708Service(),
			3: ccx.NewCEA708Service(),
			4: ccx.NewCEA708Service(),
			5: ccx.NewCEA708Service(),
			6: ccx.NewCEA708Service(),
		},
		cues: newCueBuilder(),
	}
	switch strings.ToUpper(track.Codec) {
	case "V_MPEG4/ISO/AVC", "H264", "AVC":
		// avcC: lengthSizeMinusOne in the low bits of byte 4.
		if len(track.Extradata) > 4 {
			e.nalLen = int(track.Extradata[4]&0x03) + 1
		}
	case "V_MPEGH/ISO/HEVC", "HEVC", "H265":
		e.hevc = true
		// hvcC: lengthSizeMinusOne in the low bits of byte 21.
		if len(track.Extradata) > 21 {
			e.nalLen = int(track.Extradata[21]&0x03) + 1
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, track.Codec)
	}
	return e, nil
}

// Push feeds one video packet.
func (e *Extractor) Push(p media.Packet) {
	e.frames++
	for _, nal := range splitNALs(p.Data, e.nalLen) {
		if len(nal) < 2 {
			continue
		}
		if e.hevc {
			if (nal[0]>>1)&0x3F == hevcNALSEIPrefix && len(nal) > 2 {
				e.handleSEI(nal, p.Timestamp)
			}
			continue
		}
		if nal[0]&0x1F == nalTypeSEI {
			e.handleSEI(nal, p.Timestamp)
		}
	}
}

func (e *Extractor) handleSEI(sei []byte, ts float64) {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		// Control codes are transmitted twice; drop the repeat.
		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := e.frames - e.lastCCCtrlFrame[f]
			if e.lastCCWasCtrl[f] && e.lastCCCtrl[f] == cp && frameGap <= 2 {
				e.lastCCWasCtrl[f] = false
				continue
			}
			e.lastCCCtrl[f] = cp
			e.lastCCWasCtrl[f] = true
			e.lastCCCtrlFrame[f] = e.frames
		} else {
			e.lastCCWasCtrl[f] = false
		}

		dec := e.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			e.cues.show(pair.Channel, ts, text)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			e.drainDTVCC(ts)
			e.dtvccBuf = e.dtvccBuf[:0]
		}
		e.dtvccBuf = append(e.dtvccBuf, t.Data[0], t.Data[1])
	}
}

func (e *Extractor) drainDTVCC(ts float64) {
	if len(e.dtvccBuf) < 1 {
		return
	}
	packetSize := ccx.DTVCCPacketSize(e.dtvccBuf[0])
	if len(e.dtvccBuf) < packetSize {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(e.dtvccBuf[:packetSize]) {
		svc := e.cea708Svcs[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				// 708 services follow the four 608 channels.
				e.cues.show(block.ServiceNum+6, ts, text)
			}
		}
	}
	e.dtvccBuf = e.dtvccBuf[packetSize:]
}

// Flush closes open captions at end and returns the cues per channel.
// Channels 1-4 are CEA-608 CC1-CC4, 7-12 are CEA-708 services 1-6.
func (e *Extractor) Flush(end float64) map[int][]subtitle.Cue {
	e.drainDTVCC(end)
	return e.cues.flush(end)
}

// splitNALs splits a length-prefixed access unit.
func splitNALs(data []byte, lenSize int) [][]byte {
	var nals [][]byte
	for len(data) >= lenSize {
		n := 0
		for i := 0; i < lenSize; i++ {
			n = n<<8 | int(data[i])
		}
		data = data[lenSize:]
		if n <= 0 || n > len(data) {
			break
		}
		nals = append(nals, data[:n])
		data = data[n:]
	}
	return nals
}

// cueBuilder turns "text shown at t" events into cues that end when the
// next caption on the same channel appears.
type cueBuilder struct {
	open map[int]*subtitle.Cue
	done map[int][]subtitle.Cue
}

func newCueBuilder() *cueBuilder {
	return &cueBuilder{open: make(map[int]*subtitle.Cue), done: make(map[int][]subtitle.Cue)}
}

func (b *cueBuilder) show(channel int, ts float64, text string) {
	text = strings.TrimSpace(text)
	if cur := b.open[channel]; cur != nil {
		if cur.Text == text {
			return
		}
		b.close(channel, ts)
	}
	if text == "" {
		return
	}
	b.open[channel] = &subtitle.Cue{Start: ts, End: ts + MaxCueDuration, Text: text}
}

func (b *cueBuilder) close(channel int, ts float64) {
	cur := b.open[channel]
	if cur == nil {
		return
	}
	if ts < cur.End {
		cur.End = ts
	}
	if cur.End > cur.Start {
		b.done[channel] = append(b.done[channel], *cur)
	}
	delete(b.open, channel)
}

func (b *cueBuilder) flush(end float64) map[int][]subtitle.Cue {
	for ch := range b.open {
		b.close(ch, end)
	}
	out := b.done
	b.done = make(map[int][]subtitle.Cue)
	return out
}

// Channels returns the channels present in cues, sorted.
func Channels(cues map[int][]subtitle.Cue) []int {
	chs := make([]int, 0, len(cues))
	for ch := range cues {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}

// Scan reads the whole video track and returns its captions.
func Scan(ctx context.Context, opener reader.Opener, track media.Track) (map[int][]subtitle.Cue, error) {
	e, err := NewExtractor(track)
	if err != nil {
		return nil, err
	}
	seq, err := opener.OpenSequence(ctx, track, 0)
	if err != nil {
		return nil, err
	}
	defer seq.Release()

	var last float64
	for n := 0; n < reader.MaxVideoPackets; n++ {
		p, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		e.Push(p)
		if end := p.End(); end > last {
			last = end
		} else if p.Timestamp > last {
			last = p.Timestamp
		}
	}
	return e.Flush(last), nil
}
