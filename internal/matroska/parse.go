package matroska

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zsiec/lumen/internal/ebml"
	"github.com/zsiec/lumen/internal/media"
)

const defaultTimecodeScale = 1000000

var errMissing = errors.New("element missing")

type segmentInfo struct {
	dataStart     int64 // base for SeekPosition and CueClusterPosition
	end           int64
	timecodeScale uint64
	duration      float64 // seconds, 0 when unknown
	title         string
	firstCluster  int64 // -1 when the file has no clusters
}

// seconds converts a value in timecode ticks to seconds.
func (si *segmentInfo) seconds(ticks int64) float64 {
	return float64(ticks) * float64(si.timecodeScale) / 1e9
}

// ticks converts seconds to timecode ticks, rounding down.
func (si *segmentInfo) ticks(sec float64) int64 {
	return int64(sec * 1e9 / float64(si.timecodeScale))
}

type cuePoint struct {
	time       int64 // ticks
	track      int
	clusterPos int64 // absolute
}

type attachmentRef struct {
	media.Attachment
	dataOffset int64
}

type header struct {
	info        segmentInfo
	tracks      []trackInfo
	chapters    []media.Chapter
	attachments []attachmentRef
	cues        []cuePoint
}

// parser reads the metadata of one file.
type parser struct {
	r    io.ReaderAt
	size int64
	log  *slog.Logger
	h    header
	seen map[uint32]bool
}

func parseHeader(ctx context.Context, r io.ReaderAt, size int64, log *slog.Logger) (*header, error) {
	p := &parser{r: r, size: size, log: log, seen: make(map[uint32]bool)}
	if err := p.parse(ctx); err != nil {
		return nil, err
	}
	return &p.h, nil
}

func (p *parser) parse(ctx context.Context) error {
	ebmlHdr, err := ebml.ReadHeader(p.r, 0)
	if err != nil {
		return &ParseError{Element: "EBML", Offset: 0, Err: err}
	}
	if ebmlHdr.ID != ebml.IDEBML || ebmlHdr.Size == ebml.UnknownSize {
		return ErrNotMatroska
	}
	docType := "matroska"
	err = ebml.Walk(p.r, ebmlHdr.DataOffset, ebmlHdr.End(), func(h ebml.Header) error {
		if h.ID == ebml.IDDocType {
			s, err := ebml.ReadString(p.r, h)
			docType = s
			return err
		}
		return nil
	})
	if err != nil {
		return &ParseError{Element: "EBML", Offset: 0, Err: err}
	}
	if docType != "matroska" && docType != "webm" {
		return fmt.Errorf("%w: doctype %q", ErrNotMatroska, docType)
	}

	seg, err := p.findSegment(ebmlHdr.End())
	if err != nil {
		return err
	}
	p.h.info = segmentInfo{
		dataStart:     seg.DataOffset,
		end:           seg.End(),
		timecodeScale: defaultTimecodeScale,
		firstCluster:  -1,
	}
	if p.h.info.end == ebml.UnknownSize || p.h.info.end > p.size {
		p.h.info.end = p.size
	}

	seeks, err := p.scanSegment(ctx)
	if err != nil {
		return err
	}
	for _, s := range seeks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.seen[s.id] {
			continue
		}
		if err := p.parseAt(s.id, s.pos); err != nil {
			return err
		}
	}

	if !p.seen[ebml.IDTracks] {
		return &ParseError{Element: "Tracks", Offset: p.h.info.dataStart, Err: errMissing}
	}
	p.finishChapters()
	sort.SliceStable(p.h.cues, func(i, j int) bool { return p.h.cues[i].time < p.h.cues[j].time })
	return nil
}

func (p *parser) findSegment(off int64) (ebml.Header, error) {
	for off < p.size {
		h, err := ebml.ReadHeader(p.r, off)
		if err != nil {
			return ebml.Header{}, &ParseError{Element: "Segment", Offset: off, Err: err}
		}
		if h.ID == ebml.IDSegment {
			return h, nil
		}
		if h.Size == ebml.UnknownSize {
			break
		}
		off = h.End()
	}
	return ebml.Header{}, ErrNoSegment
}

type seekEntry struct {
	id  uint32
	pos int64
}

// scanSegment walks the Segment children up to the first Cluster and
// returns the SeekHead entries for anything not yet parsed.
func (p *parser) scanSegment(ctx context.Context) ([]seekEntry, error) {
	var seeks []seekEntry
	off := p.h.info.dataStart
	for off < p.h.info.end {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := ebml.ReadHeader(p.r, off)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, &ParseError{Element: "Segment", Offset: off, Err: err}
		}
		switch h.ID {
		case ebml.IDCluster:
			p.h.info.firstCluster = h.Offset
			return seeks, nil
		case ebml.IDSeekHead:
			entries, err := p.parseSeekHead(h)
			if err != nil {
				return nil, err
			}
			p.seen[ebml.IDSeekHead] = true
			seeks = append(seeks, entries...)
		default:
			if err := p.parseElement(h); err != nil {
				return nil, err
			}
		}
		if h.Size == ebml.UnknownSize {
			break
		}
		off = h.End()
	}
	return seeks, nil
}

func (p *parser) parseAt(id uint32, pos int64) error {
	if pos < p.h.info.dataStart || pos >= p.h.info.end {
		p.log.Debug("seek entry out of range", "id", fmt.Sprintf("%#x", id), "pos", pos)
		return nil
	}
	h, err := ebml.ReadHeader(p.r, pos)
	if err != nil {
		p.log.Warn("unreadable seek target", "id", fmt.Sprintf("%#x", id), "pos", pos, "error", err)
		return nil
	}
	if h.ID != id {
		p.log.Warn("seek target id mismatch", "want", fmt.Sprintf("%#x", id), "got", fmt.Sprintf("%#x", h.ID))
		return nil
	}
	return p.parseElement(h)
}

func (p *parser) parseElement(h ebml.Header) error {
	var err error
	switch h.ID {
	case ebml.IDInfo:
		err = p.parseInfo(h)
	case ebml.IDTracks:
		err = p.parseTracks(h)
	case ebml.IDChapters:
		err = p.parseChapters(h)
	case ebml.IDAttachments:
		err = p.parseAttachments(h)
	case ebml.IDCues:
		err = p.parseCues(h)
	default:
		return nil
	}
	if err != nil {
		return &ParseError{Element: elementName(h.ID), Offset: h.Offset, Err: err}
	}
	p.seen[h.ID] = true
	return nil
}

func (p *parser) parseSeekHead(h ebml.Header) ([]seekEntry, error) {
	var entries []seekEntry
	err := ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDSeek {
			return nil
		}
		var e seekEntry
		err := ebml.Walk(p.r, c.DataOffset, c.End(), func(f ebml.Header) error {
			switch f.ID {
			case ebml.IDSeekID:
				b, err := ebml.ReadBytes(p.r, f)
				if err != nil {
					return err
				}
				e.id = uint32(ebml.Uint(b))
			case ebml.IDSeekPosition:
				v, err := ebml.ReadUint(p.r, f)
				if err != nil {
					return err
				}
				e.pos = p.h.info.dataStart + int64(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if e.id != 0 && e.id != ebml.IDCluster {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, &ParseError{Element: "SeekHead", Offset: h.Offset, Err: err}
	}
	return entries, nil
}

func (p *parser) parseInfo(h ebml.Header) error {
	var rawDuration float64
	err := ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		var err error
		switch c.ID {
		case ebml.IDTimecodeScale:
			var v uint64
			v, err = ebml.ReadUint(p.r, c)
			if v > 0 {
				p.h.info.timecodeScale = v
			}
		case ebml.IDDuration:
			rawDuration, err = ebml.ReadFloat(p.r, c)
		case ebml.IDTitle:
			p.h.info.title, err = ebml.ReadString(p.r, c)
		}
		return err
	})
	if err != nil {
		return err
	}
	if rawDuration > 0 {
		p.h.info.duration = rawDuration * float64(p.h.info.timecodeScale) / 1e9
	}
	return nil
}

func (p *parser) parseCues(h ebml.Header) error {
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDCuePoint {
			return nil
		}
		var at int64
		var positions []cuePoint
		err := ebml.Walk(p.r, c.DataOffset, c.End(), func(f ebml.Header) error {
			switch f.ID {
			case ebml.IDCueTime:
				v, err := ebml.ReadUint(p.r, f)
				at = int64(v)
				return err
			case ebml.IDCueTrackPositions:
				var cp cuePoint
				err := ebml.Walk(p.r, f.DataOffset, f.End(), func(g ebml.Header) error {
					v, err := ebml.ReadUint(p.r, g)
					if err != nil {
						return err
					}
					switch g.ID {
					case ebml.IDCueTrack:
						cp.track = int(v)
					case ebml.IDCueClusterPosition:
						cp.clusterPos = p.h.info.dataStart + int64(v)
					}
					return nil
				})
				positions = append(positions, cp)
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, cp := range positions {
			cp.time = at
			p.h.cues = append(p.h.cues, cp)
		}
		return nil
	})
}

func (p *parser) parseChapters(h ebml.Header) error {
	edition := 0
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDEditionEntry {
			return nil
		}
		edition++
		if edition > 1 {
			return ebml.ErrStop
		}
		return p.parseAtoms(c)
	})
}

func (p *parser) parseAtoms(parent ebml.Header) error {
	return ebml.Walk(p.r, parent.DataOffset, parent.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDChapterAtom {
			return nil
		}
		ch := media.Chapter{End: -1}
		hidden := false
		var start, end uint64
		hasEnd := false
		err := ebml.Walk(p.r, c.DataOffset, c.End(), func(f ebml.Header) error {
			var err error
			switch f.ID {
			case ebml.IDChapterUID:
				ch.UID, err = ebml.ReadUint(p.r, f)
			case ebml.IDChapterTimeStart:
				start, err = ebml.ReadUint(p.r, f)
			case ebml.IDChapterTimeEnd:
				end, err = ebml.ReadUint(p.r, f)
				hasEnd = true
			case ebml.IDChapterFlagHidden:
				var v uint64
				v, err = ebml.ReadUint(p.r, f)
				hidden = v == 1
			case ebml.IDChapterDisplay:
				if ch.Title == "" {
					ch.Title, ch.Language, err = p.parseChapterDisplay(f)
				}
			}
			return err
		})
		if err != nil {
			return err
		}
		if !hidden {
			ch.Start = float64(start) / 1e9
			if hasEnd {
				ch.End = float64(end) / 1e9
			}
			p.h.chapters = append(p.h.chapters, ch)
		}
		return p.parseAtoms(c)
	})
}

func (p *parser) parseChapterDisplay(h ebml.Header) (title, lang string, err error) {
	lang = "eng"
	err = ebml.Walk(p.r, h.DataOffset, h.End(), func(f ebml.Header) error {
		var err error
		switch f.ID {
		case ebml.IDChapString:
			title, err = ebml.ReadString(p.r, f)
		case ebml.IDChapLanguage:
			lang, err = ebml.ReadString(p.r, f)
		}
		return err
	})
	return title, lang, err
}

// finishChapters orders chapters, assigns indices and fills missing end
// times from the next chapter or the segment duration.
func (p *parser) finishChapters() {
	chs := p.h.chapters
	sort.SliceStable(chs, func(i, j int) bool { return chs[i].Start < chs[j].Start })
	for i := range chs {
		chs[i].Index = i
		chs[i].Language = normalizeLanguage(chs[i].Language)
		if chs[i].Title == "" {
			chs[i].Title = fmt.Sprintf("Chapter %d", i+1)
		}
		if chs[i].End >= 0 {
			continue
		}
		switch {
		case i+1 < len(chs):
			chs[i].End = chs[i+1].Start
		case p.h.info.duration > 0:
			chs[i].End = p.h.info.duration
		default:
			chs[i].End = chs[i].Start
		}
	}
}

func (p *parser) parseAttachments(h ebml.Header) error {
	return ebml.Walk(p.r, h.DataOffset, h.End(), func(c ebml.Header) error {
		if c.ID != ebml.IDAttachedFile {
			return nil
		}
		a := attachmentRef{dataOffset: -1}
		err := ebml.Walk(p.r, c.DataOffset, c.End(), func(f ebml.Header) error {
			var err error
			switch f.ID {
			case ebml.IDFileName:
				a.Filename, err = ebml.ReadString(p.r, f)
			case ebml.IDFileMimeType:
				a.MimeType, err = ebml.ReadString(p.r, f)
			case ebml.IDFileDescription:
				a.Description, err = ebml.ReadString(p.r, f)
			case ebml.IDFileUID:
				a.UID, err = ebml.ReadUint(p.r, f)
			case ebml.IDFileData:
				a.dataOffset = f.DataOffset
				a.Size = f.Size
			}
			return err
		})
		if err != nil {
			return err
		}
		if a.dataOffset < 0 {
			p.log.Debug("attachment without data", "filename", a.Filename)
			return nil
		}
		a.Index = len(p.h.attachments)
		p.h.attachments = append(p.h.attachments, a)
		return nil
	})
}

func elementName(id uint32) string {
	switch id {
	case ebml.IDInfo:
		return "Info"
	case ebml.IDTracks:
		return "Tracks"
	case ebml.IDTrackEntry:
		return "TrackEntry"
	case ebml.IDChapters:
		return "Chapters"
	case ebml.IDAttachments:
		return "Attachments"
	case ebml.IDCues:
		return "Cues"
	case ebml.IDCluster:
		return "Cluster"
	case ebml.IDSimpleBlock:
		return "SimpleBlock"
	case ebml.IDBlockGroup:
		return "BlockGroup"
	}
	return fmt.Sprintf("%#x", id)
}
