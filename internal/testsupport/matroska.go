package testsupport

import (
	"bytes"
	"compress/zlib"

	"github.com/zsiec/lumen/internal/ebml"
)

// Matroska track types.
const (
	TypeVideo    = 1
	TypeAudio    = 2
	TypeSubtitle = 17
)

// Lacing modes for Block.Lacing.
const (
	LaceNone  = 0
	LaceXiph  = 1
	LaceFixed = 2
	LaceEBML  = 3
)

// Track describes one TrackEntry.
type Track struct {
	Number          uint64
	Type            uint64
	Codec           string
	Name            string
	Language        string
	LanguageIETF    string
	CodecPrivate    []byte
	SampleRate      float64
	Channels        uint64
	BitDepth        uint64
	Width, Height   uint64
	DefaultDuration uint64 // nanoseconds
	NotDefault      bool
	Forced          bool
	HeaderStrip     []byte // frames must start with these bytes
	Zlib            bool
}

// Block is a SimpleBlock, or a BlockGroup when Duration or Group is set.
type Block struct {
	Track    uint64
	Time     int64 // absolute, in timecode ticks
	Keyframe bool
	Data     []byte
	Frames   [][]byte // laced frames; overrides Data when set
	Lacing   int
	Duration uint64 // BlockDuration in ticks
	Group    bool
}

// Cluster groups blocks under one cluster timecode.
type Cluster struct {
	Time        uint64
	Blocks      []Block
	UnknownSize bool
}

// Chapter describes one ChapterAtom.
type Chapter struct {
	UID        uint64
	Start, End uint64 // nanoseconds
	Title      string
	Language   string
	Hidden     bool
}

// Attachment describes one AttachedFile.
type Attachment struct {
	UID         uint64
	Name        string
	MimeType    string
	Description string
	Data        []byte
}

// File describes a complete Matroska file.
type File struct {
	DocType       string  // default "matroska"
	TimecodeScale uint64  // default 1000000
	Duration      float64 // in timecode ticks, 0 omits the element
	Title         string
	Tracks        []Track
	Clusters      []Cluster
	Chapters      []Chapter
	Attachments   []Attachment
	// Cues writes a CuePoint per cluster for CueTrack, after the clusters,
	// referenced from a SeekHead.
	Cues     bool
	CueTrack uint64
	// UnknownSegment writes the Segment with an unknown size.
	UnknownSegment bool
}

// Bytes renders the file.
func (f File) Bytes() []byte {
	docType := f.DocType
	if docType == "" {
		docType = "matroska"
	}
	scale := f.TimecodeScale
	if scale == 0 {
		scale = 1000000
	}

	header := Element(ebml.IDEBML,
		Uint(0x4286, 1),
		Uint(0x42F7, 1),
		Uint(0x42F2, 4),
		Uint(0x42F3, 8),
		String(ebml.IDDocType, docType),
		Uint(0x4287, 4),
		Uint(0x4285, 2),
	)

	info := [][]byte{Uint(ebml.IDTimecodeScale, scale)}
	if f.Duration > 0 {
		info = append(info, Float(ebml.IDDuration, f.Duration))
	}
	if f.Title != "" {
		info = append(info, String(ebml.IDTitle, f.Title))
	}
	infoEl := Element(ebml.IDInfo, info...)

	var tracks [][]byte
	for _, t := range f.Tracks {
		tracks = append(tracks, trackEntry(t))
	}
	tracksEl := Element(ebml.IDTracks, tracks...)

	var head [][]byte
	head = append(head, infoEl, tracksEl)
	if len(f.Chapters) > 0 {
		head = append(head, chaptersElement(f.Chapters))
	}
	if len(f.Attachments) > 0 {
		head = append(head, attachmentsElement(f.Attachments))
	}

	byNumber := make(map[uint64]Track, len(f.Tracks))
	for _, t := range f.Tracks {
		byNumber[t.Number] = t
	}
	var clusters [][]byte
	for _, c := range f.Clusters {
		clusters = append(clusters, clusterElement(c, byNumber))
	}

	var seekHeadLen int
	if f.Cues {
		seekHeadLen = len(seekHead(0))
	}
	headLen := seekHeadLen
	for _, h := range head {
		headLen += len(h)
	}

	var body [][]byte
	if f.Cues {
		clusterPos := make([]uint64, len(clusters))
		pos := uint64(headLen)
		for i, c := range clusters {
			clusterPos[i] = pos
			pos += uint64(len(c))
		}
		body = append(body, seekHead(pos))
		body = append(body, head...)
		body = append(body, clusters...)
		body = append(body, cuesElement(f.Clusters, clusterPos, f.CueTrack))
	} else {
		body = append(body, head...)
		body = append(body, clusters...)
	}

	var segment []byte
	if f.UnknownSegment {
		segment = UnknownSizeElement(ebml.IDSegment, body...)
	} else {
		segment = Element(ebml.IDSegment, body...)
	}
	return append(header, segment...)
}

func seekHead(cuesPos uint64) []byte {
	return Element(ebml.IDSeekHead,
		Element(ebml.IDSeek,
			Element(ebml.IDSeekID, []byte{0x1C, 0x53, 0xBB, 0x6B}),
			Uint8(ebml.IDSeekPosition, cuesPos),
		),
	)
}

func trackEntry(t Track) []byte {
	parts := [][]byte{
		Uint(ebml.IDTrackNumber, t.Number),
		Uint(ebml.IDTrackUID, t.Number*1000+7),
		Uint(ebml.IDTrackType, t.Type),
		String(ebml.IDCodecID, t.Codec),
	}
	if t.NotDefault {
		parts = append(parts, Uint(ebml.IDFlagDefault, 0))
	}
	if t.Forced {
		parts = append(parts, Uint(ebml.IDFlagForced, 1))
	}
	if t.Name != "" {
		parts = append(parts, String(ebml.IDName, t.Name))
	}
	if t.Language != "" {
		parts = append(parts, String(ebml.IDLanguage, t.Language))
	}
	if t.LanguageIETF != "" {
		parts = append(parts, String(ebml.IDLanguageIETF, t.LanguageIETF))
	}
	if t.DefaultDuration > 0 {
		parts = append(parts, Uint(ebml.IDDefaultDuration, t.DefaultDuration))
	}
	if len(t.CodecPrivate) > 0 {
		parts = append(parts, Element(ebml.IDCodecPrivate, t.CodecPrivate))
	}
	switch t.Type {
	case TypeVideo:
		parts = append(parts, Element(ebml.IDVideo,
			Uint(ebml.IDPixelWidth, t.Width),
			Uint(ebml.IDPixelHeight, t.Height),
		))
	case TypeAudio:
		audio := [][]byte{
			Float(ebml.IDSamplingFrequency, t.SampleRate),
			Uint(ebml.IDChannels, t.Channels),
		}
		if t.BitDepth > 0 {
			audio = append(audio, Uint(ebml.IDBitDepth, t.BitDepth))
		}
		parts = append(parts, Element(ebml.IDAudio, audio...))
	}
	if len(t.HeaderStrip) > 0 || t.Zlib {
		comp := [][]byte{}
		if t.Zlib {
			comp = append(comp, Uint(ebml.IDContentCompAlgo, 0))
		} else {
			comp = append(comp, Uint(ebml.IDContentCompAlgo, 3),
				Element(ebml.IDContentCompSettings, t.HeaderStrip))
		}
		parts = append(parts, Element(ebml.IDContentEncodings,
			Element(ebml.IDContentEncoding,
				Uint(ebml.IDContentEncodingScope, 1),
				Element(ebml.IDContentCompression, comp...),
			),
		))
	}
	return Element(ebml.IDTrackEntry, parts...)
}

func encodeFrame(t Track, frame []byte) []byte {
	switch {
	case t.Zlib:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, _ = zw.Write(frame)
		_ = zw.Close()
		return buf.Bytes()
	case len(t.HeaderStrip) > 0 && bytes.HasPrefix(frame, t.HeaderStrip):
		return frame[len(t.HeaderStrip):]
	}
	return frame
}

func clusterElement(c Cluster, tracks map[uint64]Track) []byte {
	parts := [][]byte{Uint(ebml.IDTimecode, c.Time)}
	for _, b := range c.Blocks {
		parts = append(parts, blockElement(b, int64(c.Time), tracks[b.Track]))
	}
	if c.UnknownSize {
		return UnknownSizeElement(ebml.IDCluster, parts...)
	}
	return Element(ebml.IDCluster, parts...)
}

func blockElement(b Block, clusterTime int64, t Track) []byte {
	frames := b.Frames
	if len(frames) == 0 {
		frames = [][]byte{b.Data}
	}
	encoded := make([][]byte, len(frames))
	for i, fr := range frames {
		encoded[i] = encodeFrame(t, fr)
	}

	group := b.Group || b.Duration > 0
	rel := int16(b.Time - clusterTime)
	payload := append(Vint(b.Track), byte(uint16(rel)>>8), byte(rel))
	var flags byte
	if b.Keyframe && !group {
		flags |= 0x80
	}
	if len(encoded) > 1 {
		switch b.Lacing {
		case LaceXiph:
			flags |= 0x02
		case LaceFixed:
			flags |= 0x04
		default:
			flags |= 0x06
		}
	}
	payload = append(payload, flags)
	if len(encoded) > 1 {
		payload = append(payload, lacingHeader(b.Lacing, encoded)...)
	}
	for _, e := range encoded {
		payload = append(payload, e...)
	}

	if !group {
		return Element(ebml.IDSimpleBlock, payload)
	}
	parts := [][]byte{Element(ebml.IDBlock, payload)}
	if b.Duration > 0 {
		parts = append(parts, Uint(ebml.IDBlockDuration, b.Duration))
	}
	if !b.Keyframe {
		parts = append(parts, Int(ebml.IDReferenceBlock, -1))
	}
	return Element(ebml.IDBlockGroup, parts...)
}

func lacingHeader(mode int, frames [][]byte) []byte {
	out := []byte{byte(len(frames) - 1)}
	switch mode {
	case LaceXiph:
		for _, fr := range frames[:len(frames)-1] {
			n := len(fr)
			for n >= 255 {
				out = append(out, 255)
				n -= 255
			}
			out = append(out, byte(n))
		}
	case LaceFixed:
	default:
		out = append(out, Vint(uint64(len(frames[0])))...)
		for i := 1; i < len(frames)-1; i++ {
			out = append(out, SignedVint(int64(len(frames[i])-len(frames[i-1])))...)
		}
	}
	return out
}

func cuesElement(clusters []Cluster, pos []uint64, track uint64) []byte {
	if track == 0 {
		track = 1
	}
	var points [][]byte
	for i, c := range clusters {
		points = append(points, Element(ebml.IDCuePoint,
			Uint(ebml.IDCueTime, c.Time),
			Element(ebml.IDCueTrackPositions,
				Uint(ebml.IDCueTrack, track),
				Uint(ebml.IDCueClusterPosition, pos[i]),
			),
		))
	}
	return Element(ebml.IDCues, points...)
}

func chaptersElement(chapters []Chapter) []byte {
	var atoms [][]byte
	for _, c := range chapters {
		parts := [][]byte{
			Uint(ebml.IDChapterUID, c.UID),
			Uint(ebml.IDChapterTimeStart, c.Start),
		}
		if c.End > 0 {
			parts = append(parts, Uint(ebml.IDChapterTimeEnd, c.End))
		}
		if c.Hidden {
			parts = append(parts, Uint(ebml.IDChapterFlagHidden, 1))
		}
		display := [][]byte{String(ebml.IDChapString, c.Title)}
		if c.Language != "" {
			display = append(display, String(ebml.IDChapLanguage, c.Language))
		}
		parts = append(parts, Element(ebml.IDChapterDisplay, display...))
		atoms = append(atoms, Element(ebml.IDChapterAtom, parts...))
	}
	return Element(ebml.IDChapters, Element(ebml.IDEditionEntry, atoms...))
}

func attachmentsElement(files []Attachment) []byte {
	var parts [][]byte
	for _, a := range files {
		file := [][]byte{
			String(ebml.IDFileName, a.Name),
			String(ebml.IDFileMimeType, a.MimeType),
			Element(ebml.IDFileData, a.Data),
			Uint(ebml.IDFileUID, a.UID),
		}
		if a.Description != "" {
			file = append(file, String(ebml.IDFileDescription, a.Description))
		}
		parts = append(parts, Element(ebml.IDAttachedFile, file...))
	}
	return Element(ebml.IDAttachments, parts...)
}
