package matroska

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/lumen/internal/ebml"
)

// Block header flag bits.
const (
	flagKeyframe  = 0x80
	flagInvisible = 0x08
	flagLacing    = 0x06
	flagDiscard   = 0x01

	lacingNone  = 0x00
	lacingXiph  = 0x02
	lacingFixed = 0x04
	lacingEBML  = 0x06
)

var errBadLacing = errors.New("invalid lacing")

type block struct {
	track    int
	timecode int16 // relative to the cluster timecode
	keyframe bool
	frames   [][]byte
}

// peekBlockTrack returns the track number of the block payload at off.
func peekBlockTrack(r io.ReaderAt, off int64) (int, error) {
	var buf [8]byte
	n, err := r.ReadAt(buf[:], off)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	v, _, err := ebml.DecodeVint(buf[:n])
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// parseBlock decodes a SimpleBlock or Block payload. For a Block inside a
// BlockGroup the keyframe flag is decided by the caller.
func parseBlock(data []byte) (block, error) {
	var b block
	track, n, err := ebml.DecodeVint(data)
	if err != nil {
		return b, fmt.Errorf("track number: %w", err)
	}
	if len(data) < n+3 {
		return b, io.ErrUnexpectedEOF
	}
	b.track = int(track)
	b.timecode = int16(uint16(data[n])<<8 | uint16(data[n+1]))
	flags := data[n+2]
	b.keyframe = flags&flagKeyframe != 0
	payload := data[n+3:]

	if flags&flagLacing == lacingNone {
		b.frames = [][]byte{payload}
		return b, nil
	}
	b.frames, err = unlace(flags&flagLacing, payload)
	return b, err
}

func unlace(mode byte, data []byte) ([][]byte, error) {
	if len(data) < 1 {
		return nil, errBadLacing
	}
	count := int(data[0]) + 1
	data = data[1:]
	sizes := make([]int, count)

	switch mode {
	case lacingXiph:
		total := 0
		for i := 0; i < count-1; i++ {
			size := 0
			for {
				if len(data) == 0 {
					return nil, errBadLacing
				}
				c := data[0]
				data = data[1:]
				size += int(c)
				if c != 0xFF {
					break
				}
			}
			sizes[i] = size
			total += size
		}
		if total > len(data) {
			return nil, errBadLacing
		}
		sizes[count-1] = len(data) - total
	case lacingFixed:
		if len(data)%count != 0 {
			return nil, errBadLacing
		}
		for i := range sizes {
			sizes[i] = len(data) / count
		}
	case lacingEBML:
		first, n, err := ebml.DecodeVint(data)
		if err != nil {
			return nil, errBadLacing
		}
		data = data[n:]
		sizes[0] = int(first)
		total := sizes[0]
		for i := 1; i < count-1; i++ {
			delta, n, err := ebml.DecodeSignedVint(data)
			if err != nil {
				return nil, errBadLacing
			}
			data = data[n:]
			sizes[i] = sizes[i-1] + int(delta)
			if sizes[i] < 0 {
				return nil, errBadLacing
			}
			total += sizes[i]
		}
		if total > len(data) {
			return nil, errBadLacing
		}
		sizes[count-1] = len(data) - total
	}

	frames := make([][]byte, count)
	for i, size := range sizes {
		if size > len(data) {
			return nil, errBadLacing
		}
		frames[i] = data[:size:size]
		data = data[size:]
	}
	return frames, nil
}

// decode reverses one content encoding on a frame or on CodecPrivate.
func (e contentEncoding) decode(data []byte) ([]byte, error) {
	if e.encrypted {
		return nil, fmt.Errorf("%w: encrypted content", ErrUnsupportedEncoding)
	}
	switch e.algo {
	case compHeaderStrip:
		out := make([]byte, 0, len(e.settings)+len(data))
		out = append(out, e.settings...)
		return append(out, data...), nil
	case compZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, ebml.MaxElementSize))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return out, nil
	case compBzlib:
		return nil, fmt.Errorf("%w: bzlib", ErrUnsupportedEncoding)
	case compLZO:
		return nil, fmt.Errorf("%w: lzo1x", ErrUnsupportedEncoding)
	default:
		return nil, fmt.Errorf("%w: algorithm %d", ErrUnsupportedEncoding, e.algo)
	}
}

// decodeFrame undoes the frame-scoped encodings of t.
func (t *trackInfo) decodeFrame(frame []byte) ([]byte, error) {
	for _, e := range t.encodings {
		if e.scope&1 == 0 {
			continue
		}
		out, err := e.decode(frame)
		if err != nil {
			return nil, err
		}
		frame = out
	}
	return frame, nil
}
