// Package ebml reads Extensible Binary Meta Language elements from a
// random-access source. It knows nothing about Matroska semantics beyond the
// element IDs in ids.go; the matroska package builds on it.
package ebml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// UnknownSize marks an element whose size field had all value bits set.
const UnknownSize int64 = -1

// MaxElementSize bounds the payload read by the ReadBytes family so a
// corrupt size field cannot trigger a huge allocation.
const MaxElementSize = 64 << 20

// Sentinel errors for element decoding.
var (
	ErrInvalidVint   = errors.New("ebml: invalid variable-length integer")
	ErrTooLarge      = errors.New("ebml: element too large")
	ErrUnknownSize   = errors.New("ebml: unknown element size")
	ErrInvalidLength = errors.New("ebml: invalid payload length")
)

// Header is a decoded element header.
type Header struct {
	ID         uint32
	Size       int64 // payload size, UnknownSize when not declared
	Offset     int64 // position of the first ID byte
	DataOffset int64 // position of the first payload byte
}

// End returns the position after the payload, or UnknownSize.
func (h Header) End() int64 {
	if h.Size == UnknownSize {
		return UnknownSize
	}
	return h.DataOffset + h.Size
}

// ReadHeader decodes the element header starting at off.
func ReadHeader(r io.ReaderAt, off int64) (Header, error) {
	var buf [12]byte
	n, err := r.ReadAt(buf[:], off)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, err
	}
	id, idLen, err := DecodeID(buf[:n])
	if err != nil {
		return Header{}, fmt.Errorf("ebml: id at %d: %w", off, err)
	}
	size, sizeLen, err := decodeSize(buf[idLen:n])
	if err != nil {
		return Header{}, fmt.Errorf("ebml: size of %#x at %d: %w", id, off, err)
	}
	return Header{
		ID:         id,
		Size:       size,
		Offset:     off,
		DataOffset: off + int64(idLen+sizeLen),
	}, nil
}

// DecodeID decodes an element ID, keeping the length marker bits.
func DecodeID(b []byte) (uint32, int, error) {
	if len(b) == 0 || b[0] == 0 {
		return 0, 0, ErrInvalidVint
	}
	length := vintLength(b[0])
	if length > 4 {
		return 0, 0, ErrInvalidVint
	}
	if len(b) < length {
		return 0, 0, io.ErrUnexpectedEOF
	}
	var id uint32
	for i := 0; i < length; i++ {
		id = id<<8 | uint32(b[i])
	}
	return id, length, nil
}

// DecodeVint decodes an unsigned variable-length integer with the marker bit
// removed. It is used for sizes and for block track numbers.
func DecodeVint(b []byte) (uint64, int, error) {
	if len(b) == 0 || b[0] == 0 {
		return 0, 0, ErrInvalidVint
	}
	length := vintLength(b[0])
	if len(b) < length {
		return 0, 0, io.ErrUnexpectedEOF
	}
	val := uint64(b[0]) & (0xFF >> length)
	for i := 1; i < length; i++ {
		val = val<<8 | uint64(b[i])
	}
	return val, length, nil
}

// DecodeSignedVint decodes the signed form used by EBML lacing deltas.
func DecodeSignedVint(b []byte) (int64, int, error) {
	val, n, err := DecodeVint(b)
	if err != nil {
		return 0, 0, err
	}
	bias := int64(1)<<(7*n-1) - 1
	return int64(val) - bias, n, nil
}

func decodeSize(b []byte) (int64, int, error) {
	val, n, err := DecodeVint(b)
	if err != nil {
		return 0, 0, err
	}
	if val == uint64(1)<<(7*n)-1 {
		return UnknownSize, n, nil
	}
	if val > math.MaxInt64 {
		return 0, 0, ErrTooLarge
	}
	return int64(val), n, nil
}

func vintLength(first byte) int {
	length := 1
	for mask := byte(0x80); length <= 8 && first&mask == 0; mask >>= 1 {
		length++
	}
	return length
}

// Walk visits each child element in [start, end). Returning ErrStop from fn
// ends the walk without error. Children with an unknown size end the walk
// at the parent end; callers that allow them handle the header themselves.
func Walk(r io.ReaderAt, start, end int64, fn func(Header) error) error {
	off := start
	for off < end {
		h, err := ReadHeader(r, off)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := fn(h); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		next := h.End()
		if next == UnknownSize {
			return nil
		}
		off = next
	}
	return nil
}

// ErrStop ends a Walk early.
var ErrStop = errors.New("ebml: stop walk")

// ReadBytes reads the full payload of h.
func ReadBytes(r io.ReaderAt, h Header) ([]byte, error) {
	if h.Size == UnknownSize {
		return nil, ErrUnknownSize
	}
	if h.Size > MaxElementSize {
		return nil, fmt.Errorf("%w: %#x is %d bytes", ErrTooLarge, h.ID, h.Size)
	}
	buf := make([]byte, h.Size)
	if h.Size == 0 {
		return buf, nil
	}
	n, err := r.ReadAt(buf, h.DataOffset)
	if n < len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// ReadUint reads an unsigned integer payload (0-8 bytes).
func ReadUint(r io.ReaderAt, h Header) (uint64, error) {
	b, err := readSmall(r, h, 8)
	if err != nil {
		return 0, err
	}
	return Uint(b), nil
}

// ReadInt reads a signed integer payload (0-8 bytes).
func ReadInt(r io.ReaderAt, h Header) (int64, error) {
	b, err := readSmall(r, h, 8)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	v := int64(Uint(b))
	shift := uint(64 - 8*len(b))
	return v << shift >> shift, nil
}

// ReadFloat reads a 4 or 8 byte IEEE 754 payload.
func ReadFloat(r io.ReaderAt, h Header) (float64, error) {
	b, err := readSmall(r, h, 8)
	if err != nil {
		return 0, err
	}
	switch len(b) {
	case 0:
		return 0, nil
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("%w: float of %d bytes", ErrInvalidLength, len(b))
	}
}

// ReadString reads a string payload, trimming trailing NUL padding.
func ReadString(r io.ReaderAt, h Header) (string, error) {
	b, err := ReadBytes(r, h)
	if err != nil {
		return "", err
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// Uint decodes a big-endian unsigned integer of up to 8 bytes.
func Uint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func readSmall(r io.ReaderAt, h Header, max int64) ([]byte, error) {
	if h.Size == UnknownSize {
		return nil, ErrUnknownSize
	}
	if h.Size > max {
		return nil, fmt.Errorf("%w: %#x has %d bytes", ErrInvalidLength, h.ID, h.Size)
	}
	return ReadBytes(r, h)
}
