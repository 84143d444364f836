// Package testsupport builds synthetic Matroska files for package tests.
package testsupport

import (
	"encoding/binary"
	"math"
)

// Element encodes an EBML element with the given payload parts.
func Element(id uint32, parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := appendID(nil, id)
	out = append(out, Vint(uint64(size))...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// UnknownSizeElement encodes an element whose size field is the reserved
// all-ones value.
func UnknownSizeElement(id uint32, parts ...[]byte) []byte {
	out := appendID(nil, id)
	out = append(out, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Uint encodes an unsigned integer element with a minimal payload.
func Uint(id uint32, v uint64) []byte {
	n := 1
	for n < 8 && v>>(8*n) != 0 {
		n++
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[n-1-i] = byte(v >> (8 * i))
	}
	return Element(id, b)
}

// Uint8 encodes an unsigned integer element with a fixed 8 byte payload so
// its encoded length does not depend on the value.
func Uint8(id uint32, v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Element(id, b)
}

// Int encodes a signed integer element with a 2 byte payload.
func Int(id uint32, v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return Element(id, b)
}

// Float encodes an 8 byte float element.
func Float(id uint32, v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return Element(id, b)
}

// String encodes a string element.
func String(id uint32, s string) []byte {
	return Element(id, []byte(s))
}

// Vint encodes v as a minimal-length EBML variable-length integer.
func Vint(v uint64) []byte {
	n := 1
	for n < 8 && v >= uint64(1)<<(7*n)-1 {
		n++
	}
	return vintN(v, n)
}

// SignedVint encodes v with the EBML lacing bias.
func SignedVint(v int64) []byte {
	n := 1
	for n < 8 {
		limit := int64(1)<<(7*n-1) - 2
		if v >= -limit && v <= limit {
			break
		}
		n++
	}
	bias := int64(1)<<(7*n-1) - 1
	return vintN(uint64(v+bias), n)
}

func vintN(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[n-1-i] = byte(v >> (8 * i))
	}
	b[0] |= 0x80 >> (n - 1)
	return b
}

func appendID(dst []byte, id uint32) []byte {
	switch {
	case id >= 1<<24:
		return append(dst, byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
	case id >= 1<<16:
		return append(dst, byte(id>>16), byte(id>>8), byte(id))
	case id >= 1<<8:
		return append(dst, byte(id>>8), byte(id))
	default:
		return append(dst, byte(id))
	}
}
