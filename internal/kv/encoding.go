package kv

import (
	"encoding/binary"
	"math"
)

// PutUint64BE appends a big-endian uint64 to dst (8 bytes).
func PutUint64BE(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// GetUint64BE reads a big-endian uint64 from b.
func GetUint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// PutScore appends a sorted-set score to dst as 8 bytes whose byte order
// matches the numeric order of the score. Positive floats get the sign bit
// flipped; negative floats are fully inverted.
func PutScore(dst []byte, score float64) []byte {
	bits := math.Float64bits(score)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return PutUint64BE(dst, bits)
}

// GetScore reverses PutScore.
func GetScore(b []byte) float64 {
	bits := GetUint64BE(b)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}
