package db

import (
	"encoding/binary"
	"math"
)

// VectorToBytes encodes a vector as little-endian FLOAT32 bytes, the layout FT indexes
// expect both in stored hashes and in KNN query parameters.
func VectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
