// Package embedding generates and encodes vector embeddings for memory
// storage. The binary format is raw little-endian float32, 4 bytes per
// element with no header, for direct compatibility with vector-search
// extensions that consume raw float32 blobs.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode packs a float vector into little-endian float32 bytes.
func Encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode unpacks little-endian float32 bytes into a vector. The length is
// implied by the byte count; a length not divisible by 4 is an error.
func Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding: blob length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
