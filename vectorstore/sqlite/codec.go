package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	vectorHeaderSize = 4
	vectorValueSize  = 4
)

// encodeVector packs v as [4-byte little-endian length][N little-endian float32].
func encodeVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}

	blob := make([]byte, vectorHeaderSize+len(v)*vectorValueSize)
	binary.LittleEndian.PutUint32(blob[:vectorHeaderSize], uint32(len(v)))

	off := vectorHeaderSize
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("encode vector: invalid value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[off:off+vectorValueSize], math.Float32bits(x))
		off += vectorValueSize
	}
	return blob, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorHeaderSize {
		return nil, fmt.Errorf("decode vector: blob too short: %d", len(blob))
	}

	dim := int(binary.LittleEndian.Uint32(blob[:vectorHeaderSize]))
	if dim <= 0 || len(blob) != vectorHeaderSize+dim*vectorValueSize {
		return nil, fmt.Errorf("decode vector: dimension mismatch: dim=%d payload=%d", dim, len(blob)-vectorHeaderSize)
	}

	v := make([]float32, dim)
	off := vectorHeaderSize
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+vectorValueSize]))
		off += vectorValueSize
	}
	return v, nil
}
