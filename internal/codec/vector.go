// Package codec encodes float64 sample and spin arrays as flatbuffers
// documents. The layout is a table whose first field is a vector of doubles,
// which keeps blobs compatible with readers generated from
//
//	table Vector { data:[double]; }
//	root_type Vector;
package codec

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// dataField is the vtable offset of the data vector (field 0).
const dataField = flatbuffers.VOffsetT(4)

// ErrMalformed is returned when a blob is not a Vector document.
var ErrMalformed = errors.New("codec: malformed vector")

// EncodeFloats serializes data into a flatbuffers Vector document.
func EncodeFloats(data []float64) []byte {
	b := flatbuffers.NewBuilder(16 + 8*len(data))

	b.StartVector(8, len(data), 8)
	for i := len(data) - 1; i >= 0; i-- {
		b.PrependFloat64(data[i])
	}
	vec := b.EndVector(len(data))

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, vec, 0)
	b.Finish(b.EndObject())

	return b.FinishedBytes()
}

// DecodeFloats reads a Vector document produced by EncodeFloats.
func DecodeFloats(buf []byte) (out []float64, err error) {
	if len(buf) < flatbuffers.SizeUOffsetT {
		return nil, ErrMalformed
	}
	// The flatbuffers accessors index without bounds checks of their own.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	t := flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}
	o := flatbuffers.UOffsetT(t.Offset(dataField))
	if o == 0 {
		return []float64{}, nil
	}

	n := t.VectorLen(o)
	start := t.Vector(o)
	out = make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = t.GetFloat64(start + flatbuffers.UOffsetT(i*8))
	}
	return out, nil
}

// DecodeConcat decodes each blob in order and appends the results.
func DecodeConcat(blobs [][]byte) ([]float64, error) {
	var out []float64
	for i, blob := range blobs {
		vals, err := DecodeFloats(blob)
		if err != nil {
			return nil, fmt.Errorf("decode blob %d: %w", i, err)
		}
		out = append(out, vals...)
	}
	return out, nil
}
