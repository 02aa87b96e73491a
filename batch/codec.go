package batch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/quarrydb/quarry/schema"
)

// Batches are serialized for exchange transmission as:
//   u32 row count, then per column in schema order:
//   u32 null-bitmap byte length (0 when the column has no nulls),
//   the serialized roaring bitmap, then the dense value payload.
// The Schema itself is not encoded; both sides of an exchange edge
// already agree on it.

// ToBytes serializes this Batch for exchange transmission
func (b *Batch) ToBytes() ([]byte, error) {
	var buf bytes.Buffer
	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(b.length))
	buf.Write(scratch[:4])
	for _, c := range b.cols {
		if c.nulls == nil || c.nulls.IsEmpty() {
			binary.LittleEndian.PutUint32(scratch[:4], 0)
			buf.Write(scratch[:4])
		} else {
			nb, err := c.nulls.ToBytes()
			if err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(nb)))
			buf.Write(scratch[:4])
			buf.Write(nb)
		}
		switch c.typ.(type) {
		case *schema.BoolColumnType:
			for _, v := range c.bl {
				if v {
					buf.WriteByte(1)
				} else {
					buf.WriteByte(0)
				}
			}
		case *schema.Float64ColumnType:
			for _, v := range c.f64 {
				binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
				buf.Write(scratch[:])
			}
		case *schema.StringColumnType:
			for _, v := range c.str {
				binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v)))
				buf.Write(scratch[:4])
				buf.WriteString(v)
			}
		default:
			for _, v := range c.i64 {
				binary.LittleEndian.PutUint64(scratch[:], uint64(v))
				buf.Write(scratch[:])
			}
		}
	}
	return buf.Bytes(), nil
}

// FromBytes deserializes a Batch previously produced by ToBytes, under
// the Schema both sides of the exchange edge agreed on
func FromBytes(data []byte, s *schema.Schema) (*Batch, error) {
	r := &byteReader{data: data}
	length, err := r.uint32()
	if err != nil {
		return nil, err
	}
	n := int(length)
	cols := make([]*Column, s.NumColumns())
	for i := 0; i < s.NumColumns(); i++ {
		c := &Column{typ: s.Column(i).Type}
		nullLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if nullLen > 0 {
			nb, err := r.take(int(nullLen))
			if err != nil {
				return nil, err
			}
			nulls := roaring.New()
			if _, err := nulls.FromBuffer(nb); err != nil {
				return nil, err
			}
			c.nulls = nulls
		}
		switch c.typ.(type) {
		case *schema.BoolColumnType:
			payload, err := r.take(n)
			if err != nil {
				return nil, err
			}
			c.bl = make([]bool, n)
			for j, v := range payload {
				c.bl[j] = v != 0
			}
		case *schema.Float64ColumnType:
			c.f64 = make([]float64, n)
			for j := 0; j < n; j++ {
				v, err := r.uint64()
				if err != nil {
					return nil, err
				}
				c.f64[j] = math.Float64frombits(v)
			}
		case *schema.StringColumnType:
			c.str = make([]string, n)
			for j := 0; j < n; j++ {
				slen, err := r.uint32()
				if err != nil {
					return nil, err
				}
				sb, err := r.take(int(slen))
				if err != nil {
					return nil, err
				}
				c.str[j] = string(sb)
			}
		default:
			c.i64 = make([]int64, n)
			for j := 0; j < n; j++ {
				v, err := r.uint64()
				if err != nil {
					return nil, err
				}
				c.i64[j] = int64(v)
			}
		}
		cols[i] = c
	}
	return &Batch{schema: s, length: n, cols: cols}, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("Serialized batch is truncated: need %d bytes at offset %d of %d", n, r.pos, len(r.data))
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
