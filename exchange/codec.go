package exchange

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
)

// Codec compresses materialized exchange payloads before handing them to
// the transport layer
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// CreateCodec returns the named Codec: lz4, snappy or none
func CreateCodec(name string) (Codec, error) {
	switch name {
	case "lz4":
		return &LZ4Codec{}, nil
	case "snappy":
		return &SnappyCodec{}, nil
	case "none":
		return &NoopCodec{}, nil
	}
	return nil, fmt.Errorf("Unknown exchange codec %q", name)
}

// LZ4Codec compresses exchange payloads with the lz4 algorithm
type LZ4Codec struct{}

// Name returns the name of this Codec
func (c *LZ4Codec) Name() string {
	return "lz4"
}

// Compress compresses a serialized batch payload
func (c *LZ4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress recovers a serialized batch payload
func (c *LZ4Codec) Decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}

// SnappyCodec compresses exchange payloads with the snappy algorithm
type SnappyCodec struct{}

// Name returns the name of this Codec
func (c *SnappyCodec) Name() string {
	return "snappy"
}

// Compress compresses a serialized batch payload
func (c *SnappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decompress recovers a serialized batch payload
func (c *SnappyCodec) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// NoopCodec passes payloads through uncompressed
type NoopCodec struct{}

// Name returns the name of this Codec
func (c *NoopCodec) Name() string {
	return "none"
}

// Compress passes the payload through
func (c *NoopCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress passes the payload through
func (c *NoopCodec) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
