// Package geomcodec encodes prepared geometries as zstd-compressed WKB for
// the session cache. Buffered sources can be large; keeping the cached copy
// compressed means a resubmitted request rehydrates the geometry instead of
// holding a second uncompressed copy per in-flight request.
package geomcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// Codec compresses and decompresses geometry blobs. Create once and reuse;
// both directions are safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a reusable codec. Uses SpeedDefault for a balanced ratio.
// Caller must Close() when done to release resources.
func New() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode marshals the geometry to WKB and compresses it.
func (c *Codec) Encode(g orb.Geometry) ([]byte, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal geometry: %w", err)
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode decompresses and unmarshals a blob produced by Encode.
func (c *Codec) Decode(blob []byte) (orb.Geometry, error) {
	data, err := c.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress geometry: %w", err)
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal geometry: %w", err)
	}
	return g, nil
}

// Close releases codec resources.
func (c *Codec) Close() error {
	if c.decoder != nil {
		c.decoder.Close()
	}
	if c.encoder != nil {
		return c.encoder.Close()
	}
	return nil
}
