package protocol

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// PackChunkBlocks produces the AddChunk block payload for a chunk: the
// registry encoding of its 4096 tiles, snappy-compressed. Freshly generated
// terrain is highly repetitive, so the payload is usually a small fraction
// of the raw encoding.
func (c *Codec) PackChunkBlocks(b *chunk.Blocks) ([]byte, error) {
	raw, err := c.reg.AppendBlocks(b)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// UnpackChunkBlocks decodes an AddChunk block payload.
func (c *Codec) UnpackChunkBlocks(payload []byte) (*chunk.Blocks, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: chunk payload: %w", err)
	}
	return c.reg.BlocksFromBytes(raw)
}
