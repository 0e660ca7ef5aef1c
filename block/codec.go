package block

import (
	"bytes"
	"fmt"
	"io"

	"github.com/notminecraft/notminecraft/schema"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// TileSchema returns the schema of a single (block, metadata) pair under
// this registry. It is the element schema of BlocksSchema, and edits
// carrying a block share it with chunk payloads.
func (r *Registry) TileSchema() *schema.Schema {
	return r.BlocksSchema().Inner
}

// EncodeTile encodes one (block, metadata) pair at an encoder positioned on
// TileSchema.
func (r *Registry) EncodeTile(e *schema.Encoder, id chunk.BlockID, meta any) error {
	if !r.Known(id) {
		return fmt.Errorf("block: unknown block id %v", id)
	}
	if err := e.BeginEnum(int(id)); err != nil {
		return err
	}
	def := &r.defs[id]
	if def.Meta == nil {
		if meta != nil {
			return fmt.Errorf("block: %v carries no metadata, got %T", def.Name, meta)
		}
		return e.BeginTuple()
	}
	if meta == nil {
		return fmt.Errorf("block: %v requires metadata", def.Name)
	}
	return def.Meta.Encode(e, meta)
}

// DecodeTile decodes one (block, metadata) pair at a decoder positioned on
// TileSchema.
func (r *Registry) DecodeTile(d *schema.Decoder) (chunk.BlockID, any, error) {
	ord, err := d.BeginEnum()
	if err != nil {
		return 0, nil, err
	}
	id := chunk.BlockID(ord)
	def := &r.defs[id]
	if def.Meta == nil {
		if err := d.BeginTuple(); err != nil {
			return 0, nil, err
		}
		return id, nil, nil
	}
	meta, err := def.Meta.Decode(d)
	if err != nil {
		return 0, nil, err
	}
	return id, meta, nil
}

// EncodeBlocks writes the block storage of a chunk to w against this
// registry's schema: 4096 (block, metadata) pairs in tile index order.
func (r *Registry) EncodeBlocks(w io.Writer, b *chunk.Blocks) error {
	e := schema.NewEncoder(r.BlocksSchema(), w)
	if err := e.BeginArray(); err != nil {
		return err
	}
	for i := chunk.TileIndex(0); i < chunk.Tiles; i++ {
		if err := r.EncodeTile(e, b.ID(i), b.Meta(i)); err != nil {
			return fmt.Errorf("tile %v: %w", i, err)
		}
	}
	return e.Finish()
}

// DecodeBlocks reads a chunk's block storage from r against this registry's
// schema.
func (reg *Registry) DecodeBlocks(r io.Reader) (*chunk.Blocks, error) {
	d := schema.NewDecoder(reg.BlocksSchema(), r)
	if _, err := d.BeginArray(); err != nil {
		return nil, err
	}
	b := chunk.NewBlocks(Air)
	for i := chunk.TileIndex(0); i < chunk.Tiles; i++ {
		id, meta, err := reg.DecodeTile(d)
		if err != nil {
			return nil, fmt.Errorf("tile %v: %w", i, err)
		}
		b.Set(i, id, meta)
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return b, nil
}

// AppendBlocks encodes a chunk's block storage to a byte slice.
func (r *Registry) AppendBlocks(b *chunk.Blocks) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(2 * chunk.Tiles)
	if err := r.EncodeBlocks(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BlocksFromBytes decodes a chunk's block storage from a byte slice.
func (r *Registry) BlocksFromBytes(raw []byte) (*chunk.Blocks, error) {
	return r.DecodeBlocks(bytes.NewReader(raw))
}
