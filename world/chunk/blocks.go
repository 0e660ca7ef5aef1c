package chunk

// Blocks is the block storage of a chunk: a block ID for every tile, plus
// type-erased per-tile block metadata for the tiles whose block type defines
// any. The concrete type behind a metadata value is dictated by the block
// registry entry of the tile's block ID; callers setting metadata are
// expected to have asserted it against the registry.
type Blocks struct {
	bids PerTile[BlockID]
	// meta holds the erased metadata values. Metadata is sparse in practice
	// (most registered blocks carry none), so a map costs less here than a
	// per-tile option of a 16-byte interface value would.
	meta map[TileIndex]any
}

// NewBlocks creates a Blocks with every tile set to the block ID passed and
// no metadata.
func NewBlocks(fill BlockID) *Blocks {
	return &Blocks{
		bids: PerTileRepeat(fill),
		meta: make(map[TileIndex]any),
	}
}

// ID returns the block ID at the tile index passed.
func (b *Blocks) ID(i TileIndex) BlockID {
	return b.bids.At(i)
}

// Meta returns the erased metadata value at the tile index passed, or nil if
// the tile's block carries none.
func (b *Blocks) Meta(i TileIndex) any {
	return b.meta[i]
}

// Set sets the block at the tile index passed, discarding whatever was there
// before. A nil meta means the block carries no metadata.
func (b *Blocks) Set(i TileIndex, bid BlockID, meta any) {
	b.bids.Set(i, bid)
	if meta == nil {
		delete(b.meta, i)
	} else {
		b.meta[i] = meta
	}
}

// Replace sets the block at the tile index passed and returns the block ID
// and metadata previously stored there.
func (b *Blocks) Replace(i TileIndex, bid BlockID, meta any) (BlockID, any) {
	oldID, oldMeta := b.bids.At(i), b.meta[i]
	b.Set(i, bid, meta)
	return oldID, oldMeta
}
