// Package chunk provides the storage primitives for a single 16x16x16 chunk
// of the world: packed tile indices, per-tile arrays and the block storage
// that chunks are made of.
package chunk

import (
	"fmt"

	"github.com/notminecraft/notminecraft/cube"
)

const (
	// Size is the span of a chunk along each axis, measured in tiles.
	Size = 16
	// Tiles is the number of tiles in a chunk.
	Tiles = Size * Size * Size
)

// BlockID is a handle into the block registry. The zero BlockID is always
// air.
type BlockID uint16

// TileIndex is the index of a tile within its chunk, packing the three local
// coordinates into 16 bits. The y coordinate occupies the lowest bits so
// that incrementing an index walks a vertical column first, which is the
// order terrain generation and meshing iterate in. The top nibble is
// reserved for the high bits of a split y field in taller chunk formats and
// is always zero at the current chunk height, making valid indices dense in
// [0, Tiles).
type TileIndex uint16

// TileIndexAt packs the local tile coordinates passed into a TileIndex. All
// three must be in [0, Size).
func TileIndexAt(x, y, z uint8) TileIndex {
	return TileIndex(y&0xf) | TileIndex(x&0xf)<<4 | TileIndex(z&0xf)<<8
}

// X returns the local x coordinate of the tile.
func (i TileIndex) X() uint8 {
	return uint8(i>>4) & 0xf
}

// Y returns the local y coordinate of the tile.
func (i TileIndex) Y() uint8 {
	return uint8(i)&0xf | uint8(i>>8)&0xf0
}

// Z returns the local z coordinate of the tile.
func (i TileIndex) Z() uint8 {
	return uint8(i>>8) & 0xf
}

// String formats the TileIndex as its local coordinates.
func (i TileIndex) String() string {
	return fmt.Sprintf("(%v,%v,%v)", i.X(), i.Y(), i.Z())
}

// TileIndexFromBlock returns the TileIndex of the tile that the world
// position passed falls in.
func TileIndexFromBlock(pos cube.Pos) TileIndex {
	return TileIndexAt(uint8(pos[0]&0xf), uint8(pos[1]&0xf), uint8(pos[2]&0xf))
}
