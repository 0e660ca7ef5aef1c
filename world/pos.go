// Package world implements the shared model of a replicated block world:
// chunk coordinates, the space of loaded chunks and their dense indices,
// per-chunk storage keyed by those indices, and the reversible edits that
// mutate tiles and inventories. Both the server's authoritative world and
// each client's replica are built from this package.
package world

import (
	"fmt"
	"math"

	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// HeightChunks is the number of chunks the world spans along the y axis.
// Chunks with y outside [0, HeightChunks) are never loaded.
const HeightChunks = 2

// ChunkPos holds the position of a chunk in the world grid. Each chunk spans
// 16 tiles along every axis.
type ChunkPos [3]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Y returns the Y coordinate of the chunk position.
func (p ChunkPos) Y() int32 {
	return p[1]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[2]
}

// String converts the ChunkPos to a string in the format (1,2,3).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v,%v,%v)", p[0], p[1], p[2])
}

// Side returns the position of the chunk bordering this one at the face
// passed.
func (p ChunkPos) Side(face cube.Face) ChunkPos {
	o := face.Offset()
	return ChunkPos{p[0] + int32(o[0]), p[1] + int32(o[1]), p[2] + int32(o[2])}
}

// ChunkPosFromBlock returns the position of the chunk that the tile position
// passed falls in, floor-dividing each axis by the chunk size.
func ChunkPosFromBlock(pos cube.Pos) ChunkPos {
	return ChunkPos{int32(pos[0] >> 4), int32(pos[1] >> 4), int32(pos[2] >> 4)}
}

// BlockPos returns the world position of the tile at the index passed within
// the chunk at this position. It panics if the chunk position is so far out
// that the resulting tile coordinate overflows 32 bits, which callers
// guarantee never happens for loaded chunks.
func (p ChunkPos) BlockPos(i chunk.TileIndex) cube.Pos {
	x := int64(p[0]) * chunk.Size
	z := int64(p[2]) * chunk.Size
	if x < math.MinInt32 || x >= math.MaxInt32-chunk.Size || z < math.MinInt32 || z >= math.MaxInt32-chunk.Size {
		panic(fmt.Sprintf("world: chunk position %v out of range", p))
	}
	return cube.Pos{
		int(x) | int(i.X()),
		int(p[1])*chunk.Size | int(i.Y()),
		int(z) | int(i.Z()),
	}
}

// SplitBlockPos splits a tile position into the position of the chunk it is
// in and its index within that chunk. BlockPos inverts it.
func SplitBlockPos(pos cube.Pos) (ChunkPos, chunk.TileIndex) {
	return ChunkPosFromBlock(pos), chunk.TileIndexFromBlock(pos)
}

// key packs the chunk position into a single int64 map key: 28 bits each for
// x and z, 8 bits for y. Chunk coordinates of loadable chunks stay well
// within that range.
func (p ChunkPos) key() int64 {
	return int64(uint64(uint32(p[0]))&0xfffffff |
		(uint64(uint32(p[2]))&0xfffffff)<<28 |
		(uint64(uint32(p[1]))&0xff)<<56)
}
