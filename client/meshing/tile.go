// Package meshing turns chunk block data into renderable chunk meshes: a
// per-tile mesher that elides obscured faces, and the per-chunk mesh state
// tracking dirty tiles and buffering GPU updates through a mesh differ.
package meshing

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/client/mesh"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// View is the read access a mesh job has to the world: the blocks of the
// chunk being meshed and of its loaded neighbours.
type View interface {
	// BlockAt returns the block at the world tile position and whether
	// that tile is loaded.
	BlockAt(pos cube.Pos) (chunk.BlockID, bool)
}

// faceDarken is the per-face light step: the top face is lit fully, x
// faces slightly darker, z faces darker still and the bottom darkest.
func faceDarken(f cube.Face) int {
	switch f {
	case cube.FaceUp:
		return 0
	case cube.FaceWest, cube.FaceEast:
		return 1
	case cube.FaceNorth, cube.FaceSouth:
		return 2
	}
	return 3
}

// faceLight is the light multiplier applied to a face's vertex colors.
func faceLight(f cube.Face) float32 {
	return 1 - 0.07*float32(faceDarken(f))
}

// faceQuad returns the quad geometry of a face of the unit cube at the
// origin: start corner and the two extents spanning the face, wound to
// face outward.
func faceQuad(f cube.Face) (start, ext1, ext2 mgl32.Vec3) {
	switch f {
	case cube.FaceEast:
		return mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}
	case cube.FaceWest:
		return mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, -1}
	case cube.FaceUp:
		return mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}
	case cube.FaceDown:
		return mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{1, 0, 0}
	case cube.FaceSouth:
		return mgl32.Vec3{1, 0, 1}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{-1, 0, 0}
	}
	return mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}
}

// MeshTile appends the mesh of a single tile to buf: one quad per face not
// obscured by an opaque neighbour. Faces against unloaded chunks count as
// obscured; loading the neighbour later dirties the seam and re-meshes
// them. Vertex positions are chunk-local.
func MeshTile(buf *mesh.Data, pos world.ChunkPos, lti chunk.TileIndex, view View, reg *block.Registry) {
	gtc := pos.BlockPos(lti)
	bid, ok := view.BlockAt(gtc)
	if !ok || bid == block.Air {
		return
	}
	def := reg.Def(bid)
	local := mgl32.Vec3{float32(lti.X()), float32(lti.Y()), float32(lti.Z())}

	for _, face := range cube.Faces() {
		neighbour := gtc.Side(face)
		obscured := true
		if nbid, loaded := view.BlockAt(neighbour); loaded {
			obscured = reg.Def(nbid).Opaque
		}
		if obscured {
			continue
		}
		start, ext1, ext2 := faceQuad(face)
		light := faceLight(face)
		color := mgl32.Vec4{light, light, light, 1}
		buf.AddQuad(&mesh.Quad{
			PosStart:   local.Add(start),
			PosExt1:    ext1,
			PosExt2:    ext2,
			TexExtent:  mgl32.Vec2{1, 1},
			VertColors: [4]mgl32.Vec4{color, color, color, color},
			TexIndex:   uint32(def.Textures[face]),
		})
	}
}

// TileMesh is the meshed geometry of one tile of a chunk.
type TileMesh struct {
	LTI  chunk.TileIndex
	Data mesh.Data
}

// MeshChunk meshes every tile of a chunk, returning the non-empty tile
// meshes. It is the initial whole-chunk mesh job run on worker threads;
// View implementations handed to it must be safe to read off the game
// loop.
func MeshChunk(pos world.ChunkPos, view View, reg *block.Registry) []TileMesh {
	var out []TileMesh
	var buf mesh.Data
	for lti := chunk.TileIndex(0); lti < chunk.Tiles; lti++ {
		buf.Clear()
		MeshTile(&buf, pos, lti, view, reg)
		if buf.Empty() {
			continue
		}
		tm := TileMesh{LTI: lti}
		tm.Data.Vertices = append(tm.Data.Vertices, buf.Vertices...)
		tm.Data.Indices = append(tm.Data.Indices, buf.Indices...)
		out = append(out, tm)
	}
	return out
}

// Snapshot is an immutable copy of the data a whole-chunk mesh job reads:
// the chunk's own blocks and the border tile layer of each loaded face
// neighbour. It implements View without touching live world state, so mesh
// jobs can read it off the game loop.
type Snapshot struct {
	Pos  world.ChunkPos
	Bids chunk.PerTile[chunk.BlockID]
	// Border holds, per face, the blocks of the neighbouring chunk's
	// touching tile layer, or nil if that neighbour is not loaded.
	Border [6][]chunk.BlockID
}

// TakeSnapshot captures a Snapshot of a chunk from live world state. It
// must run on the goroutine owning that state.
func TakeSnapshot(pos world.ChunkPos, view View) *Snapshot {
	s := &Snapshot{Pos: pos, Bids: chunk.NewPerTile[chunk.BlockID]()}
	for lti := chunk.TileIndex(0); lti < chunk.Tiles; lti++ {
		if bid, ok := view.BlockAt(pos.BlockPos(lti)); ok {
			s.Bids.Set(lti, bid)
		}
	}
	for _, face := range cube.Faces() {
		if _, ok := view.BlockAt(borderTile(pos, face, 0, 0)); !ok {
			continue
		}
		layer := make([]chunk.BlockID, chunk.Size*chunk.Size)
		for i := range layer {
			bid, _ := view.BlockAt(borderTile(pos, face, i/chunk.Size, i%chunk.Size))
			layer[i] = bid
		}
		s.Border[face] = layer
	}
	return s
}

// borderTile returns the world position of the (a, b)-th tile of the
// neighbouring chunk's layer touching the face passed.
func borderTile(pos world.ChunkPos, face cube.Face, a, b int) cube.Pos {
	base := pos.Side(face)
	origin := base.BlockPos(0)
	const last = chunk.Size - 1
	switch face {
	case cube.FaceEast:
		return cube.Pos{origin[0], origin[1] + a, origin[2] + b}
	case cube.FaceWest:
		return cube.Pos{origin[0] + last, origin[1] + a, origin[2] + b}
	case cube.FaceUp:
		return cube.Pos{origin[0] + a, origin[1], origin[2] + b}
	case cube.FaceDown:
		return cube.Pos{origin[0] + a, origin[1] + last, origin[2] + b}
	case cube.FaceSouth:
		return cube.Pos{origin[0] + a, origin[1] + b, origin[2]}
	case cube.FaceNorth:
		return cube.Pos{origin[0] + a, origin[1] + b, origin[2] + last}
	}
	panic("invalid face")
}

// BlockAt implements View over the snapshot.
func (s *Snapshot) BlockAt(pos cube.Pos) (chunk.BlockID, bool) {
	cp, lti := world.SplitBlockPos(pos)
	if cp == s.Pos {
		return s.Bids.At(lti), true
	}
	for _, face := range cube.Faces() {
		if s.Pos.Side(face) != cp {
			continue
		}
		layer := s.Border[face]
		if layer == nil {
			return 0, false
		}
		a, b := borderIndex(face, lti)
		return layer[a*chunk.Size+b], true
	}
	return 0, false
}

// borderIndex maps a tile index in a neighbouring chunk's touching layer
// to its (a, b) coordinates within that layer.
func borderIndex(face cube.Face, lti chunk.TileIndex) (int, int) {
	switch face {
	case cube.FaceEast, cube.FaceWest:
		return int(lti.Y()), int(lti.Z())
	case cube.FaceUp, cube.FaceDown:
		return int(lti.X()), int(lti.Z())
	}
	return int(lti.X()), int(lti.Y())
}
