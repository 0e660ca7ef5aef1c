package meshing

import (
	"github.com/notminecraft/notminecraft/client/mesh"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// ChunkMesh is the mesh state of one loaded chunk on the client.
//
// A chunk starts in the meshing state: its initial whole-chunk mesh job is
// outstanding, and tiles dirtied meanwhile are only recorded. Once the job
// completes it becomes meshed: it holds the GPU buffers, a differ with one
// submesh per non-empty tile, and the per-tile submesh keys. From then on
// dirty tiles are re-meshed individually and the differ's buffered changes
// are flushed to the buffers once per frame.
type ChunkMesh struct {
	vb mesh.Buffer[mesh.Vertex]
	ib mesh.Buffer[uint32]

	meshed bool

	// Dirty tile tracking: the bitset deduplicates, the list preserves
	// order. Before meshing completes it accumulates; afterwards it is the
	// re-mesh work list.
	tileDirty chunk.PerTileBool
	dirtyList []chunk.TileIndex

	differ *mesh.Differ
	keys   chunk.TileOption[uint16]
	// dirty is set while the differ holds buffered edits not yet flushed
	// to the buffers.
	dirty bool
}

// NewChunkMesh creates a ChunkMesh in the meshing state, rendering into
// the buffers passed.
func NewChunkMesh(vb mesh.Buffer[mesh.Vertex], ib mesh.Buffer[uint32]) *ChunkMesh {
	return &ChunkMesh{
		vb:        vb,
		ib:        ib,
		tileDirty: chunk.NewPerTileBool(),
		keys:      chunk.NewTileOption[uint16](),
	}
}

// Meshed reports whether the initial mesh job has completed.
func (m *ChunkMesh) Meshed() bool {
	return m.meshed
}

// Dirty reports whether the chunk needs re-meshing or flushing this frame.
func (m *ChunkMesh) Dirty() bool {
	return m.dirty || len(m.dirtyList) > 0
}

// MarkDirty records that a tile's mesh is stale.
func (m *ChunkMesh) MarkDirty(lti chunk.TileIndex) {
	if m.tileDirty.At(lti) {
		return
	}
	m.tileDirty.Set(lti, true)
	m.dirtyList = append(m.dirtyList, lti)
}

// Complete transitions from meshing to meshed, installing the tile meshes
// the initial job produced. Tiles dirtied while the job ran stay on the
// dirty list; the next flush re-meshes them over the job's result.
func (m *ChunkMesh) Complete(tiles []TileMesh) {
	if m.meshed {
		panic("meshing: chunk mesh completed twice")
	}
	m.meshed = true
	m.differ = mesh.NewDiffer()
	for i := range tiles {
		m.installTile(tiles[i].LTI, &tiles[i].Data)
	}
	m.dirty = true
}

// TakeDirty returns and clears the dirty tile list. Only valid once
// meshed.
func (m *ChunkMesh) TakeDirty() []chunk.TileIndex {
	tiles := m.dirtyList
	m.dirtyList = nil
	for _, lti := range tiles {
		m.tileDirty.Set(lti, false)
	}
	return tiles
}

// SetTileSubmesh replaces the submesh of a tile with the data passed,
// removing it entirely for empty data.
func (m *ChunkMesh) SetTileSubmesh(lti chunk.TileIndex, data *mesh.Data) {
	m.dirty = true
	m.clearTile(lti)
	if !data.Empty() {
		m.installTile(lti, data)
	}
}

func (m *ChunkMesh) installTile(lti chunk.TileIndex, data *mesh.Data) {
	key := m.differ.AddSubmesh(data)
	m.keys.SetSome(lti, uint16(key))
}

func (m *ChunkMesh) clearTile(lti chunk.TileIndex) {
	if key, ok := m.keys.At(lti); ok {
		m.differ.RemoveSubmesh(int(key))
		m.keys.SetNone(lti)
	}
}

// SubmeshKey returns the differ key of a tile's submesh, if the tile
// currently has one.
func (m *ChunkMesh) SubmeshKey(lti chunk.TileIndex) (uint16, bool) {
	return m.keys.At(lti)
}

// Flush drains the differ's buffered changes into the GPU buffers. Only
// valid once meshed.
func (m *ChunkMesh) Flush() {
	m.differ.Flush(m.vb, m.ib)
	m.dirty = false
}

// Differ exposes the underlying differ for inspection.
func (m *ChunkMesh) Differ() *mesh.Differ {
	return m.differ
}
