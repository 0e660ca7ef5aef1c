package world

import (
	"github.com/brentp/intintmap"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Space is the set of currently loaded chunks, assigning every loaded chunk
// a dense chunk index that is recycled after removal. The server and every
// client each maintain their own independent Space, so a chunk index is
// only meaningful relative to the Space that assigned it.
type Space struct {
	indices *intintmap.Map
	chunks  slab[ChunkPos]
	version uint64
}

// NewSpace creates an empty Space.
func NewSpace() *Space {
	return &Space{indices: intintmap.New(1024, 0.6)}
}

// Add adds a chunk to the space and returns the index assigned to it. It
// panics if the chunk is already present.
func (s *Space) Add(pos ChunkPos) int {
	if _, ok := s.indices.Get(pos.key()); ok {
		panic("world: chunk added to space twice: " + pos.String())
	}
	ci := s.chunks.insert(pos)
	s.indices.Put(pos.key(), int64(ci))
	s.version++
	return ci
}

// Remove removes a chunk from the space and returns the index it had. It
// panics if the chunk is not present.
func (s *Space) Remove(pos ChunkPos) int {
	ci, ok := s.indices.Get(pos.key())
	if !ok {
		panic("world: removal of chunk not in space: " + pos.String())
	}
	s.indices.Del(pos.key())
	s.chunks.remove(int(ci))
	s.version++
	return int(ci)
}

// Index returns the index of the chunk passed, if it is loaded.
func (s *Space) Index(pos ChunkPos) (int, bool) {
	ci, ok := s.indices.Get(pos.key())
	return int(ci), ok
}

// At returns the position of the chunk loaded under the index passed.
func (s *Space) At(ci int) (ChunkPos, bool) {
	if ci < 0 || ci >= len(s.chunks.slots) || !s.chunks.slots[ci].used {
		return ChunkPos{}, false
	}
	return s.chunks.slots[ci].val, true
}

// Len returns the number of loaded chunks.
func (s *Space) Len() int {
	return s.chunks.len()
}

// Each calls f for every loaded chunk.
func (s *Space) Each(f func(pos ChunkPos, ci int)) {
	s.chunks.each(func(i int, pos *ChunkPos) bool {
		f(*pos, i)
		return true
	})
}

// Getter returns a Getter resolving chunk positions against this space.
func (s *Space) Getter() *Getter {
	return &Getter{space: s}
}

// TileKey addresses a single tile of a loaded chunk: the chunk's position
// and index plus the tile's index within the chunk. It carries enough to
// index any per-chunk storage directly.
type TileKey struct {
	Pos ChunkPos
	CI  int
	LTI chunk.TileIndex
}

// BlockPos returns the world position of the tile.
func (k TileKey) BlockPos() cube.Pos {
	return k.Pos.BlockPos(k.LTI)
}

// Getter resolves chunk positions to chunk indices, caching the chunks it
// saw most recently: up to the last-looked-up chunk and its six face
// neighbours. Iteration over a tile neighbourhood therefore pays the map
// lookup only when it first crosses into a chunk.
type Getter struct {
	space   *Space
	version uint64
	cache   [7]getterEntry
	n       int
	next    int
}

type getterEntry struct {
	pos ChunkPos
	ci  int
	ok  bool
}

// Chunk resolves the chunk position passed to its index in the space, if
// that chunk is loaded.
func (g *Getter) Chunk(pos ChunkPos) (int, bool) {
	if g.version != g.space.version {
		// The space changed under us; every cached entry is suspect.
		g.version, g.n, g.next = g.space.version, 0, 0
	}
	for i := 0; i < g.n; i++ {
		if g.cache[i].pos == pos {
			return g.cache[i].ci, g.cache[i].ok
		}
	}
	ci, ok := g.space.Index(pos)
	e := getterEntry{pos: pos, ci: ci, ok: ok}
	if g.n < len(g.cache) {
		g.cache[g.n] = e
		g.n++
	} else {
		g.cache[g.next] = e
		g.next = (g.next + 1) % len(g.cache)
	}
	return ci, ok
}

// Tile resolves a world tile position to its TileKey, if the chunk holding
// it is loaded.
func (g *Getter) Tile(pos cube.Pos) (TileKey, bool) {
	cp, lti := SplitBlockPos(pos)
	ci, ok := g.Chunk(cp)
	if !ok {
		return TileKey{}, false
	}
	return TileKey{Pos: cp, CI: ci, LTI: lti}, true
}

// Neighbour resolves the chunk bordering the key's chunk at the face
// passed.
func (g *Getter) Neighbour(k TileKey, face cube.Face) (ChunkPos, int, bool) {
	pos := k.Pos.Side(face)
	ci, ok := g.Chunk(pos)
	return pos, ci, ok
}
