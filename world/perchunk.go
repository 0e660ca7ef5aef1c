package world

import (
	"fmt"
)

// PerChunk is per-chunk storage of T, keyed by chunk index. It stores the
// chunk position alongside every value and asserts agreement between the
// two on every access, which catches storage that has fallen out of sync
// with the loaded-chunk space it should be updated in lockstep with.
type PerChunk[T any] struct {
	slab slab[perChunkEntry[T]]
}

type perChunkEntry[T any] struct {
	pos ChunkPos
	val T
}

// Add stores a value for a newly loaded chunk. It must follow the Space.Add
// call that assigned ci, and panics if the internal slab disagrees with the
// index assignment, which means this PerChunk missed an add or remove.
func (p *PerChunk[T]) Add(pos ChunkPos, ci int, val T) {
	if got := p.slab.insert(perChunkEntry[T]{pos: pos, val: val}); got != ci {
		panic(fmt.Sprintf("world: PerChunk out of sync: added chunk %v as index %v, expected %v", pos, got, ci))
	}
}

// Remove clears the value of an unloading chunk and returns it. It must
// follow the Space.Remove call for the same chunk.
func (p *PerChunk[T]) Remove(pos ChunkPos, ci int) T {
	e := p.slab.remove(ci)
	if e.pos != pos {
		panic(fmt.Sprintf("world: PerChunk out of sync: index %v holds chunk %v, expected %v", ci, e.pos, pos))
	}
	return e.val
}

// Get returns a pointer to the value stored for the chunk passed.
func (p *PerChunk[T]) Get(pos ChunkPos, ci int) *T {
	e := p.slab.get(ci)
	if e.pos != pos {
		panic(fmt.Sprintf("world: PerChunk out of sync: index %v holds chunk %v, expected %v", ci, e.pos, pos))
	}
	return &e.val
}

// Len returns the number of chunks stored.
func (p *PerChunk[T]) Len() int {
	return p.slab.len()
}

// Each calls f for every stored chunk.
func (p *PerChunk[T]) Each(f func(pos ChunkPos, ci int, val *T)) {
	p.slab.each(func(i int, e *perChunkEntry[T]) bool {
		f(e.pos, i, &e.val)
		return true
	})
}
