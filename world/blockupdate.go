package world

import (
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// BlockUpdateQueue is a queue of pending block updates, deduplicated per
// tile: a tile is in the queue at most once regardless of how many of its
// neighbours changed since it was last serviced.
type BlockUpdateQueue struct {
	queued PerChunk[chunk.PerTileBool]
	queue  []TileKey
	head   int
}

// NewBlockUpdateQueue creates an empty queue.
func NewBlockUpdateQueue() *BlockUpdateQueue {
	return &BlockUpdateQueue{}
}

// Enqueue queues a block update at the tile position passed, if its chunk is
// loaded and no update is already queued there.
func (q *BlockUpdateQueue) Enqueue(pos cube.Pos, g *Getter) {
	if k, ok := g.Tile(pos); ok {
		q.EnqueueKey(k)
	}
}

// EnqueueKey queues a block update at a tile key already resolved against
// the loaded world.
func (q *BlockUpdateQueue) EnqueueKey(k TileKey) {
	flags := q.queued.Get(k.Pos, k.CI)
	if flags.At(k.LTI) {
		return
	}
	flags.Set(k.LTI, true)
	q.queue = append(q.queue, k)
}

// Pop dequeues the oldest queued block update.
func (q *BlockUpdateQueue) Pop() (TileKey, bool) {
	if q.head == len(q.queue) {
		if q.head != 0 {
			q.queue = q.queue[:0]
			q.head = 0
		}
		return TileKey{}, false
	}
	k := q.queue[q.head]
	q.head++
	q.queued.Get(k.Pos, k.CI).Set(k.LTI, false)
	return k, true
}

// AddChunk registers a newly loaded chunk. Must follow the Space.Add call
// assigning ci.
func (q *BlockUpdateQueue) AddChunk(pos ChunkPos, ci int) {
	q.queued.Add(pos, ci, chunk.NewPerTileBool())
}

// RemoveChunk drops the per-tile state of an unloading chunk together with
// the updates still queued in it.
func (q *BlockUpdateQueue) RemoveChunk(pos ChunkPos, ci int) {
	q.queued.Remove(pos, ci)
	// Drop queued keys for the chunk eagerly so that a recycled chunk index
	// cannot alias them onto a different chunk.
	live := q.queue[q.head:]
	q.queue = q.queue[:0]
	q.head = 0
	for _, k := range live {
		if k.Pos != pos || k.CI != ci {
			q.queue = append(q.queue, k)
		}
	}
}
