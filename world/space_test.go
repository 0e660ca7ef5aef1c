package world

import (
	"testing"

	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/world/chunk"
)

func TestSplitBlockPosRoundTrip(t *testing.T) {
	positions := []cube.Pos{
		{0, 0, 0},
		{15, 15, 15},
		{16, 16, 16},
		{-1, 0, -1},
		{-16, 0, -17},
		{1 << 26, 255, -(1 << 26)},
		{3, 5, 7},
	}
	for _, pos := range positions {
		cp, lti := SplitBlockPos(pos)
		if got := cp.BlockPos(lti); got != pos {
			t.Fatalf("%v split to (%v, %v), joined back to %v", pos, cp, lti, got)
		}
	}
}

func TestSplitBlockPosExhaustiveNearOrigin(t *testing.T) {
	for x := -40; x < 40; x++ {
		for y := 0; y < 32; y++ {
			for z := -40; z < 40; z++ {
				pos := cube.Pos{x, y, z}
				cp, lti := SplitBlockPos(pos)
				if lti.X() >= 16 || lti.Y() >= 16 || lti.Z() >= 16 {
					t.Fatalf("%v produced out-of-range local coords %v", pos, lti)
				}
				if got := cp.BlockPos(lti); got != pos {
					t.Fatalf("%v round-tripped to %v", pos, got)
				}
			}
		}
	}
}

func TestSpaceAssignsAndRecyclesIndices(t *testing.T) {
	s := NewSpace()
	a := s.Add(ChunkPos{0, 0, 0})
	b := s.Add(ChunkPos{1, 0, 0})
	c := s.Add(ChunkPos{2, 0, 0})
	if a == b || b == c || a == c {
		t.Fatalf("indices not distinct: %v %v %v", a, b, c)
	}
	if got := s.Remove(ChunkPos{1, 0, 0}); got != b {
		t.Fatalf("remove returned %v, want %v", got, b)
	}
	if got := s.Add(ChunkPos{9, 1, 9}); got != b {
		t.Fatalf("freed index %v not recycled, got %v", b, got)
	}
	if ci, ok := s.Index(ChunkPos{9, 1, 9}); !ok || ci != b {
		t.Fatalf("lookup after recycle: (%v, %v)", ci, ok)
	}
	if _, ok := s.Index(ChunkPos{1, 0, 0}); ok {
		t.Fatal("removed chunk still resolvable")
	}
}

func TestPerChunkAgreesWithSpace(t *testing.T) {
	s := NewSpace()
	var pc PerChunk[int]
	for i := 0; i < 5; i++ {
		pos := ChunkPos{int32(i), 0, 0}
		ci := s.Add(pos)
		pc.Add(pos, ci, i*10)
	}
	pos := ChunkPos{3, 0, 0}
	ci, _ := s.Index(pos)
	if got := *pc.Get(pos, ci); got != 30 {
		t.Fatalf("got %v, want 30", got)
	}

	s.Remove(pos)
	if got := pc.Remove(pos, ci); got != 30 {
		t.Fatalf("remove returned %v", got)
	}

	// Both the space and the storage recycle the index for the next add.
	pos2 := ChunkPos{100, 1, -3}
	ci2 := s.Add(pos2)
	if ci2 != ci {
		t.Fatalf("space assigned %v, want recycled %v", ci2, ci)
	}
	pc.Add(pos2, ci2, 77)
	if got := *pc.Get(pos2, ci2); got != 77 {
		t.Fatalf("got %v, want 77", got)
	}
}

func TestPerChunkPanicsOnDisagreement(t *testing.T) {
	var pc PerChunk[int]
	pc.Add(ChunkPos{0, 0, 0}, 0, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on chunk position disagreement")
		}
	}()
	pc.Get(ChunkPos{1, 0, 0}, 0)
}

func TestGetterCachesAcrossNeighbourhood(t *testing.T) {
	s := NewSpace()
	center := ChunkPos{0, 0, 0}
	s.Add(center)
	for _, f := range cube.Faces() {
		s.Add(center.Side(f))
	}
	g := s.Getter()
	if _, ok := g.Chunk(center); !ok {
		t.Fatal("center not resolvable")
	}
	for _, f := range cube.Faces() {
		if _, ok := g.Chunk(center.Side(f)); !ok {
			t.Fatalf("neighbour at %v not resolvable", f)
		}
	}
	// All seven now come from cache; a removal invalidates it.
	s.Remove(center.Side(cube.FaceUp))
	if _, ok := g.Chunk(center.Side(cube.FaceUp)); ok {
		t.Fatal("stale cache entry served a removed chunk")
	}
}

func TestApplyTileOpInverse(t *testing.T) {
	s := NewSpace()
	pos := ChunkPos{0, 0, 0}
	ci := s.Add(pos)

	var blocks PerChunk[*chunk.Blocks]
	blocks.Add(pos, ci, chunk.NewBlocks(0))
	updates := NewBlockUpdateQueue()
	updates.AddChunk(pos, ci)
	g := s.Getter()

	lti := chunk.TileIndexAt(3, 5, 7)
	op := SetTileBlock{Block: 2, Meta: nil}
	inverse := ApplyTileOp(pos, ci, lti, op, g, &blocks, updates)

	if got := (*blocks.Get(pos, ci)).ID(lti); got != 2 {
		t.Fatalf("block after apply: %v", got)
	}
	inv, ok := inverse.(SetTileBlock)
	if !ok {
		t.Fatalf("inverse is %T", inverse)
	}
	if inv.Block != 0 || inv.Meta != nil {
		t.Fatalf("inverse holds (%v, %v)", inv.Block, inv.Meta)
	}

	ApplyTileOp(pos, ci, lti, inv, g, &blocks, updates)
	if got := (*blocks.Get(pos, ci)).ID(lti); got != 0 {
		t.Fatalf("block after inverse: %v", got)
	}
}

func TestApplyTileOpQueuesNeighbourhoodUpdates(t *testing.T) {
	s := NewSpace()
	pos := ChunkPos{0, 0, 0}
	ci := s.Add(pos)

	var blocks PerChunk[*chunk.Blocks]
	blocks.Add(pos, ci, chunk.NewBlocks(0))
	updates := NewBlockUpdateQueue()
	updates.AddChunk(pos, ci)
	g := s.Getter()

	// An interior tile: all 27 positions of the neighbourhood are loaded.
	ApplyTileOp(pos, ci, chunk.TileIndexAt(8, 8, 8), SetTileBlock{Block: 1}, g, &blocks, updates)
	n := 0
	for {
		if _, ok := updates.Pop(); !ok {
			break
		}
		n++
	}
	if n != 27 {
		t.Fatalf("queued %v updates, want 27", n)
	}

	// A corner tile: only the tiles within the single loaded chunk are
	// queued, the rest of the neighbourhood is unloaded.
	ApplyTileOp(pos, ci, chunk.TileIndexAt(0, 0, 0), SetTileBlock{Block: 1}, g, &blocks, updates)
	n = 0
	for {
		if _, ok := updates.Pop(); !ok {
			break
		}
		n++
	}
	if n != 8 {
		t.Fatalf("queued %v updates at corner, want 8", n)
	}
}

func TestBlockUpdateQueueDeduplicates(t *testing.T) {
	s := NewSpace()
	pos := ChunkPos{0, 0, 0}
	ci := s.Add(pos)
	q := NewBlockUpdateQueue()
	q.AddChunk(pos, ci)

	k := TileKey{Pos: pos, CI: ci, LTI: chunk.TileIndexAt(1, 2, 3)}
	q.EnqueueKey(k)
	q.EnqueueKey(k)
	if got, ok := q.Pop(); !ok || got != k {
		t.Fatalf("pop: (%v, %v)", got, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("duplicate enqueue produced a second update")
	}
	// Popping re-arms the tile.
	q.EnqueueKey(k)
	if _, ok := q.Pop(); !ok {
		t.Fatal("re-enqueue after pop did not queue")
	}
}
