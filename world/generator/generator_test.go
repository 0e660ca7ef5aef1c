package generator

import (
	"testing"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

func TestNoiseDeterministic(t *testing.T) {
	_, content := block.DefaultRegistry()
	pos := world.ChunkPos{3, 0, -7}

	a := chunk.NewBlocks(content.Air)
	NewNoise(42, content).GenerateChunk(pos, a)
	b := chunk.NewBlocks(content.Air)
	NewNoise(42, content).GenerateChunk(pos, b)
	for i := chunk.TileIndex(0); i < chunk.Tiles; i++ {
		if a.ID(i) != b.ID(i) {
			t.Fatalf("tile %v differs between runs of the same seed", i)
		}
	}

	c := chunk.NewBlocks(content.Air)
	NewNoise(43, content).GenerateChunk(pos, c)
	same := true
	for i := chunk.TileIndex(0); i < chunk.Tiles; i++ {
		if a.ID(i) != c.ID(i) {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different seeds generated identical terrain")
	}
}

func TestNoiseTerrainShape(t *testing.T) {
	_, content := block.DefaultRegistry()
	gen := NewNoise(7, content)

	bottom := chunk.NewBlocks(content.Air)
	gen.GenerateChunk(world.ChunkPos{0, 0, 0}, bottom)
	top := chunk.NewBlocks(content.Air)
	gen.GenerateChunk(world.ChunkPos{0, 1, 0}, top)

	for x := uint8(0); x < chunk.Size; x++ {
		for z := uint8(0); z < chunk.Size; z++ {
			if bottom.ID(chunk.TileIndexAt(x, 0, z)) == content.Air {
				t.Fatalf("column (%v,%v) has air at bedrock level", x, z)
			}
			if top.ID(chunk.TileIndexAt(x, chunk.Size-1, z)) != content.Air {
				t.Fatalf("column (%v,%v) reaches the world ceiling", x, z)
			}
			// Exactly one surface block per column: grass or sand.
			surfaces := 0
			for y := 0; y < 2*chunk.Size; y++ {
				var bid chunk.BlockID
				if y < chunk.Size {
					bid = bottom.ID(chunk.TileIndexAt(x, uint8(y), z))
				} else {
					bid = top.ID(chunk.TileIndexAt(x, uint8(y-chunk.Size), z))
				}
				if bid == content.Grass || bid == content.Sand {
					surfaces++
				}
			}
			if surfaces != 1 {
				t.Fatalf("column (%v,%v) has %v surface blocks", x, z, surfaces)
			}
		}
	}
}

func TestFlatGenerator(t *testing.T) {
	_, content := block.DefaultRegistry()
	blocks := chunk.NewBlocks(content.Air)
	Flat{Content: content, Height: 8}.GenerateChunk(world.ChunkPos{0, 0, 0}, blocks)
	if blocks.ID(chunk.TileIndexAt(4, 7, 4)) != content.Grass {
		t.Fatalf("surface is %v", blocks.ID(chunk.TileIndexAt(4, 7, 4)))
	}
	if blocks.ID(chunk.TileIndexAt(4, 8, 4)) != content.Air {
		t.Fatal("air above surface missing")
	}
	if blocks.ID(chunk.TileIndexAt(4, 0, 4)) != content.Stone {
		t.Fatal("stone base missing")
	}
}
