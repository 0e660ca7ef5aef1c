// Package generator provides the deterministic terrain generators used when
// a requested chunk has no saved data.
package generator

import (
	"math"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Generator fills the block storage of a newly created chunk. Generation is
// a pure function of the generator's configuration and the chunk position,
// so the same chunk generates identically on every run.
type Generator interface {
	GenerateChunk(pos world.ChunkPos, blocks *chunk.Blocks)
}

// Flat generates a flat world: stone up to a fixed height, topped by dirt
// and grass.
type Flat struct {
	Content block.Content
	// Height is the surface height in tiles. The tile at Height-1 is grass.
	Height int
}

// GenerateChunk implements Generator.
func (f Flat) GenerateChunk(pos world.ChunkPos, blocks *chunk.Blocks) {
	fillColumns(pos, blocks, f.Content, 0, func(x, z int) int {
		return f.Height
	})
}

// Noise generates rolling terrain from layered value noise seeded once at
// world creation.
type Noise struct {
	seed    int64
	content block.Content
}

// NewNoise creates a noise generator for the seed passed.
func NewNoise(seed int64, content block.Content) *Noise {
	return &Noise{seed: seed, content: content}
}

// Terrain shaping constants: the surface undulates around midHeight with
// amplitude heightVary, bounded to the loadable world height.
const (
	midHeight  = 15
	heightVary = 9
	sandBelow  = 11
)

// GenerateChunk implements Generator.
func (n *Noise) GenerateChunk(pos world.ChunkPos, blocks *chunk.Blocks) {
	fillColumns(pos, blocks, n.content, sandBelow, func(x, z int) int {
		h := midHeight + int(math.Round(n.fbm(float64(x), float64(z))*heightVary))
		if h < 4 {
			h = 4
		}
		if ceil := world.HeightChunks*chunk.Size - 1; h > ceil {
			h = ceil
		}
		return h
	})
}

// fillColumns fills every column of the chunk from a height function over
// world tile coordinates: stone below the surface band, dirt in it, grass
// (or sand where the surface height is at most sandMax) on top.
func fillColumns(pos world.ChunkPos, blocks *chunk.Blocks, c block.Content, sandMax int, heightAt func(x, z int) int) {
	baseX := int(pos[0]) * chunk.Size
	baseY := int(pos[1]) * chunk.Size
	baseZ := int(pos[2]) * chunk.Size
	for z := 0; z < chunk.Size; z++ {
		for x := 0; x < chunk.Size; x++ {
			h := heightAt(baseX+x, baseZ+z)
			for y := 0; y < chunk.Size; y++ {
				wy := baseY + y
				var bid chunk.BlockID
				switch {
				case wy >= h:
					bid = c.Air
				case wy == h-1:
					if h <= sandMax {
						bid = c.Sand
					} else {
						bid = c.Grass
					}
				case wy >= h-4:
					bid = c.Dirt
				default:
					bid = c.Stone
				}
				if bid != c.Air {
					blocks.Set(chunk.TileIndexAt(uint8(x), uint8(y), uint8(z)), bid, nil)
				}
			}
		}
	}
}

// fbm sums three octaves of value noise.
func (n *Noise) fbm(x, z float64) float64 {
	var (
		sum  float64
		amp  = 1.0
		norm float64
		freq = 1.0 / 48
	)
	for octave := 0; octave < 3; octave++ {
		sum += amp * n.valueNoise(x*freq, z*freq, int64(octave))
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return sum / norm
}

// valueNoise interpolates hashed lattice values with a smoothstep fade,
// returning a value in [-1, 1].
func (n *Noise) valueNoise(x, z float64, octave int64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	tx, tz := x-x0, z-z0
	tx = tx * tx * (3 - 2*tx)
	tz = tz * tz * (3 - 2*tz)

	ix, iz := int64(x0), int64(z0)
	v00 := n.lattice(ix, iz, octave)
	v10 := n.lattice(ix+1, iz, octave)
	v01 := n.lattice(ix, iz+1, octave)
	v11 := n.lattice(ix+1, iz+1, octave)

	top := v00 + (v10-v00)*tx
	bottom := v01 + (v11-v01)*tx
	return top + (bottom-top)*tz
}

// lattice hashes a lattice point to a value in [-1, 1] using a splitmix64
// step over the seed and coordinates.
func (n *Noise) lattice(x, z, octave int64) float64 {
	h := uint64(n.seed) ^ uint64(x)*0x9e3779b97f4a7c15 ^ uint64(z)*0xc2b2ae3d27d4eb4f ^ uint64(octave)*0x165667b19e3779f9
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return float64(h>>11)/float64(1<<52) - 1
}
