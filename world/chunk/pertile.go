package chunk

// PerTile is storage of one T for every tile of a chunk, backed by a single
// heap allocation.
type PerTile[T any] struct {
	v *[Tiles]T
}

// NewPerTile creates a PerTile with the zero value of T in every slot.
func NewPerTile[T any]() PerTile[T] {
	return PerTile[T]{v: new([Tiles]T)}
}

// PerTileRepeat creates a PerTile with every slot set to val.
func PerTileRepeat[T any](val T) PerTile[T] {
	p := NewPerTile[T]()
	for i := range p.v {
		p.v[i] = val
	}
	return p
}

// PerTileFunc creates a PerTile by calling f once for each of the Tiles tile
// indices, in increasing index order.
func PerTileFunc[T any](f func(i TileIndex) T) PerTile[T] {
	p := NewPerTile[T]()
	for i := range p.v {
		p.v[i] = f(TileIndex(i))
	}
	return p
}

// PerTileFromSlice creates a PerTile from a slice that must hold exactly
// Tiles values. It panics otherwise.
func PerTileFromSlice[T any](s []T) PerTile[T] {
	if len(s) != Tiles {
		panic("chunk.PerTileFromSlice: slice must hold exactly one value per tile")
	}
	p := NewPerTile[T]()
	copy(p.v[:], s)
	return p
}

// At returns the value stored for the tile index passed.
func (p PerTile[T]) At(i TileIndex) T {
	return p.v[i]
}

// Set stores a value for the tile index passed.
func (p PerTile[T]) Set(i TileIndex, val T) {
	p.v[i] = val
}

// All returns the backing array of the PerTile. The array is shared, not
// copied.
func (p PerTile[T]) All() *[Tiles]T {
	return p.v
}
