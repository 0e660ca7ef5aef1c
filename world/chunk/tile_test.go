package chunk

import (
	"testing"
)

func TestTileIndexDense(t *testing.T) {
	seen := make(map[TileIndex]bool, Tiles)
	for x := uint8(0); x < Size; x++ {
		for y := uint8(0); y < Size; y++ {
			for z := uint8(0); z < Size; z++ {
				i := TileIndexAt(x, y, z)
				if i >= Tiles {
					t.Fatalf("index %v of (%v,%v,%v) out of dense range", i, x, y, z)
				}
				if seen[i] {
					t.Fatalf("index %v of (%v,%v,%v) already produced", i, x, y, z)
				}
				seen[i] = true
			}
		}
	}
	if len(seen) != Tiles {
		t.Fatalf("expected %v distinct indices, got %v", Tiles, len(seen))
	}
}

func TestTileIndexRoundTrip(t *testing.T) {
	for i := TileIndex(0); i < Tiles; i++ {
		x, y, z := i.X(), i.Y(), i.Z()
		if x >= Size || y >= Size || z >= Size {
			t.Fatalf("index %v unpacked to out-of-range (%v,%v,%v)", uint16(i), x, y, z)
		}
		if j := TileIndexAt(x, y, z); j != i {
			t.Fatalf("index %v round-tripped to %v", uint16(i), uint16(j))
		}
	}
}

func TestPerTileU1(t *testing.T) {
	p := NewPerTileU1()
	for i := TileIndex(0); i < Tiles; i += 3 {
		p.Set(i, 1)
	}
	for i := TileIndex(0); i < Tiles; i++ {
		want := uint8(0)
		if i%3 == 0 {
			want = 1
		}
		if got := p.At(i); got != want {
			t.Fatalf("bit at %v: got %v, want %v", i, got, want)
		}
	}
	p.Set(3, 0)
	if p.At(3) != 0 {
		t.Fatal("bit at 3 not cleared")
	}
	if p.At(0) != 1 || p.At(6) != 1 {
		t.Fatal("clearing bit 3 disturbed neighbours")
	}
}

func TestPerTileU2U4(t *testing.T) {
	u2 := NewPerTileU2()
	u4 := NewPerTileU4()
	for i := TileIndex(0); i < Tiles; i++ {
		u2.Set(i, uint8(i)%4)
		u4.Set(i, uint8(i)%16)
	}
	for i := TileIndex(0); i < Tiles; i++ {
		if got := u2.At(i); got != uint8(i)%4 {
			t.Fatalf("u2 at %v: got %v, want %v", i, got, uint8(i)%4)
		}
		if got := u4.At(i); got != uint8(i)%16 {
			t.Fatalf("u4 at %v: got %v, want %v", i, got, uint8(i)%16)
		}
	}
}

func TestTileOption(t *testing.T) {
	p := NewTileOption[uint16]()
	if _, ok := p.At(100); ok {
		t.Fatal("fresh option reported a value")
	}
	p.SetSome(100, 7)
	if v, ok := p.At(100); !ok || v != 7 {
		t.Fatalf("got (%v, %v), want (7, true)", v, ok)
	}
	p.SetNone(100)
	if _, ok := p.At(100); ok {
		t.Fatal("value survived SetNone")
	}
}

func TestPerTileFromSliceLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on short slice")
		}
	}()
	PerTileFromSlice(make([]int, Tiles-1))
}

func TestBlocksReplace(t *testing.T) {
	b := NewBlocks(0)
	b.Set(5, 2, "meta")
	oldID, oldMeta := b.Replace(5, 3, nil)
	if oldID != 2 || oldMeta != "meta" {
		t.Fatalf("replace returned (%v, %v)", oldID, oldMeta)
	}
	if b.ID(5) != 3 || b.Meta(5) != nil {
		t.Fatalf("replace stored (%v, %v)", b.ID(5), b.Meta(5))
	}
}
