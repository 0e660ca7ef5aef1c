package save

import (
	"errors"
	"testing"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

func openTestDB(t *testing.T, dir string, reg *block.Registry) *DB {
	t.Helper()
	db, err := Open(dir, reg, nil)
	if err != nil {
		t.Fatalf("open save: %v", err)
	}
	return db
}

func commitWait(t *testing.T, db *DB, chunks []ChunkEntry, players []PlayerEntry) {
	t.Helper()
	done := make(chan error, 1)
	if err := db.Commit(chunks, players, func(err error) { done <- err }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("commit write: %v", err)
	}
}

func TestChunkRoundTripThroughDisk(t *testing.T) {
	reg, content := block.DefaultRegistry()
	dir := t.TempDir()
	db := openTestDB(t, dir, reg)

	pos := world.ChunkPos{3, 1, -2}
	b := chunk.NewBlocks(content.Stone)
	b.Set(chunk.TileIndexAt(1, 2, 3), content.Grass, nil)
	var meta block.ChestMeta
	meta.Slots[0] = &item.Stack{ID: 1, Count: 5}
	b.Set(chunk.TileIndexAt(4, 4, 4), content.Chest, meta)

	commitWait(t, db, []ChunkEntry{{Pos: pos, Blocks: b}}, nil)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and read back, as a restarted server would.
	db = openTestDB(t, dir, reg)
	defer db.Close()
	got, ok, err := db.LoadChunk(pos)
	if err != nil || !ok {
		t.Fatalf("load: (%v, %v)", ok, err)
	}
	for i := chunk.TileIndex(0); i < chunk.Tiles; i++ {
		if got.ID(i) != b.ID(i) {
			t.Fatalf("tile %v: %v, want %v", i, got.ID(i), b.ID(i))
		}
	}
	gotMeta, ok := got.Meta(chunk.TileIndexAt(4, 4, 4)).(block.ChestMeta)
	if !ok || gotMeta.Slots[0] == nil || gotMeta.Slots[0].Count != 5 {
		t.Fatalf("chest meta did not survive: %#v", got.Meta(chunk.TileIndexAt(4, 4, 4)))
	}

	if _, ok, err := db.LoadChunk(world.ChunkPos{9, 0, 9}); ok || err != nil {
		t.Fatalf("unsaved chunk: (%v, %v)", ok, err)
	}
}

func TestReadYourWritesBeforeCommitLands(t *testing.T) {
	reg, content := block.DefaultRegistry()
	db := openTestDB(t, t.TempDir(), reg)
	defer db.Close()

	pos := world.ChunkPos{0, 0, 0}
	b := chunk.NewBlocks(content.Dirt)
	release := make(chan error, 1)
	if err := db.Commit([]ChunkEntry{{Pos: pos, Blocks: b}}, nil, func(err error) { release <- err }); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Regardless of whether the writer goroutine has landed the batch yet,
	// the chunk must be readable.
	got, ok, err := db.LoadChunk(pos)
	if err != nil || !ok {
		t.Fatalf("load during commit: (%v, %v)", ok, err)
	}
	if got.ID(0) != content.Dirt {
		t.Fatalf("tile 0: %v", got.ID(0))
	}
	<-release
}

func TestPlayerRoundTrip(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	db := openTestDB(t, t.TempDir(), reg)
	defer db.Close()

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("alice"))
	data := PlayerData{Pos: mgl32.Vec3{1, 20, -3}}
	data.InventorySlots[7] = &item.Stack{ID: 2, Count: 17}

	commitWait(t, db, nil, []PlayerEntry{{ID: id, Data: data}})

	got, ok, err := db.LoadPlayer(id)
	if err != nil || !ok {
		t.Fatalf("load: (%v, %v)", ok, err)
	}
	if got.Pos != data.Pos || got.InventorySlots[7] == nil || got.InventorySlots[7].Count != 17 {
		t.Fatalf("player data did not survive: %#v", got)
	}
	if _, ok, _ := db.LoadPlayer(uuid.New()); ok {
		t.Fatal("unknown player reported as saved")
	}
}

func TestFingerprintMismatchRefusesToOpen(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	dir := t.TempDir()
	db := openTestDB(t, dir, reg)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	other := block.NewRegistry()
	other.Register(block.Def{Name: "different", Opaque: true})
	if _, err := Open(dir, other, nil); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("open under different registry: %v", err)
	}
}

func TestCorruptValueFailsStructured(t *testing.T) {
	reg, content := block.DefaultRegistry()
	dir := t.TempDir()
	db := openTestDB(t, dir, reg)

	pos := world.ChunkPos{1, 0, 1}
	commitWait(t, db, []ChunkEntry{{Pos: pos, Blocks: chunk.NewBlocks(content.Stone)}}, nil)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Truncate the stored value behind the save layer's back.
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	key := chunkKey(pos)
	val, err := ldb.Get(key, nil)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if err := ldb.Put(key, val[:len(val)/2], nil); err != nil {
		t.Fatalf("raw put: %v", err)
	}
	if err := ldb.Close(); err != nil {
		t.Fatalf("raw close: %v", err)
	}

	db = openTestDB(t, dir, reg)
	defer db.Close()
	if _, _, err := db.LoadChunk(pos); err == nil {
		t.Fatal("corrupted chunk value loaded successfully")
	}
}

func TestTrackerQueuesAndDrains(t *testing.T) {
	tr := NewTracker()
	a := ChunkRef{Pos: world.ChunkPos{0, 0, 0}, CI: 0}
	b := ChunkRef{Pos: world.ChunkPos{1, 0, 0}, CI: 1}
	tr.AddChunk(a.Pos, a.CI, true)
	tr.AddChunk(b.Pos, b.CI, false)

	tr.MarkChunkUnsaved(a.Pos, a.CI)
	tr.MarkChunkUnsaved(a.Pos, a.CI)

	chunks, players := tr.Drain()
	if len(players) != 0 {
		t.Fatalf("unexpected players %v", players)
	}
	if len(chunks) != 2 {
		t.Fatalf("drained %v chunks, want 2 (a marked once, b unsaved from birth)", len(chunks))
	}
	if !tr.Empty() {
		t.Fatal("tracker not empty after drain")
	}

	// Unsaved chunks leaving the world report that they need a final flush.
	tr.MarkChunkUnsaved(b.Pos, b.CI)
	if !tr.RemoveChunk(b.Pos, b.CI) {
		t.Fatal("unsaved chunk removal not reported")
	}
	if tr.RemoveChunk(a.Pos, a.CI) {
		t.Fatal("saved chunk removal reported as unsaved")
	}
	if !tr.Empty() {
		t.Fatal("removal left queue entries behind")
	}
}
