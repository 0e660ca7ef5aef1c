// Package save implements the durable key-value store backing the server:
// chunk block data and player state, binary-schema encoded, compressed and
// committed in atomic batches.
package save

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/schema"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Key space prefixes. Every key is one prefix byte followed by the encoded
// key payload.
const (
	keyMeta   = 0x00
	keyChunk  = 0x01
	keyPlayer = 0x02
)

// ErrFingerprintMismatch is returned by Open when the save was written
// under a different registry than the one opening it.
var ErrFingerprintMismatch = errors.New("save: registry fingerprint mismatch")

// PlayerData is the saved state of a player.
type PlayerData struct {
	Pos            mgl32.Vec3
	InventorySlots [item.InventorySize]*item.Stack
}

// ChunkEntry is one chunk in a commit.
type ChunkEntry struct {
	Pos    world.ChunkPos
	Blocks *chunk.Blocks
}

// PlayerEntry is one player in a commit.
type PlayerEntry struct {
	ID   uuid.UUID
	Data PlayerData
}

// DB is an open save database. Reads may be issued from any goroutine;
// writes go through Commit, which serialises them onto a single writer
// goroutine while keeping the written values readable immediately
// (read-your-writes within the process).
type DB struct {
	ldb *leveldb.DB
	reg *block.Registry
	log *slog.Logger

	playerSchema *schema.Schema

	zenc *zstd.Encoder
	zdec *zstd.Decoder

	mu      sync.Mutex
	pending map[string][]byte

	commits chan commitReq
	closing chan struct{}
	done    sync.WaitGroup
}

type commitReq struct {
	batch  *leveldb.Batch
	keys   []string
	onDone func(err error)
}

// Open opens (or creates) the save database in the directory passed. It
// refuses to open a save written under a registry with a different
// fingerprint, returning an error wrapping ErrFingerprintMismatch.
func Open(dir string, reg *block.Registry, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("save: create %v: %w", dir, err)
	}
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("save: open %v: %w", dir, err)
	}
	zenc, _ := zstd.NewWriter(nil)
	zdec, _ := zstd.NewReader(nil)
	db := &DB{
		ldb: ldb,
		reg: reg,
		log: log,
		playerSchema: schema.Struct("PlayerData",
			schema.Field("pos", schema.Tuple(schema.F32(), schema.F32(), schema.F32())),
			schema.Field("inventory_slots", schema.Array(item.InventorySize, item.SlotSchema())),
		),
		zenc:    zenc,
		zdec:    zdec,
		pending: make(map[string][]byte),
		commits: make(chan commitReq, 16),
		closing: make(chan struct{}),
	}
	if err := db.checkFingerprint(); err != nil {
		ldb.Close()
		return nil, err
	}
	db.done.Add(1)
	go db.writerLoop()
	return db, nil
}

func (db *DB) checkFingerprint() error {
	key := []byte{keyMeta, 'f'}
	want := db.reg.Fingerprint()
	raw, err := db.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], want)
		return db.ldb.Put(key, buf[:], nil)
	}
	if err != nil {
		return fmt.Errorf("save: read fingerprint: %w", err)
	}
	if len(raw) != 8 {
		return fmt.Errorf("save: fingerprint entry is %d bytes", len(raw))
	}
	if got := binary.LittleEndian.Uint64(raw); got != want {
		return fmt.Errorf("%w: save has %#x, registry has %#x", ErrFingerprintMismatch, got, want)
	}
	return nil
}

// Close flushes pending commits and closes the database.
func (db *DB) Close() error {
	close(db.closing)
	db.done.Wait()
	return db.ldb.Close()
}

func (db *DB) writerLoop() {
	defer db.done.Done()
	for {
		select {
		case req := <-db.commits:
			db.write(req)
		case <-db.closing:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case req := <-db.commits:
					db.write(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) write(req commitReq) {
	err := db.ldb.Write(req.batch, nil)
	db.mu.Lock()
	for _, k := range req.keys {
		delete(db.pending, k)
	}
	db.mu.Unlock()
	if req.onDone != nil {
		req.onDone(err)
	}
}

// Commit atomically persists the chunk and player entries passed. The
// entries are encoded synchronously, so the caller may mutate them freely
// once Commit returns; the disk write happens on the writer goroutine, and
// onDone is called from that goroutine with its result. Until then, reads
// of the committed keys are served from the in-flight values.
func (db *DB) Commit(chunks []ChunkEntry, players []PlayerEntry, onDone func(err error)) error {
	batch := new(leveldb.Batch)
	keys := make([]string, 0, len(chunks)+len(players))
	staged := make(map[string][]byte, len(chunks)+len(players))

	for _, e := range chunks {
		raw, err := db.reg.AppendBlocks(e.Blocks)
		if err != nil {
			return fmt.Errorf("save: encode chunk %v: %w", e.Pos, err)
		}
		val := db.pack(raw)
		k := chunkKey(e.Pos)
		batch.Put(k, val)
		keys = append(keys, string(k))
		staged[string(k)] = val
	}
	for _, e := range players {
		raw, err := db.encodePlayer(e.Data)
		if err != nil {
			return fmt.Errorf("save: encode player %v: %w", e.ID, err)
		}
		val := db.pack(raw)
		k := playerKey(e.ID)
		batch.Put(k, val)
		keys = append(keys, string(k))
		staged[string(k)] = val
	}

	db.mu.Lock()
	for k, v := range staged {
		db.pending[k] = v
	}
	db.mu.Unlock()

	select {
	case db.commits <- commitReq{batch: batch, keys: keys, onDone: onDone}:
		return nil
	case <-db.closing:
		return errors.New("save: database closing")
	}
}

// LoadChunk reads a chunk's block data. The second return is false if the
// chunk was never saved.
func (db *DB) LoadChunk(pos world.ChunkPos) (*chunk.Blocks, bool, error) {
	raw, ok, err := db.get(chunkKey(pos))
	if err != nil || !ok {
		return nil, ok, err
	}
	b, err := db.reg.BlocksFromBytes(raw)
	if err != nil {
		return nil, true, fmt.Errorf("save: decode chunk %v: %w", pos, err)
	}
	return b, true, nil
}

// LoadPlayer reads a player's saved state. The second return is false if
// the player was never saved.
func (db *DB) LoadPlayer(id uuid.UUID) (PlayerData, bool, error) {
	raw, ok, err := db.get(playerKey(id))
	if err != nil || !ok {
		return PlayerData{}, ok, err
	}
	data, err := db.decodePlayer(raw)
	if err != nil {
		return PlayerData{}, true, fmt.Errorf("save: decode player %v: %w", id, err)
	}
	return data, true, nil
}

func (db *DB) get(key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	val, staged := db.pending[string(key)]
	db.mu.Unlock()
	if !staged {
		var err error
		val, err = db.ldb.Get(key, nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("save: read: %w", err)
		}
	}
	raw, err := db.unpack(val)
	if err != nil {
		return nil, true, err
	}
	return raw, true, nil
}

// pack produces the stored value layout: the uncompressed length as a
// varint, then the zstd-compressed payload. The explicit length bounds the
// decompression and catches truncated values before decoding is attempted.
func (db *DB) pack(raw []byte) []byte {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(raw)))
	return db.zenc.EncodeAll(raw, hdr[:n])
}

func (db *DB) unpack(val []byte) ([]byte, error) {
	want, n := binary.Uvarint(val)
	if n <= 0 {
		return nil, errors.New("save: value missing length prefix")
	}
	raw, err := db.zdec.DecodeAll(val[n:], make([]byte, 0, want))
	if err != nil {
		return nil, fmt.Errorf("save: decompress: %w", err)
	}
	if uint64(len(raw)) != want {
		return nil, fmt.Errorf("save: value declares %d bytes, holds %d", want, len(raw))
	}
	return raw, nil
}

func (db *DB) encodePlayer(data PlayerData) ([]byte, error) {
	var buf bytes.Buffer
	e := schema.NewEncoder(db.playerSchema, &buf)
	if err := e.BeginStruct(); err != nil {
		return nil, err
	}
	if err := e.BeginTuple(); err != nil {
		return nil, err
	}
	for i := 0; i < 3; i++ {
		if err := e.F32(data.Pos[i]); err != nil {
			return nil, err
		}
	}
	if err := e.BeginArray(); err != nil {
		return nil, err
	}
	for _, slot := range data.InventorySlots {
		if err := item.EncodeSlot(e, slot); err != nil {
			return nil, err
		}
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (db *DB) decodePlayer(raw []byte) (PlayerData, error) {
	var data PlayerData
	d := schema.NewDecoder(db.playerSchema, bytes.NewReader(raw))
	if err := d.BeginStruct(); err != nil {
		return data, err
	}
	if err := d.BeginTuple(); err != nil {
		return data, err
	}
	for i := 0; i < 3; i++ {
		v, err := d.F32()
		if err != nil {
			return data, err
		}
		data.Pos[i] = v
	}
	if _, err := d.BeginArray(); err != nil {
		return data, err
	}
	for i := range data.InventorySlots {
		slot, err := item.DecodeSlot(d)
		if err != nil {
			return data, err
		}
		data.InventorySlots[i] = slot
	}
	if err := d.Finish(); err != nil {
		return data, err
	}
	return data, nil
}

func chunkKey(pos world.ChunkPos) []byte {
	k := make([]byte, 13)
	k[0] = keyChunk
	binary.BigEndian.PutUint32(k[1:], uint32(pos[0]))
	binary.BigEndian.PutUint32(k[5:], uint32(pos[1]))
	binary.BigEndian.PutUint32(k[9:], uint32(pos[2]))
	return k
}

func playerKey(id uuid.UUID) []byte {
	k := make([]byte, 17)
	k[0] = keyPlayer
	copy(k[1:], id[:])
	return k
}
