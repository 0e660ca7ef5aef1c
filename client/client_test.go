package client_test

import (
	"testing"
	"time"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/client"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/server/session"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// script drives the server end of a pipe by hand, so client behaviour can
// be tested deterministically against exact message sequences.
type script struct {
	t     *testing.T
	conn  session.Conn
	codec *protocol.Codec
	reg   *block.Registry
}

// dial connects a client against a scripted server end, answering the
// login handshake.
func dial(t *testing.T, loadDist uint8) (*client.Client, *script) {
	t.Helper()
	reg, _ := block.DefaultRegistry()
	s := &script{t: t, codec: protocol.NewCodec(reg), reg: reg}
	serverEnd, clientEnd := session.Pipe()
	s.conn = serverEnd

	go func() {
		// Answer the login handshake; failures surface as a failed
		// Connect on the main goroutine.
		if _, err := s.conn.ReadFrame(); err != nil {
			return
		}
		for _, m := range []protocol.DownMsg{protocol.AcceptLogin{}, protocol.ShouldJoinGame{OwnClientKey: 1}} {
			frame, err := s.codec.EncodeDown(m)
			if err != nil {
				return
			}
			if err := s.conn.WriteFrame(frame); err != nil {
				return
			}
		}
	}()
	c, err := client.Connect(clientEnd, client.Config{
		Username: "alice",
		LoadDist: loadDist,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.expectUp() // JoinGame
	s.expectUp() // initial AcceptMoreChunks

	// Put the character into the world so chunks near the origin are
	// inside the client's interest square.
	c.Move([3]float32{8, 24, 8}, 0, 0, false)
	s.expectUp() // SetCharState
	return c, s
}

func (s *script) send(msg protocol.DownMsg) {
	s.t.Helper()
	frame, err := s.codec.EncodeDown(msg)
	if err != nil {
		s.t.Fatalf("encode %T: %v", msg, err)
	}
	if err := s.conn.WriteFrame(frame); err != nil {
		s.t.Fatalf("write %T: %v", msg, err)
	}
}

func (s *script) expectUp() protocol.UpMsg {
	s.t.Helper()
	type result struct {
		msg protocol.UpMsg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			ch <- result{err: err}
			return
		}
		msg, err := s.codec.DecodeUp(frame)
		ch <- result{msg: msg, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			s.t.Fatalf("read up message: %v", r.err)
		}
		return r.msg
	case <-time.After(5 * time.Second):
		s.t.Fatal("timed out waiting for up message")
		return nil
	}
}

// sendChunk ships an all-air chunk (or the blocks passed) to the client.
func (s *script) sendChunk(pos world.ChunkPos, ci uint32, blocks *chunk.Blocks) {
	s.t.Helper()
	if blocks == nil {
		blocks = chunk.NewBlocks(block.Air)
	}
	payload, err := s.codec.PackChunkBlocks(blocks)
	if err != nil {
		s.t.Fatalf("pack chunk: %v", err)
	}
	s.send(protocol.AddChunk{Pos: pos, CI: ci, Blocks: payload})
}

// pump drives the client until the condition holds, failing on timeout.
// The client's mesh workers run asynchronously, so conditions about meshes
// need the pumping.
func pump(t *testing.T, c *client.Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := c.Update(); err != nil {
			t.Fatalf("client closed: %v (%v)", err, c.CloseReason())
		}
		c.Frame()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPredictionAndAckRetirement(t *testing.T) {
	c, s := dial(t, 2)
	defer c.Close()

	_, content := block.DefaultRegistry()
	origin := world.ChunkPos{0, 1, 0}
	s.sendChunk(origin, 0, nil)
	pump(t, c, func() bool { return c.HasChunk(origin) })

	pos := cube.Pos{3, 21, 7}
	if err := c.SetBlock(pos, content.Stone, nil); err != nil {
		t.Fatalf("set block: %v", err)
	}
	// The prediction is visible immediately, before any server reply.
	if bid, ok := c.BlockAt(pos); !ok || bid != content.Stone {
		t.Fatalf("prediction not visible: (%v, %v)", bid, ok)
	}
	if c.PredictionDepth() != 1 {
		t.Fatalf("prediction depth %v", c.PredictionDepth())
	}

	// The proposal reaches the wire.
	msg, ok := s.expectUp().(protocol.SetTileBlock)
	if !ok || msg.Block != content.Stone {
		t.Fatalf("proposal %#v", msg)
	}

	// The authoritative broadcast with the ack retires the prediction and
	// leaves the world unchanged.
	ack := uint64(1)
	s.send(protocol.ApplyEdit{Ack: &ack, Edit: world.TileEdit{
		CI: 0, LTI: chunk.TileIndexFromBlock(pos), Op: world.SetTileBlock{Block: content.Stone},
	}})
	pump(t, c, func() bool { return c.PredictionDepth() == 0 })
	if bid, _ := c.BlockAt(pos); bid != content.Stone {
		t.Fatalf("world changed on confirmation: %v", bid)
	}
}

func TestReconciliationRebasesUnconfirmedPredictions(t *testing.T) {
	c, s := dial(t, 2)
	defer c.Close()

	_, content := block.DefaultRegistry()
	origin := world.ChunkPos{0, 1, 0}
	s.sendChunk(origin, 0, nil)
	pump(t, c, func() bool { return c.HasChunk(origin) })

	pos := cube.Pos{5, 21, 5}
	lti := chunk.TileIndexFromBlock(pos)
	c.SetBlock(pos, content.Dirt, nil)  // up-msg 1
	c.SetBlock(pos, content.Grass, nil) // up-msg 2
	s.expectUp()
	s.expectUp()

	// The server acknowledges the first edit but corrected it to sand. The
	// still-unconfirmed second prediction is re-applied on top, so grass
	// stays visible.
	ack := uint64(1)
	s.send(protocol.ApplyEdit{Ack: &ack, Edit: world.TileEdit{
		CI: 0, LTI: lti, Op: world.SetTileBlock{Block: content.Sand},
	}})
	pump(t, c, func() bool { return c.PredictionDepth() == 1 })
	if bid, _ := c.BlockAt(pos); bid != content.Grass {
		t.Fatalf("unconfirmed prediction lost: %v", bid)
	}

	// Rolling back the remaining prediction now exposes the corrected
	// base: confirm the second edit too but with another correction.
	ack = 2
	s.send(protocol.ApplyEdit{Ack: &ack, Edit: world.TileEdit{
		CI: 0, LTI: lti, Op: world.SetTileBlock{Block: content.Stone},
	}})
	pump(t, c, func() bool { return c.PredictionDepth() == 0 })
	if bid, _ := c.BlockAt(pos); bid != content.Stone {
		t.Fatalf("authoritative correction lost: %v", bid)
	}
}

func TestInterestLossDropsChunkAndPredictions(t *testing.T) {
	c, s := dial(t, 1)
	defer c.Close()

	_, content := block.DefaultRegistry()
	origin := world.ChunkPos{0, 0, 0}
	s.sendChunk(origin, 0, nil)
	pump(t, c, func() bool { return c.HasChunk(origin) })

	pos := cube.Pos{1, 1, 1}
	c.SetBlock(pos, content.Stone, nil) // up-msg 1
	s.expectUp()

	// The character moves far away before the server's reply arrives; the
	// chunk leaves the interest square and its data and predictions go
	// with it.
	c.Move([3]float32{1000, 20, 1000}, 0, 0, false)
	s.expectUp() // SetCharState
	if c.HasChunk(origin) {
		t.Fatal("chunk survived interest loss")
	}
	if c.PredictionDepth() != 0 {
		t.Fatal("predictions survived their chunk")
	}

	// The in-flight authoritative edit for the orphaned index is silently
	// ignored.
	ack := uint64(1)
	s.send(protocol.ApplyEdit{Ack: &ack, Edit: world.TileEdit{
		CI: 0, LTI: chunk.TileIndexFromBlock(pos), Op: world.SetTileBlock{Block: content.Stone},
	}})
	// The removal confirms and frees the index for reuse in the new area.
	s.send(protocol.RemoveChunk{Pos: origin, CI: 0})
	far := world.ChunkPos{62, 0, 62}
	s.sendChunk(far, 0, nil)
	pump(t, c, func() bool { return c.HasChunk(far) })
}

func TestSeamEditDirtiesBothChunks(t *testing.T) {
	c, s := dial(t, 2)
	defer c.Close()

	_, content := block.DefaultRegistry()
	a := world.ChunkPos{0, 1, 0}
	b := world.ChunkPos{1, 1, 0}
	s.sendChunk(a, 0, nil)
	s.sendChunk(b, 1, nil)
	pump(t, c, func() bool {
		ma, okA := c.ChunkMeshAt(a)
		mb, okB := c.ChunkMeshAt(b)
		return okA && okB && ma.Meshed() && mb.Meshed()
	})
	// Settle outstanding dirty state from the chunks loading next to each
	// other.
	c.Frame()

	// A block on the seam: tile (15,_,_) of chunk a touches tile (0,_,_)
	// of chunk b.
	pos := cube.Pos{15, 21, 7}
	lti := chunk.TileIndexFromBlock(pos)
	if err := c.SetBlock(pos, content.Stone, nil); err != nil {
		t.Fatalf("set block: %v", err)
	}
	ma, _ := c.ChunkMeshAt(a)
	mb, _ := c.ChunkMeshAt(b)
	if !ma.Dirty() {
		t.Fatal("own chunk not dirtied")
	}
	if !mb.Dirty() {
		t.Fatal("seam neighbour not dirtied")
	}

	c.Frame()
	if ma.Dirty() || mb.Dirty() {
		t.Fatal("flush left chunks dirty")
	}
	if _, ok := ma.SubmeshKey(lti); !ok {
		t.Fatal("seam block has no submesh")
	}
	// Every neighbour of the block is loaded air, the east one across the
	// seam in chunk b: all six faces mesh, one quad each, and they are the
	// only geometry in chunk a.
	if got := len(ma.Differ().Indices()); got != 6*6 {
		t.Fatalf("seam block meshed %v indices, want 36", got)
	}
}

func TestInventorySlotPrediction(t *testing.T) {
	c, s := dial(t, 1)
	defer c.Close()

	stack := &item.Stack{ID: 3, Count: 12}
	if err := c.SetSlot(7, stack); err != nil {
		t.Fatalf("set slot: %v", err)
	}
	if got := c.Inventory().Slots[7]; got == nil || got.Count != 12 {
		t.Fatalf("slot prediction not visible: %#v", got)
	}
	s.expectUp()

	ack := uint64(1)
	s.send(protocol.ApplyEdit{Ack: &ack, Edit: world.InventorySlotEdit{
		Slot: 7, Op: world.SetItemSlot{Stack: stack},
	}})
	pump(t, c, func() bool { return c.PredictionDepth() == 0 })
	if got := c.Inventory().Slots[7]; got == nil || got.ID != 3 {
		t.Fatalf("slot state after confirmation: %#v", got)
	}
}
