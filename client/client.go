// Package client implements the game client's replicated world: the
// connection handshake, the client-side chunk space fed by AddChunk and
// RemoveChunk, client-side prediction with server reconciliation, and the
// incremental chunk meshing pipeline.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/client/mesh"
	"github.com/notminecraft/notminecraft/client/meshing"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/internal/abort"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/server/session"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// ErrClosed is returned by Update once the connection is gone. Use
// CloseReason for the server's diagnostic.
var ErrClosed = errors.New("client: connection closed")

// Config contains options for connecting a client.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Registry is the block registry. It must match the server's; the
	// server verifies that through the fingerprint during login. If nil,
	// the default registry is used.
	Registry *block.Registry
	// Username is the name to log in under.
	Username string
	// LoadDist is the load distance to request, in chunks.
	LoadDist uint8
	// AcceptWindow is the chunk credit granted to the server at a time:
	// the server never has more than this many unacknowledged AddChunk
	// messages in flight. If zero, it defaults to 8.
	AcceptWindow uint32
	// MeshWorkers is the number of goroutines meshing freshly received
	// chunks. If zero or lower, it is derived from the host's CPUs.
	MeshWorkers int
	// NewVertexBuffer and NewIndexBuffer create the GPU buffers backing a
	// chunk mesh. If nil, in-memory buffers are used, which suits headless
	// clients and tests.
	NewVertexBuffer func() mesh.Buffer[mesh.Vertex]
	NewIndexBuffer  func() mesh.Buffer[uint32]
}

// RemoteClient is another player as known to this client.
type RemoteClient struct {
	Username string
	Char     protocol.CharState
}

// chunkEntry is the client's per-chunk state. A chunk whose interest was
// lost before the server's RemoveChunk arrives is orphaned: its data is
// dropped but its index stays reserved so that index assignment keeps
// agreeing with the server.
type chunkEntry struct {
	blocks *chunk.Blocks
	mesh   *meshing.ChunkMesh
}

func (e *chunkEntry) live() bool {
	return e.blocks != nil
}

// Client is a connected game client owning its replica of the world. It is
// not safe for concurrent use: one goroutine, the client game loop, calls
// its methods.
type Client struct {
	conf  Config
	log   *slog.Logger
	reg   *block.Registry
	codec *protocol.Codec
	conn  session.Conn

	msgs        chan protocol.DownMsg
	readErr     chan string
	meshJobs    chan meshJob
	meshResults chan meshResult

	space   *world.Space
	getter  *world.Getter
	chunks  world.PerChunk[chunkEntry]
	blocks  world.PerChunk[*chunk.Blocks]
	updates *world.BlockUpdateQueue

	meshGuards map[world.ChunkPos]*abort.Guard

	predictions map[scope][]prediction
	upMsgs      uint64

	ownKey uint32
	char   protocol.CharState
	inv    item.Inventory
	others map[uint32]*RemoteClient
	chat   []protocol.ChatLine

	// addsUnacked counts AddChunk messages received since credit was last
	// granted.
	addsUnacked uint32

	closed      bool
	closeReason string
}

type meshJob struct {
	pos   world.ChunkPos
	ci    int
	snap  *meshing.Snapshot
	guard *abort.Guard
}

type meshResult struct {
	pos   world.ChunkPos
	ci    int
	tiles []meshing.TileMesh
	guard *abort.Guard
}

// Connect logs in over the connection passed and joins the game. It
// returns once the server has accepted the login, with the restored
// inventory applied.
func Connect(conn session.Conn, conf Config) (*Client, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Registry == nil {
		conf.Registry, _ = block.DefaultRegistry()
	}
	if conf.AcceptWindow == 0 {
		conf.AcceptWindow = 8
	}
	if conf.MeshWorkers <= 0 {
		conf.MeshWorkers = max(runtime.NumCPU()/2, 1)
	}
	if conf.NewVertexBuffer == nil {
		conf.NewVertexBuffer = func() mesh.Buffer[mesh.Vertex] { return mesh.NewMemBuffer[mesh.Vertex]() }
	}
	if conf.NewIndexBuffer == nil {
		conf.NewIndexBuffer = func() mesh.Buffer[uint32] { return mesh.NewMemBuffer[uint32]() }
	}

	c := &Client{
		conf:        conf,
		log:         conf.Log,
		reg:         conf.Registry,
		codec:       protocol.NewCodec(conf.Registry),
		conn:        conn,
		msgs:        make(chan protocol.DownMsg, 1024),
		readErr:     make(chan string, 1),
		meshJobs:    make(chan meshJob, 64),
		meshResults: make(chan meshResult, 64),
		space:       world.NewSpace(),
		updates:     world.NewBlockUpdateQueue(),
		meshGuards:  make(map[world.ChunkPos]*abort.Guard),
		predictions: make(map[scope][]prediction),
		others:      make(map[uint32]*RemoteClient),
	}
	c.getter = c.space.Getter()

	if err := c.logIn(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	for i := 0; i < conf.MeshWorkers; i++ {
		go c.meshWorker()
	}
	c.send(protocol.AcceptMoreChunks{N: conf.AcceptWindow})
	return c, nil
}

// logIn performs the synchronous first exchange: LogIn, then either Close
// or AcceptLogin followed by ShouldJoinGame, answered with JoinGame.
func (c *Client) logIn() error {
	if err := c.writeMsg(protocol.LogIn{Username: c.conf.Username, Fingerprint: c.reg.Fingerprint()}); err != nil {
		return err
	}
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("client: connection lost during login: %w", err)
		}
		msg, err := c.codec.DecodeDown(frame)
		if err != nil {
			return fmt.Errorf("client: malformed login reply: %w", err)
		}
		switch msg := msg.(type) {
		case protocol.Close:
			return fmt.Errorf("client: login refused: %v", msg.Message)
		case protocol.AcceptLogin:
			c.inv.Slots = msg.InventorySlots
		case protocol.ShouldJoinGame:
			c.ownKey = msg.OwnClientKey
			return c.writeMsg(protocol.JoinGame{})
		default:
			return fmt.Errorf("client: unexpected login reply %T", msg)
		}
	}
}

func (c *Client) writeMsg(msg protocol.UpMsg) error {
	frame, err := c.codec.EncodeUp(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(frame)
}

// send writes a message, downgrading failures to a log line; the read side
// notices a dead connection and surfaces it from Update.
func (c *Client) send(msg protocol.UpMsg) {
	if c.closed {
		return
	}
	if err := c.writeMsg(msg); err != nil {
		c.log.Debug("send failed", "err", err)
	}
}

func (c *Client) readLoop() {
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			c.readErr <- "connection lost"
			close(c.msgs)
			return
		}
		msg, err := c.codec.DecodeDown(frame)
		if err != nil {
			c.log.Warn("malformed message from server", "err", err)
			c.readErr <- "malformed message"
			close(c.msgs)
			return
		}
		c.msgs <- msg
	}
}

func (c *Client) meshWorker() {
	for job := range c.meshJobs {
		if job.guard.Aborted() {
			continue
		}
		tiles := meshing.MeshChunk(job.pos, job.snap, c.reg)
		if job.guard.Aborted() {
			continue
		}
		c.meshResults <- meshResult{pos: job.pos, ci: job.ci, tiles: tiles, guard: job.guard}
	}
}

// Update processes everything that arrived since the last call: decoded
// server messages and completed mesh jobs. It returns ErrClosed once the
// connection is gone.
func (c *Client) Update() error {
	for {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				if !c.closed {
					c.closed = true
					c.closeReason = <-c.readErr
				}
				return ErrClosed
			}
			c.handleMessage(msg)
			if c.closed {
				return ErrClosed
			}
		case res := <-c.meshResults:
			c.handleMeshResult(res)
		default:
			return nil
		}
	}
}

// CloseReason returns the diagnostic of a closed connection.
func (c *Client) CloseReason() string {
	return c.closeReason
}

// Close tears the connection down.
func (c *Client) Close() error {
	close(c.meshJobs)
	return c.conn.Close()
}

func (c *Client) handleMessage(msg protocol.DownMsg) {
	switch msg := msg.(type) {
	case protocol.Close:
		c.closed = true
		c.closeReason = msg.Message
		c.conn.Close()
	case protocol.AddChunk:
		c.handleAddChunk(msg)
	case protocol.RemoveChunk:
		c.handleRemoveChunk(msg)
	case protocol.AddClient:
		c.others[msg.ClientKey] = &RemoteClient{Username: msg.Username, Char: msg.Char}
	case protocol.RemoveClient:
		delete(c.others, msg.ClientKey)
	case protocol.SetCharStateDown:
		if other, ok := c.others[msg.ClientKey]; ok {
			other.Char = msg.Char
		}
	case protocol.ApplyEdit:
		c.handleApplyEdit(msg)
	case protocol.Ack:
		c.popConfirmed(msg.UpMsgIdx)
	case protocol.ChatLine:
		c.chat = append(c.chat, msg)
		if len(c.chat) > 128 {
			c.chat = c.chat[len(c.chat)-128:]
		}
	default:
		c.log.Debug("ignoring message", "msg", fmt.Sprintf("%T", msg))
	}
}

func (c *Client) handleAddChunk(msg protocol.AddChunk) {
	if _, ok := c.space.Index(msg.Pos); ok {
		c.fail("chunk added twice: " + msg.Pos.String())
		return
	}
	ci := c.space.Add(msg.Pos)
	if ci != int(msg.CI) {
		// The index spaces diverged; nothing referencing chunk indices can
		// be trusted from here on.
		c.fail(fmt.Sprintf("chunk index disagreement: server %v, client %v", msg.CI, ci))
		return
	}
	blocks, err := c.codec.UnpackChunkBlocks(msg.Blocks)
	if err != nil {
		c.fail(fmt.Sprintf("bad chunk payload: %v", err))
		return
	}
	cm := meshing.NewChunkMesh(c.conf.NewVertexBuffer(), c.conf.NewIndexBuffer())
	c.chunks.Add(msg.Pos, ci, chunkEntry{blocks: blocks, mesh: cm})
	c.blocks.Add(msg.Pos, ci, blocks)
	c.updates.AddChunk(msg.Pos, ci)

	if c.inInterest(msg.Pos) {
		c.submitMeshJob(msg.Pos, ci)
		// The new chunk changes obscurance on the far side of each seam.
		c.dirtySeams(msg.Pos)
	} else {
		// Interest moved on while this chunk was in flight.
		c.orphan(msg.Pos, ci)
	}

	c.addsUnacked++
	if c.addsUnacked >= c.conf.AcceptWindow {
		c.send(protocol.AcceptMoreChunks{N: c.addsUnacked})
		c.addsUnacked = 0
	}
}

func (c *Client) handleRemoveChunk(msg protocol.RemoveChunk) {
	ci, ok := c.space.Index(msg.Pos)
	if !ok || ci != int(msg.CI) {
		c.fail(fmt.Sprintf("removal of unknown chunk %v/%v", msg.Pos, msg.CI))
		return
	}
	c.abortMesh(msg.Pos)
	c.dropPredictionsFor(ci)
	c.chunks.Remove(msg.Pos, ci)
	c.blocks.Remove(msg.Pos, ci)
	c.updates.RemoveChunk(msg.Pos, ci)
	c.space.Remove(msg.Pos)
}

func (c *Client) handleMeshResult(res meshResult) {
	if res.guard.Aborted() || c.meshGuards[res.pos] != res.guard {
		return
	}
	delete(c.meshGuards, res.pos)
	if ci, ok := c.space.Index(res.pos); !ok || ci != res.ci {
		return
	}
	entry := c.chunks.Get(res.pos, res.ci)
	if !entry.live() {
		return
	}
	entry.mesh.Complete(res.tiles)
}

func (c *Client) submitMeshJob(pos world.ChunkPos, ci int) {
	guard := &abort.Guard{}
	c.meshGuards[pos] = guard
	snap := meshing.TakeSnapshot(pos, liveView{c})
	c.meshJobs <- meshJob{pos: pos, ci: ci, snap: snap, guard: guard}
}

func (c *Client) abortMesh(pos world.ChunkPos) {
	if g, ok := c.meshGuards[pos]; ok {
		g.Abort()
		delete(c.meshGuards, pos)
	}
}

// orphan drops a chunk's local data while keeping its index reserved until
// the server's RemoveChunk arrives. Authoritative edits addressed to the
// index are ignored meanwhile.
func (c *Client) orphan(pos world.ChunkPos, ci int) {
	entry := c.chunks.Get(pos, ci)
	if !entry.live() {
		return
	}
	c.abortMesh(pos)
	c.dropPredictionsFor(ci)
	entry.blocks = nil
	entry.mesh = nil
	*c.blocks.Get(pos, ci) = nil
}

// inInterest reports whether a chunk is inside the client's own interest
// square around its character.
func (c *Client) inInterest(pos world.ChunkPos) bool {
	center := world.ChunkPosFromBlock(cube.Pos{
		int(floorf(c.char.Pos[0])), int(floorf(c.char.Pos[1])), int(floorf(c.char.Pos[2])),
	})
	dist := int32(c.char.LoadDist)
	dx := pos[0] - center[0]
	dz := pos[2] - center[2]
	return dx >= -dist && dx <= dist && dz >= -dist && dz <= dist &&
		pos[1] >= 0 && pos[1] < world.HeightChunks
}

// dirtySeams marks the tile layers of loaded neighbours that face the
// chunk passed dirty, so their obscured faces are recomputed.
func (c *Client) dirtySeams(pos world.ChunkPos) {
	for _, face := range cube.Faces() {
		npos := pos.Side(face)
		nci, ok := c.space.Index(npos)
		if !ok {
			continue
		}
		entry := c.chunks.Get(npos, nci)
		if !entry.live() {
			continue
		}
		for a := 0; a < chunk.Size; a++ {
			for b := 0; b < chunk.Size; b++ {
				entry.mesh.MarkDirty(seamTile(face.Opposite(), a, b))
			}
		}
	}
}

// seamTile returns the tile index of the (a, b)-th tile of the chunk layer
// at the face passed.
func seamTile(face cube.Face, a, b int) chunk.TileIndex {
	const last = chunk.Size - 1
	switch face {
	case cube.FaceEast:
		return chunk.TileIndexAt(last, uint8(a), uint8(b))
	case cube.FaceWest:
		return chunk.TileIndexAt(0, uint8(a), uint8(b))
	case cube.FaceUp:
		return chunk.TileIndexAt(uint8(a), last, uint8(b))
	case cube.FaceDown:
		return chunk.TileIndexAt(uint8(a), 0, uint8(b))
	case cube.FaceSouth:
		return chunk.TileIndexAt(uint8(a), uint8(b), last)
	case cube.FaceNorth:
		return chunk.TileIndexAt(uint8(a), uint8(b), 0)
	}
	panic("invalid face")
}

// fail closes the connection over a server-side protocol violation.
func (c *Client) fail(diag string) {
	c.log.Error("protocol failure", "diag", diag)
	c.closed = true
	c.closeReason = diag
	c.conn.Close()
}

func floorf(v float32) float32 {
	f := float32(int32(v))
	if f > v {
		f--
	}
	return f
}
