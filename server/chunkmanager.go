package server

import (
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/internal/sliceutil"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/server/session"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// maxChunkCredit bounds the unused chunk credit a client may accumulate.
// Crediting beyond it cannot correspond to any legitimate interest set and
// is treated as a protocol violation.
const maxChunkCredit = 1 << 14

// Effect is an instruction the chunk manager emits for its caller: submit
// or cancel a load job, send a chunk message, or drop a chunk from
// server-side state. The manager itself owns only bookkeeping; every load,
// send and world mutation is performed by the game loop draining these.
type Effect interface {
	isEffect()
}

// EffectLoad requests a load job for a chunk the server does not hold.
type EffectLoad struct {
	Pos world.ChunkPos
}

// EffectCancelLoad aborts the load job of a chunk that lost all interest
// while in flight.
type EffectCancelLoad struct {
	Pos world.ChunkPos
}

// EffectSendChunk sends a chunk's full block data to a client, loading it
// there under the client-side chunk index CI.
type EffectSendChunk struct {
	Conn session.ConnKey
	Pos  world.ChunkPos
	CI   int
}

// EffectRemoveChunk unloads a chunk from a client, releasing the
// client-side index CI.
type EffectRemoveChunk struct {
	Conn session.ConnKey
	Pos  world.ChunkPos
	CI   int
}

// EffectDropChunk drops a chunk from server-side state; no client interest
// remains and every affected client has had its removal enqueued first.
type EffectDropChunk struct {
	Pos world.ChunkPos
}

func (EffectLoad) isEffect()        {}
func (EffectCancelLoad) isEffect()  {}
func (EffectSendChunk) isEffect()   {}
func (EffectRemoveChunk) isEffect() {}
func (EffectDropChunk) isEffect()   {}

// MustDrain marks that a chunk manager call may have queued effects. The
// caller must drain the effect queue before the next manager call.
type MustDrain struct{}

// clientChunks is the chunk manager's per-client state.
type clientChunks struct {
	key session.ConnKey

	// budget is the remaining accept_more_chunks credit.
	budget uint64
	// addsSent and acceptsReceived accumulate over the connection to
	// detect credit overruns.
	addsSent        uint64
	acceptsReceived uint64

	// interest is the set of chunks the client wants loaded, with the
	// send state of each: sent chunks additionally know their client-side
	// chunk index.
	interest map[world.ChunkPos]clientChunkState
	// queue holds interested-but-unsent chunks in the order they should be
	// sent: nearest first at the time interest arose.
	queue []world.ChunkPos
	// indices mirrors the client's own chunk index allocation. Both sides
	// recycle indices identically, so the index this space assigns at send
	// time is the index the client's space will assign on receipt.
	indices *world.Space
}

type clientChunkState struct {
	sent bool
	ci   int
}

// chunkManager tracks, for every client, which chunks it is interested in
// and which it has been sent, and for every chunk how many clients want it.
// It decides when chunks load, travel and unload; the game loop executes
// those decisions by draining the effect queue.
type chunkManager struct {
	clients map[session.ConnKey]*clientChunks
	// interest is the per-chunk count of interested clients.
	interest map[world.ChunkPos]int
	// loaded marks chunks the server holds; absent entries with interest
	// are loading.
	loaded map[world.ChunkPos]bool
	// loading marks chunks with a submitted load job.
	loading map[world.ChunkPos]bool

	effects []Effect
}

func newChunkManager() *chunkManager {
	return &chunkManager{
		clients:  make(map[session.ConnKey]*clientChunks),
		interest: make(map[world.ChunkPos]int),
		loaded:   make(map[world.ChunkPos]bool),
		loading:  make(map[world.ChunkPos]bool),
	}
}

func (m *chunkManager) emit(e Effect) {
	m.effects = append(m.effects, e)
}

// Drain empties and returns the effect queue. Callers process every effect
// before calling back into the manager.
func (m *chunkManager) Drain(MustDrain) []Effect {
	effects := m.effects
	m.effects = nil
	return effects
}

// AddClient registers a joined client with no interest yet.
func (m *chunkManager) AddClient(key session.ConnKey) {
	m.clients[key] = &clientChunks{
		key:      key,
		interest: make(map[world.ChunkPos]clientChunkState),
		indices:  world.NewSpace(),
	}
}

// RemoveClient drops every interest of a leaving client. Chunks it alone
// was interested in are unloaded or their loads cancelled.
func (m *chunkManager) RemoveClient(key session.ConnKey) MustDrain {
	c, ok := m.clients[key]
	if !ok {
		return MustDrain{}
	}
	delete(m.clients, key)
	for pos := range c.interest {
		// No removal message: the connection is gone.
		m.dropInterest(pos)
	}
	return MustDrain{}
}

// AcceptMoreChunks credits a client's chunk budget. It returns an error if
// the accumulated credit exceeds what any interest set could consume; the
// caller closes the connection as a protocol violation.
func (m *chunkManager) AcceptMoreChunks(key session.ConnKey, n uint32) (MustDrain, error) {
	c, ok := m.clients[key]
	if !ok {
		return MustDrain{}, nil
	}
	c.acceptsReceived += uint64(n)
	if c.acceptsReceived > c.addsSent+maxChunkCredit {
		return MustDrain{}, fmt.Errorf("chunk credit overrun: accepted %v, sent %v", c.acceptsReceived, c.addsSent)
	}
	c.budget += uint64(n)
	m.pump(c)
	return MustDrain{}, nil
}

// SetCharState updates a client's position and load distance, recomputing
// its interest set: an XZ square of the load distance around the client's
// chunk, spanning the full world height. New chunks are queued nearest
// first; chunks no longer inside the square are removed from the client,
// and from the server if no other client wants them.
func (m *chunkManager) SetCharState(key session.ConnKey, char protocol.CharState) MustDrain {
	c, ok := m.clients[key]
	if !ok {
		return MustDrain{}
	}

	center := world.ChunkPosFromBlock(cubePosOf(char.Pos))
	dist := int32(char.LoadDist)

	want := make(map[world.ChunkPos]bool, (2*dist+1)*(2*dist+1)*world.HeightChunks)
	for x := center[0] - dist; x <= center[0]+dist; x++ {
		for z := center[2] - dist; z <= center[2]+dist; z++ {
			for y := int32(0); y < world.HeightChunks; y++ {
				want[world.ChunkPos{x, y, z}] = true
			}
		}
	}

	// Removals first, freeing indices additions may reuse.
	for pos, st := range c.interest {
		if want[pos] {
			continue
		}
		delete(c.interest, pos)
		if st.sent {
			c.indices.Remove(pos)
			m.emit(EffectRemoveChunk{Conn: key, Pos: pos, CI: st.ci})
		} else {
			c.queue = sliceutil.DeleteVal(c.queue, pos)
		}
		m.dropInterest(pos)
	}

	var added []world.ChunkPos
	for pos := range want {
		if _, ok := c.interest[pos]; ok {
			continue
		}
		added = append(added, pos)
		c.interest[pos] = clientChunkState{}
		m.addInterest(pos)
	}
	// Nearby chunks first.
	slices.SortFunc(added, func(a, b world.ChunkPos) int {
		da, db := chunkDistSq(a, char.Pos), chunkDistSq(b, char.Pos)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	c.queue = append(c.queue, added...)

	m.pump(c)
	return MustDrain{}
}

// ChunkLoaded reports that the server now holds the chunk; queued sends
// for it can proceed.
func (m *chunkManager) ChunkLoaded(pos world.ChunkPos) MustDrain {
	delete(m.loading, pos)
	if m.interest[pos] == 0 {
		// Interest evaporated while the result was in flight; the guard
		// race let it through. Drop it again.
		m.emit(EffectDropChunk{Pos: pos})
		return MustDrain{}
	}
	m.loaded[pos] = true
	for _, c := range m.clients {
		m.pump(c)
	}
	return MustDrain{}
}

// ChunkDropped acknowledges an executed EffectDropChunk.
func (m *chunkManager) ChunkDropped(pos world.ChunkPos) {
	delete(m.loaded, pos)
}

// ClientChunk resolves the client-side chunk index a client holds a chunk
// under, if it was sent.
func (m *chunkManager) ClientChunk(key session.ConnKey, pos world.ChunkPos) (int, bool) {
	c, ok := m.clients[key]
	if !ok {
		return 0, false
	}
	st, ok := c.interest[pos]
	if !ok || !st.sent {
		return 0, false
	}
	return st.ci, true
}

// EachHolder calls f for every client that has been sent the chunk, with
// that client's chunk index for it.
func (m *chunkManager) EachHolder(pos world.ChunkPos, f func(key session.ConnKey, ci int)) {
	for key, c := range m.clients {
		if st, ok := c.interest[pos]; ok && st.sent {
			f(key, st.ci)
		}
	}
}

// addInterest increments a chunk's interest count, arranging a load when
// the first client appears.
func (m *chunkManager) addInterest(pos world.ChunkPos) {
	m.interest[pos]++
	if m.interest[pos] == 1 && !m.loaded[pos] && !m.loading[pos] {
		m.loading[pos] = true
		m.emit(EffectLoad{Pos: pos})
	}
}

// dropInterest decrements a chunk's interest count, unloading it from the
// server once nobody wants it.
func (m *chunkManager) dropInterest(pos world.ChunkPos) {
	m.interest[pos]--
	if m.interest[pos] > 0 {
		return
	}
	delete(m.interest, pos)
	if m.loading[pos] {
		delete(m.loading, pos)
		m.emit(EffectCancelLoad{Pos: pos})
	}
	if m.loaded[pos] {
		delete(m.loaded, pos)
		m.emit(EffectDropChunk{Pos: pos})
	}
}

// pump sends as many queued chunks to the client as its budget and the
// server's loaded set allow, preserving the nearest-first queue order among
// the chunks that are ready.
func (m *chunkManager) pump(c *clientChunks) {
	if c.budget == 0 || len(c.queue) == 0 {
		return
	}
	remaining := c.queue[:0]
	for i, pos := range c.queue {
		if c.budget == 0 {
			remaining = append(remaining, c.queue[i:]...)
			break
		}
		if !m.loaded[pos] {
			remaining = append(remaining, pos)
			continue
		}
		ci := c.indices.Add(pos)
		c.interest[pos] = clientChunkState{sent: true, ci: ci}
		c.budget--
		c.addsSent++
		m.emit(EffectSendChunk{Conn: c.key, Pos: pos, CI: ci})
	}
	c.queue = remaining
}

// chunkDistSq is the squared distance from a position to a chunk's centre
// column, used to order chunk sends nearest first.
func chunkDistSq(pos world.ChunkPos, from mgl32.Vec3) float32 {
	cx := float32(pos[0])*chunk.Size + chunk.Size/2
	cz := float32(pos[2])*chunk.Size + chunk.Size/2
	dx := from[0] - cx
	dz := from[2] - cz
	return dx*dx + dz*dz
}

// cubePosOf floors a character position to the tile it stands in.
func cubePosOf(pos mgl32.Vec3) cube.Pos {
	return cube.Pos{
		int(math.Floor(float64(pos[0]))),
		int(math.Floor(float64(pos[1]))),
		int(math.Floor(float64(pos[2]))),
	}
}
