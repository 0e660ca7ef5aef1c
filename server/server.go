package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/internal/abort"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/server/save"
	"github.com/notminecraft/notminecraft/server/session"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// playerNamespace is the UUID namespace player identities are derived in:
// a player's stable save identity is the SHA1 UUID of their username.
var playerNamespace = uuid.MustParse("8b9c2f60-5a11-4ab9-9e4e-31f39f2d6b0f")

// Server is an authoritative game server. A single game loop goroutine
// owns all world state; connections, chunk loads and save commits run on
// their own goroutines and communicate with the loop through its tiered
// event channels.
type Server struct {
	conf  Config
	log   *slog.Logger
	codec *protocol.Codec

	mgr    *session.Manager
	cm     *chunkManager
	loader *chunkLoader

	// World state, owned by the loop goroutine.
	space   *world.Space
	getter  *world.Getter
	blocks  world.PerChunk[*chunk.Blocks]
	updates *world.BlockUpdateQueue
	tracker *save.Tracker

	clients map[session.ConnKey]*clientState
	byName  map[string]session.ConnKey

	loadGuards map[world.ChunkPos]*abort.Guard
	// finalSaves holds snapshots of unsaved chunks that were unloaded,
	// carried until the next flush.
	finalSaves []save.ChunkEntry

	control chan func()
	network chan session.Event
	other   chan serverEvent

	tickCount int64

	closing   chan struct{}
	done      sync.WaitGroup
	closeOnce sync.Once

	mu        sync.Mutex
	listeners []*session.Listener
}

// clientState is the game loop's per-connection state.
type clientState struct {
	key      session.ConnKey
	username string
	playerID uuid.UUID
	loggedIn bool
	joined   bool

	inv  item.Inventory
	char protocol.CharState

	// upMsgs counts the edit-bearing messages processed for this client;
	// the count of the latest one is its up-msg index.
	upMsgs uint64
	// acked is the highest up-msg index sent back in an ack so far.
	acked uint64
}

func newServer(conf Config) *Server {
	srv := &Server{
		conf:       conf,
		log:        conf.Log,
		codec:      protocol.NewCodec(conf.Registry),
		cm:         newChunkManager(),
		space:      world.NewSpace(),
		updates:    world.NewBlockUpdateQueue(),
		tracker:    save.NewTracker(),
		clients:    make(map[session.ConnKey]*clientState),
		byName:     make(map[string]session.ConnKey),
		loadGuards: make(map[world.ChunkPos]*abort.Guard),
		control:    make(chan func(), 64),
		network:    make(chan session.Event, 1024),
		other:      make(chan serverEvent, 256),
		closing:    make(chan struct{}),
	}
	srv.getter = srv.space.Getter()
	srv.mgr = session.NewManager(srv.codec, conf.Log, srv.network)
	srv.loader = newChunkLoader(conf.LoaderWorkers, conf.DB, conf.Generator, conf.Log, srv.other)
	srv.done.Add(1)
	go srv.loop()
	return srv
}

// Listen starts accepting websocket connections on the address passed.
func (srv *Server) Listen(addr string) (*session.Listener, error) {
	ln, err := session.ListenWebSocket(addr, func(c session.Conn) {
		srv.mgr.Accept(c)
	})
	if err != nil {
		return nil, err
	}
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, ln)
	srv.mu.Unlock()
	return ln, nil
}

// AcceptConn adopts a pre-established transport connection, such as the
// server end of an in-memory pipe.
func (srv *Server) AcceptConn(c session.Conn) {
	srv.mgr.Accept(c)
}

// Exec runs a function on the game loop goroutine, on the loop's highest
// priority tier. The returned channel closes when it has run.
func (srv *Server) Exec(f func()) <-chan struct{} {
	done := make(chan struct{})
	srv.control <- func() {
		f()
		close(done)
	}
	return done
}

// Close flushes unsaved state, disconnects every client and stops the game
// loop.
func (srv *Server) Close() error {
	srv.closeOnce.Do(func() {
		srv.mu.Lock()
		listeners := srv.listeners
		srv.mu.Unlock()
		for _, ln := range listeners {
			ln.Close()
		}
		<-srv.Exec(func() {
			srv.mgr.Shutdown("server closed")
			srv.flush(true)
		})
		close(srv.closing)
		srv.done.Wait()
		srv.loader.close()
	})
	return nil
}

// loop is the game loop: it prefers control work over network messages
// over other events, and between events advances the fixed-period tick.
func (srv *Server) loop() {
	defer srv.done.Done()
	tc := time.NewTicker(srv.conf.TickInterval)
	defer tc.Stop()
	for {
		select {
		case <-srv.closing:
			return
		default:
		}
		// Tiered intake: drain higher tiers before lower ones block.
		select {
		case f := <-srv.control:
			f()
			continue
		default:
		}
		select {
		case f := <-srv.control:
			f()
			continue
		case ev := <-srv.network:
			srv.handleSession(ev)
			continue
		default:
		}
		select {
		case <-srv.closing:
			return
		case f := <-srv.control:
			f()
		case ev := <-srv.network:
			srv.handleSession(ev)
		case ev := <-srv.other:
			srv.handleEvent(ev)
		case <-tc.C:
			start := time.Now()
			srv.tick()
			if took := time.Since(start); took > srv.conf.TickInterval {
				// Missed tick instants are skipped, not caught up.
				srv.log.Warn("tick overran its interval", "took", took)
			}
		}
	}
}

func (srv *Server) handleSession(ev session.Event) {
	switch ev := ev.(type) {
	case session.Opened:
		srv.clients[ev.Conn] = &clientState{key: ev.Conn}
	case session.Closed:
		srv.handleLeave(ev.Conn, ev.Reason)
	case session.Received:
		c, ok := srv.clients[ev.Conn]
		if !ok {
			return
		}
		srv.handleMessage(c, ev.Msg)
	}
}

func (srv *Server) handleMessage(c *clientState, msg protocol.UpMsg) {
	switch msg := msg.(type) {
	case protocol.LogIn:
		srv.handleLogIn(c, msg)
	case protocol.JoinGame:
		srv.handleJoinGame(c)
	case protocol.AcceptMoreChunks:
		md, err := srv.cm.AcceptMoreChunks(c.key, msg.N)
		srv.drainEffects(md)
		if err != nil {
			srv.violation(c, err.Error())
		}
	case protocol.SetTileBlock:
		srv.handleSetTileBlock(c, msg)
	case protocol.SetItemSlot:
		srv.handleSetItemSlot(c, msg)
	case protocol.Say:
		if !c.joined {
			srv.violation(c, "chat before joining")
			return
		}
		for _, other := range srv.clients {
			if other.joined {
				srv.mgr.Send(other.key, protocol.ChatLine{Speaker: c.username, Message: msg.Message})
			}
		}
	case protocol.SetCharStateUp:
		srv.handleSetCharState(c, msg)
	case protocol.ItemSlotAdd, protocol.OpenGameMenu, protocol.CloseGameMenu:
		// Declared protocol extensions without server semantics yet.
		srv.log.Debug("ignoring unimplemented message", "conn", c.key, "msg", fmt.Sprintf("%T", msg))
	}
}

func (srv *Server) handleLogIn(c *clientState, msg protocol.LogIn) {
	if c.loggedIn {
		srv.violation(c, "second login")
		return
	}
	if want := srv.conf.Registry.Fingerprint(); msg.Fingerprint != want {
		srv.mgr.Close(c.key, fmt.Sprintf("incompatible game registry (client %#x, server %#x)", msg.Fingerprint, want))
		return
	}
	if msg.Username == "" {
		srv.mgr.Close(c.key, "empty username")
		return
	}
	if _, taken := srv.byName[msg.Username]; taken {
		srv.mgr.Close(c.key, "username already logged in")
		return
	}

	c.username = msg.Username
	c.playerID = uuid.NewSHA1(playerNamespace, []byte(msg.Username))
	c.loggedIn = true
	srv.byName[c.username] = c.key
	srv.mgr.SetState(c.key, session.StateLoggingIn)

	c.char = protocol.CharState{Pos: spawnPos()}
	saved := false
	if srv.conf.DB != nil {
		data, ok, err := srv.conf.DB.LoadPlayer(c.playerID)
		if err != nil {
			srv.log.Error("failed loading player data", "player", c.username, "err", err)
		} else if ok {
			c.char.Pos = data.Pos
			c.inv.Slots = data.InventorySlots
			saved = true
		}
	}
	srv.tracker.AddPlayer(c.playerID, saved)

	srv.mgr.Send(c.key, protocol.AcceptLogin{InventorySlots: c.inv.Slots})
	srv.mgr.Send(c.key, protocol.ShouldJoinGame{OwnClientKey: uint32(c.key)})
}

func (srv *Server) handleJoinGame(c *clientState) {
	if !c.loggedIn || c.joined {
		srv.violation(c, "join out of order")
		return
	}
	c.joined = true
	srv.mgr.SetState(c.key, session.StateInGame)
	srv.cm.AddClient(c.key)

	for _, other := range srv.clients {
		if other == c || !other.joined {
			continue
		}
		srv.mgr.Send(other.key, protocol.AddClient{ClientKey: uint32(c.key), Username: c.username, Char: c.char})
		srv.mgr.Send(c.key, protocol.AddClient{ClientKey: uint32(other.key), Username: other.username, Char: other.char})
	}
}

func (srv *Server) handleSetCharState(c *clientState, msg protocol.SetCharStateUp) {
	if !c.joined {
		srv.violation(c, "character state before joining")
		return
	}
	char := msg.Char
	if char.LoadDist > srv.conf.MaxLoadDist {
		char.LoadDist = srv.conf.MaxLoadDist
	}
	c.char = char
	srv.tracker.MarkPlayerUnsaved(c.playerID)
	srv.drainEffects(srv.cm.SetCharState(c.key, char))
	for _, other := range srv.clients {
		if other != c && other.joined {
			srv.mgr.Send(other.key, protocol.SetCharStateDown{ClientKey: uint32(c.key), Char: char})
		}
	}
}

func (srv *Server) handleSetTileBlock(c *clientState, msg protocol.SetTileBlock) {
	if !c.joined {
		srv.violation(c, "edit before joining")
		return
	}
	c.upMsgs++

	pos := cube.Pos{int(msg.Pos[0]), int(msg.Pos[1]), int(msg.Pos[2])}
	key, ok := srv.getter.Tile(pos)
	if !ok {
		srv.log.Warn("edit rejected: chunk not loaded", "conn", c.key, "pos", pos)
		return
	}
	if err := srv.conf.Registry.CheckMeta(msg.Block, msg.Meta); err != nil {
		srv.log.Warn("edit rejected", "conn", c.key, "err", err)
		return
	}

	op := world.SetTileBlock{Block: msg.Block, Meta: msg.Meta}
	world.ApplyTileOp(key.Pos, key.CI, key.LTI, op, srv.getter, &srv.blocks, srv.updates)
	srv.tracker.MarkChunkUnsaved(key.Pos, key.CI)

	// Broadcast to every client holding the chunk, in the order the edit
	// was processed, addressing each by its own chunk index. The
	// originator's copy carries the ack.
	srv.cm.EachHolder(key.Pos, func(holder session.ConnKey, holderCI int) {
		var ack *uint64
		if holder == c.key {
			idx := c.upMsgs
			ack = &idx
			c.acked = idx
		}
		srv.mgr.Send(holder, protocol.ApplyEdit{
			Ack:  ack,
			Edit: world.TileEdit{CI: holderCI, LTI: key.LTI, Op: op},
		})
	})
}

func (srv *Server) handleSetItemSlot(c *clientState, msg protocol.SetItemSlot) {
	if !c.joined {
		srv.violation(c, "edit before joining")
		return
	}
	c.upMsgs++

	if int(msg.Slot) >= item.InventorySize {
		srv.log.Warn("edit rejected: slot out of range", "conn", c.key, "slot", msg.Slot)
		return
	}
	op := world.SetItemSlot{Stack: msg.Stack}
	world.ApplySlotOp(&c.inv, msg.Slot, op)
	srv.tracker.MarkPlayerUnsaved(c.playerID)

	idx := c.upMsgs
	c.acked = idx
	srv.mgr.Send(c.key, protocol.ApplyEdit{
		Ack:  &idx,
		Edit: world.InventorySlotEdit{Slot: msg.Slot, Op: op},
	})
}

func (srv *Server) handleLeave(key session.ConnKey, reason string) {
	c, ok := srv.clients[key]
	if !ok {
		return
	}
	delete(srv.clients, key)
	if c.loggedIn {
		delete(srv.byName, c.username)
		srv.log.Info("player left", "player", c.username, "reason", reason)
		if srv.tracker.RemovePlayer(c.playerID) && srv.conf.DB != nil {
			srv.commit(nil, []save.PlayerEntry{{ID: c.playerID, Data: save.PlayerData{
				Pos:            c.char.Pos,
				InventorySlots: c.inv.Slots,
			}}}, nil, nil)
		}
	}
	if c.joined {
		srv.drainEffects(srv.cm.RemoveClient(key))
		for _, other := range srv.clients {
			if other.joined {
				srv.mgr.Send(other.key, protocol.RemoveClient{ClientKey: uint32(key)})
			}
		}
	}
}

func (srv *Server) handleEvent(ev serverEvent) {
	switch ev := ev.(type) {
	case chunkReadyEvent:
		srv.handleChunkReady(ev)
	case saveDoneEvent:
		if ev.err == nil {
			return
		}
		// A failed commit re-queues everything it covered; the data is
		// still live in memory.
		srv.log.Error("save commit failed", "err", ev.err)
		for _, ref := range ev.chunks {
			if ci, ok := srv.space.Index(ref.Pos); ok && ci == ref.CI {
				srv.tracker.MarkChunkUnsaved(ref.Pos, ref.CI)
			}
		}
		for _, id := range ev.players {
			srv.tracker.MarkPlayerUnsaved(id)
		}
	}
}

func (srv *Server) handleChunkReady(ev chunkReadyEvent) {
	if ev.guard.Aborted() {
		return
	}
	if srv.loadGuards[ev.pos] != ev.guard {
		// The guard was dropped (and possibly replaced) after the job was
		// already in flight; this result belongs to nobody.
		return
	}
	delete(srv.loadGuards, ev.pos)

	ci := srv.space.Add(ev.pos)
	srv.blocks.Add(ev.pos, ci, ev.blocks)
	srv.updates.AddChunk(ev.pos, ci)
	srv.tracker.AddChunk(ev.pos, ci, ev.saved)

	srv.drainEffects(srv.cm.ChunkLoaded(ev.pos))
}

// drainEffects executes the chunk manager's queued effects.
func (srv *Server) drainEffects(md MustDrain) {
	for _, e := range srv.cm.Drain(md) {
		switch e := e.(type) {
		case EffectLoad:
			srv.loadGuards[e.Pos] = srv.loader.Load(e.Pos)
		case EffectCancelLoad:
			if g, ok := srv.loadGuards[e.Pos]; ok {
				g.Abort()
				delete(srv.loadGuards, e.Pos)
			}
		case EffectSendChunk:
			ci, ok := srv.space.Index(e.Pos)
			if !ok {
				panic("server: send of chunk not loaded: " + e.Pos.String())
			}
			payload, err := srv.codec.PackChunkBlocks(*srv.blocks.Get(e.Pos, ci))
			if err != nil {
				srv.log.Error("failed encoding chunk", "pos", e.Pos, "err", err)
				continue
			}
			srv.mgr.Send(e.Conn, protocol.AddChunk{Pos: e.Pos, CI: uint32(e.CI), Blocks: payload})
		case EffectRemoveChunk:
			srv.mgr.Send(e.Conn, protocol.RemoveChunk{Pos: e.Pos, CI: uint32(e.CI)})
		case EffectDropChunk:
			srv.dropChunk(e.Pos)
		}
	}
}

func (srv *Server) dropChunk(pos world.ChunkPos) {
	ci, ok := srv.space.Index(pos)
	if !ok {
		srv.cm.ChunkDropped(pos)
		return
	}
	unsaved := srv.tracker.RemoveChunk(pos, ci)
	blocks := srv.blocks.Remove(pos, ci)
	srv.updates.RemoveChunk(pos, ci)
	srv.space.Remove(pos)
	if unsaved && srv.conf.DB != nil {
		srv.finalSaves = append(srv.finalSaves, save.ChunkEntry{Pos: pos, Blocks: blocks})
	}
	srv.cm.ChunkDropped(pos)
}

func (srv *Server) tick() {
	srv.tickCount++

	// Service queued block updates. The consumers of updates (physics,
	// lighting) live outside the core; the queue is drained so enqueue
	// state does not accumulate.
	for {
		if _, ok := srv.updates.Pop(); !ok {
			break
		}
	}

	if srv.tickCount%int64(srv.conf.FlushIntervalTicks) == 0 {
		srv.flush(false)
	}
	srv.flushAcks()
}

// flushAcks sends standalone acks to clients whose processed edits had no
// broadcast to piggyback the ack on.
func (srv *Server) flushAcks() {
	for _, c := range srv.clients {
		if c.joined && c.upMsgs > c.acked {
			c.acked = c.upMsgs
			srv.mgr.Send(c.key, protocol.Ack{UpMsgIdx: c.upMsgs})
		}
	}
}

// flush drains the dirty tracker and commits a snapshot of everything it
// covered. When sync is set, the call waits for the disk write.
func (srv *Server) flush(sync bool) {
	if srv.conf.DB == nil {
		srv.finalSaves = nil
		return
	}
	refs, players := srv.tracker.Drain()
	entries := srv.finalSaves
	srv.finalSaves = nil
	for _, ref := range refs {
		entries = append(entries, save.ChunkEntry{Pos: ref.Pos, Blocks: *srv.blocks.Get(ref.Pos, ref.CI)})
	}
	var playerEntries []save.PlayerEntry
	for _, c := range srv.clients {
		if !c.loggedIn {
			continue
		}
		for _, id := range players {
			if id == c.playerID {
				playerEntries = append(playerEntries, save.PlayerEntry{ID: id, Data: save.PlayerData{
					Pos:            c.char.Pos,
					InventorySlots: c.inv.Slots,
				}})
				break
			}
		}
	}
	if len(entries) == 0 && len(playerEntries) == 0 {
		return
	}
	var done chan error
	if sync {
		done = make(chan error, 1)
	}
	srv.commit(entries, playerEntries, refs, done)
	if sync {
		if err := <-done; err != nil {
			srv.log.Error("final save commit failed", "err", err)
		}
	}
}

// commit issues a save commit whose completion is reported back onto the
// event loop, or into done when provided.
func (srv *Server) commit(entries []save.ChunkEntry, playerEntries []save.PlayerEntry, refs []save.ChunkRef, done chan error) {
	players := make([]uuid.UUID, len(playerEntries))
	for i, e := range playerEntries {
		players[i] = e.ID
	}
	err := srv.conf.DB.Commit(entries, playerEntries, func(err error) {
		if done != nil {
			done <- err
			return
		}
		select {
		case srv.other <- saveDoneEvent{chunks: refs, players: players, err: err}:
		case <-srv.closing:
		}
	})
	if err != nil {
		srv.log.Error("save commit rejected", "err", err)
		if done != nil {
			done <- err
		}
	}
}

// violation closes a connection over a protocol violation, logging the
// diagnostic.
func (srv *Server) violation(c *clientState, diag string) {
	srv.log.Warn("protocol violation", "conn", c.key, "diag", diag)
	srv.mgr.Close(c.key, "protocol violation: "+diag)
}

// spawnPos is where players without saved data appear.
func spawnPos() mgl32.Vec3 {
	return mgl32.Vec3{8, float32(world.HeightChunks*chunk.Size) + 2, 8}
}
