package client

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/client/meshing"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// SetBlock proposes replacing the block at a world tile position. The
// replica shows the change immediately; the server's acknowledgement
// retires the prediction.
func (c *Client) SetBlock(pos cube.Pos, bid chunk.BlockID, meta any) error {
	key, ok := c.getter.Tile(pos)
	if !ok || !c.chunks.Get(key.Pos, key.CI).live() {
		return fmt.Errorf("client: tile %v is not loaded", pos)
	}
	if err := c.reg.CheckMeta(bid, meta); err != nil {
		return err
	}

	c.upMsgs++
	forward := world.Edit(world.TileEdit{CI: key.CI, LTI: key.LTI, Op: world.SetTileBlock{Block: bid, Meta: meta}})
	inverse, _ := c.applyEdit(forward)
	sc := scopeOf(forward)
	c.predictions[sc] = append(c.predictions[sc], prediction{idx: c.upMsgs, forward: forward, inverse: inverse})

	c.send(protocol.SetTileBlock{
		Pos:   [3]int32{int32(pos[0]), int32(pos[1]), int32(pos[2])},
		Block: bid,
		Meta:  meta,
	})
	return nil
}

// SetSlot proposes replacing a slot of the own inventory.
func (c *Client) SetSlot(slot uint8, stack *item.Stack) error {
	if int(slot) >= item.InventorySize {
		return fmt.Errorf("client: slot %v out of range", slot)
	}
	c.upMsgs++
	forward := world.Edit(world.InventorySlotEdit{Slot: slot, Op: world.SetItemSlot{Stack: stack}})
	inverse, _ := c.applyEdit(forward)
	sc := scopeOf(forward)
	c.predictions[sc] = append(c.predictions[sc], prediction{idx: c.upMsgs, forward: forward, inverse: inverse})

	c.send(protocol.SetItemSlot{Slot: slot, Stack: stack})
	return nil
}

// Say sends a chat line.
func (c *Client) Say(message string) {
	c.send(protocol.Say{Message: message})
}

// Move reports the character's new state to the server and retires local
// chunks that fell outside the interest square. Their indices stay
// reserved until the server confirms with RemoveChunk.
func (c *Client) Move(pos mgl32.Vec3, yaw, pitch float32, pointing bool) {
	c.char = protocol.CharState{
		Pos:      pos,
		Yaw:      yaw,
		Pitch:    pitch,
		Pointing: pointing,
		LoadDist: c.conf.LoadDist,
	}
	c.send(protocol.SetCharStateUp{Char: c.char})

	var gone []world.TileKey
	c.space.Each(func(p world.ChunkPos, ci int) {
		if !c.inInterest(p) {
			gone = append(gone, world.TileKey{Pos: p, CI: ci})
		}
	})
	for _, g := range gone {
		c.orphan(g.Pos, g.CI)
	}
}

// Char returns the character state last reported to the server.
func (c *Client) Char() protocol.CharState {
	return c.char
}

// OwnKey returns the client key the server identifies this client by.
func (c *Client) OwnKey() uint32 {
	return c.ownKey
}

// BlockAt returns the block of a loaded world tile. It is the tile query
// interface collaborators such as physics consume.
func (c *Client) BlockAt(pos cube.Pos) (chunk.BlockID, bool) {
	return liveView{c}.BlockAt(pos)
}

// MetaAt returns the block metadata of a loaded world tile.
func (c *Client) MetaAt(pos cube.Pos) (any, bool) {
	key, ok := c.getter.Tile(pos)
	if !ok {
		return nil, false
	}
	b := *c.blocks.Get(key.Pos, key.CI)
	if b == nil {
		return nil, false
	}
	return b.Meta(key.LTI), true
}

// Inventory returns the own inventory.
func (c *Client) Inventory() *item.Inventory {
	return &c.inv
}

// Others returns the other connected players by client key.
func (c *Client) Others() map[uint32]*RemoteClient {
	return c.others
}

// Chat returns the received chat lines, oldest first.
func (c *Client) Chat() []protocol.ChatLine {
	return c.chat
}

// ChunkMeshAt returns the mesh of a live loaded chunk.
func (c *Client) ChunkMeshAt(pos world.ChunkPos) (*meshing.ChunkMesh, bool) {
	ci, ok := c.space.Index(pos)
	if !ok {
		return nil, false
	}
	entry := c.chunks.Get(pos, ci)
	if !entry.live() {
		return nil, false
	}
	return entry.mesh, true
}

// HasChunk reports whether a chunk is loaded with live data.
func (c *Client) HasChunk(pos world.ChunkPos) bool {
	ci, ok := c.space.Index(pos)
	return ok && c.chunks.Get(pos, ci).live()
}

// liveView reads blocks from the live replica. Orphaned chunks read as
// unloaded.
type liveView struct {
	c *Client
}

func (v liveView) BlockAt(pos cube.Pos) (chunk.BlockID, bool) {
	key, ok := v.c.getter.Tile(pos)
	if !ok {
		return 0, false
	}
	b := *v.c.blocks.Get(key.Pos, key.CI)
	if b == nil {
		return 0, false
	}
	return b.ID(key.LTI), true
}
