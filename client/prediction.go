package client

import (
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// scope is the partition of mutable state an edit touches: one tile or one
// inventory slot. Prediction stacks are kept per scope so that divergence
// from the server stays contained to the scope it happened in.
type scope struct {
	slot bool
	ci   int
	lti  chunk.TileIndex
	idx  uint8
}

func scopeOf(e world.Edit) scope {
	switch e := e.(type) {
	case world.TileEdit:
		return scope{ci: e.CI, lti: e.LTI}
	case world.InventorySlotEdit:
		return scope{slot: true, idx: e.Slot}
	}
	panic("client: unknown edit scope")
}

// prediction is one locally applied, not yet confirmed edit: the up-msg
// index that proposed it, the edit itself for re-application, and its
// inverse for rollback.
type prediction struct {
	idx     uint64
	forward world.Edit
	inverse world.Edit
}

// applyEdit applies an edit to the local replica and returns its inverse.
// It reports false without touching anything when the edit addresses a
// chunk index that no longer maps to live local data.
func (c *Client) applyEdit(e world.Edit) (world.Edit, bool) {
	switch e := e.(type) {
	case world.TileEdit:
		pos, ok := c.space.At(e.CI)
		if !ok {
			return nil, false
		}
		entry := c.chunks.Get(pos, e.CI)
		if !entry.live() {
			return nil, false
		}
		inverseOp := world.ApplyTileOp(pos, e.CI, e.LTI, e.Op, c.getter, &c.blocks, c.updates)
		c.markTileDirty(pos, e.CI, e.LTI)
		return world.TileEdit{CI: e.CI, LTI: e.LTI, Op: inverseOp}, true
	case world.InventorySlotEdit:
		inverseOp := world.ApplySlotOp(&c.inv, e.Slot, e.Op)
		return world.InventorySlotEdit{Slot: e.Slot, Op: inverseOp}, true
	}
	panic("client: unknown edit")
}

// markTileDirty marks a changed tile and its six face neighbours dirty;
// the neighbours' obscured faces may have flipped. Neighbours across chunk
// seams dirty the neighbouring chunk.
func (c *Client) markTileDirty(pos world.ChunkPos, ci int, lti chunk.TileIndex) {
	if entry := c.chunks.Get(pos, ci); entry.live() {
		entry.mesh.MarkDirty(lti)
	}
	gtc := pos.BlockPos(lti)
	for _, face := range cube.Faces() {
		key, ok := c.getter.Tile(gtc.Side(face))
		if !ok {
			continue
		}
		if entry := c.chunks.Get(key.Pos, key.CI); entry.live() {
			entry.mesh.MarkDirty(key.LTI)
		}
	}
}

// handleApplyEdit reconciles an authoritative edit from the server with
// the local predictions of its scope: confirmed predictions are retired,
// the scope is rolled back to the authoritative base, the server's edit is
// applied and the still-unconfirmed predictions are re-applied on top.
func (c *Client) handleApplyEdit(m protocol.ApplyEdit) {
	if m.Ack != nil {
		c.popConfirmed(*m.Ack)
	}

	sc := scopeOf(m.Edit)
	stack := c.predictions[sc]

	// Roll the scope back to the last authoritative state.
	for i := len(stack) - 1; i >= 0; i-- {
		c.applyEdit(stack[i].inverse)
	}
	if _, ok := c.applyEdit(m.Edit); !ok {
		// The edit addresses a chunk whose data is gone; the remaining
		// stack went with it.
		return
	}
	// Re-predict what the server has not confirmed yet, refreshing each
	// prediction's inverse against the new base.
	for i := range stack {
		inv, ok := c.applyEdit(stack[i].forward)
		if !ok {
			stack = stack[:i]
			break
		}
		stack[i].inverse = inv
	}
	if len(stack) == 0 {
		delete(c.predictions, sc)
	} else {
		c.predictions[sc] = stack
	}
}

// popConfirmed retires every prediction with an up-msg index at or below
// the acknowledged one, across all scopes. This is bookkeeping only: the
// confirmed effect is already part of the authoritative state the server
// broadcasts.
func (c *Client) popConfirmed(idx uint64) {
	for sc, stack := range c.predictions {
		n := 0
		for n < len(stack) && stack[n].idx <= idx {
			n++
		}
		if n == 0 {
			continue
		}
		stack = stack[n:]
		if len(stack) == 0 {
			delete(c.predictions, sc)
		} else {
			c.predictions[sc] = stack
		}
	}
}

// dropPredictionsFor discards the prediction stacks of every tile scope in
// the chunk index passed, alongside the chunk data they applied to.
func (c *Client) dropPredictionsFor(ci int) {
	for sc := range c.predictions {
		if !sc.slot && sc.ci == ci {
			delete(c.predictions, sc)
		}
	}
}

// PredictionDepth returns the number of outstanding predicted edits, for
// diagnostics.
func (c *Client) PredictionDepth() int {
	n := 0
	for _, stack := range c.predictions {
		n += len(stack)
	}
	return n
}
