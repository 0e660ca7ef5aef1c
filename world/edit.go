package world

import (
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Edit is a reversible world delta. Applying an edit mutates one scope of
// the world — a single tile or a single inventory slot — and returns the
// edit that undoes it, so that applying an edit and then its inverse
// restores the original state exactly.
type Edit interface {
	isEdit()
}

// TileEdit is an edit of a single tile, addressed by the chunk index and
// tile index understood by whichever side applies it.
type TileEdit struct {
	CI  int
	LTI chunk.TileIndex
	Op  TileOp
}

func (TileEdit) isEdit() {}

// TileOp is the operation a TileEdit performs. It is a small sum type of
// its own so that new per-tile operations extend the edit without touching
// the tile addressing.
type TileOp interface {
	isTileOp()
}

// SetTileBlock replaces the block of a tile, metadata included.
type SetTileBlock struct {
	Block chunk.BlockID
	Meta  any
}

func (SetTileBlock) isTileOp() {}

// InventorySlotEdit is an edit of one slot of the player's own inventory.
type InventorySlotEdit struct {
	Slot uint8
	Op   SlotOp
}

func (InventorySlotEdit) isEdit() {}

// SlotOp is the operation an InventorySlotEdit performs.
type SlotOp interface {
	isSlotOp()
}

// SetItemSlot replaces the contents of an inventory slot. A nil stack
// empties the slot.
type SetItemSlot struct {
	Stack *item.Stack
}

func (SetItemSlot) isSlotOp() {}

// ApplyTileOp applies a tile operation to the chunk storage passed and
// returns its inverse. Setting a tile's block also queues block updates for
// the tile and its 26 neighbours, because their behaviour or appearance may
// depend on it. The enqueue is deterministic, so predicted and
// authoritative applications of the same edit agree on it.
func ApplyTileOp(pos ChunkPos, ci int, lti chunk.TileIndex, op TileOp, g *Getter, blocks *PerChunk[*chunk.Blocks], updates *BlockUpdateQueue) TileOp {
	switch op := op.(type) {
	case SetTileBlock:
		oldID, oldMeta := (*blocks.Get(pos, ci)).Replace(lti, op.Block, op.Meta)
		center := pos.BlockPos(lti)
		updates.EnqueueKey(TileKey{Pos: pos, CI: ci, LTI: lti})
		center.Neighbours(func(n cube.Pos) {
			updates.Enqueue(n, g)
		})
		return SetTileBlock{Block: oldID, Meta: oldMeta}
	}
	panic("world: unknown tile operation")
}

// ApplySlotOp applies a slot operation to the inventory passed and returns
// its inverse.
func ApplySlotOp(inv *item.Inventory, slot uint8, op SlotOp) SlotOp {
	switch op := op.(type) {
	case SetItemSlot:
		old := inv.Slots[slot]
		inv.Slots[slot] = op.Stack
		return SetItemSlot{Stack: old}
	}
	panic("world: unknown slot operation")
}
