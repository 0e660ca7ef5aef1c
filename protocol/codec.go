package protocol

import (
	"bytes"
	"fmt"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/schema"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Variant ordinals of the up and down message enums. The wire format is
// positional: reordering these is a protocol change.
const (
	upLogIn = iota
	upJoinGame
	upAcceptMoreChunks
	upSetTileBlock
	upSetItemSlot
	upSay
	upSetCharState
	upItemSlotAdd
	upOpenGameMenu
	upCloseGameMenu
)

const (
	downClose = iota
	downAcceptLogin
	downShouldJoinGame
	downAddChunk
	downRemoveChunk
	downAddClient
	downRemoveClient
	downApplyEdit
	downAck
	downChatLine
	downSetCharState
)

// Edit enum ordinals.
const (
	editTile = iota
	editInventorySlot
)

// Codec encodes and decodes messages under a specific block registry. The
// registry determines the schema of block metadata, and with it the schema
// of chunk payloads and tile edits; codecs of differing registries are
// wire-incompatible and detected through the registry fingerprint.
type Codec struct {
	reg  *block.Registry
	up   *schema.Schema
	down *schema.Schema
	edit *schema.Schema
}

// NewCodec creates a Codec for the registry passed.
func NewCodec(reg *block.Registry) *Codec {
	c := &Codec{reg: reg}
	c.edit = schema.Enum(
		schema.Variant("Tile", schema.Struct("TileEdit",
			schema.Field("ci", schema.U32()),
			schema.Field("lti", schema.U16()),
			schema.Field("op", schema.Enum(
				schema.Variant("SetTileBlock", schema.Struct("SetTileBlock",
					schema.Field("block", reg.TileSchema()),
				)),
			)),
		)),
		schema.Variant("InventorySlot", schema.Struct("InventorySlotEdit",
			schema.Field("slot", schema.U8()),
			schema.Field("op", schema.Enum(
				schema.Variant("SetItemSlot", schema.Struct("SetItemSlot",
					schema.Field("stack", item.SlotSchema()),
				)),
			)),
		)),
	)

	charState := schema.Struct("CharState",
		schema.Field("pos", schema.Tuple(schema.F32(), schema.F32(), schema.F32())),
		schema.Field("yaw", schema.F32()),
		schema.Field("pitch", schema.F32()),
		schema.Field("pointing", schema.Bool()),
		schema.Field("load_dist", schema.U8()),
	)
	chunkPos := schema.Tuple(schema.I32(), schema.I32(), schema.I32())
	blockPos := schema.Tuple(schema.I32(), schema.I32(), schema.I32())

	c.up = schema.Enum(
		schema.Variant("LogIn", schema.Struct("LogIn",
			schema.Field("username", schema.Str()),
			schema.Field("fingerprint", schema.U64()),
		)),
		schema.Variant("JoinGame", schema.Unit()),
		schema.Variant("AcceptMoreChunks", schema.Struct("AcceptMoreChunks",
			schema.Field("n", schema.U32()),
		)),
		schema.Variant("SetTileBlock", schema.Struct("SetTileBlock",
			schema.Field("pos", blockPos),
			schema.Field("block", reg.TileSchema()),
		)),
		schema.Variant("SetItemSlot", schema.Struct("SetItemSlot",
			schema.Field("slot", schema.U8()),
			schema.Field("stack", item.SlotSchema()),
		)),
		schema.Variant("Say", schema.Struct("Say",
			schema.Field("message", schema.Str()),
		)),
		schema.Variant("SetCharState", charState),
		schema.Variant("ItemSlotAdd", schema.Unit()),
		schema.Variant("OpenGameMenu", schema.Unit()),
		schema.Variant("CloseGameMenu", schema.Unit()),
	)

	c.down = schema.Enum(
		schema.Variant("Close", schema.Struct("Close",
			schema.Field("message", schema.Str()),
		)),
		schema.Variant("AcceptLogin", schema.Struct("AcceptLogin",
			schema.Field("inventory_slots", schema.Array(item.InventorySize, item.SlotSchema())),
		)),
		schema.Variant("ShouldJoinGame", schema.Struct("ShouldJoinGame",
			schema.Field("own_client_key", schema.U32()),
		)),
		schema.Variant("AddChunk", schema.Struct("AddChunk",
			schema.Field("pos", chunkPos),
			schema.Field("ci", schema.U32()),
			schema.Field("blocks", schema.Bytes()),
		)),
		schema.Variant("RemoveChunk", schema.Struct("RemoveChunk",
			schema.Field("pos", chunkPos),
			schema.Field("ci", schema.U32()),
		)),
		schema.Variant("AddClient", schema.Struct("AddClient",
			schema.Field("client_key", schema.U32()),
			schema.Field("username", schema.Str()),
			schema.Field("char", charState),
		)),
		schema.Variant("RemoveClient", schema.Struct("RemoveClient",
			schema.Field("client_key", schema.U32()),
		)),
		schema.Variant("ApplyEdit", schema.Struct("ApplyEdit",
			schema.Field("ack", schema.Option(schema.U64())),
			schema.Field("edit", c.edit),
		)),
		schema.Variant("Ack", schema.Struct("Ack",
			schema.Field("up_msg_idx", schema.U64()),
		)),
		schema.Variant("ChatLine", schema.Struct("ChatLine",
			schema.Field("speaker", schema.Str()),
			schema.Field("message", schema.Str()),
		)),
		schema.Variant("SetCharState", schema.Struct("SetCharState",
			schema.Field("client_key", schema.U32()),
			schema.Field("char", charState),
		)),
	)
	return c
}

// UpSchema returns the schema of client-to-server messages.
func (c *Codec) UpSchema() *schema.Schema {
	return c.up
}

// DownSchema returns the schema of server-to-client messages.
func (c *Codec) DownSchema() *schema.Schema {
	return c.down
}

// EncodeUp encodes a client-to-server message into a frame.
func (c *Codec) EncodeUp(m UpMsg) ([]byte, error) {
	var buf bytes.Buffer
	e := schema.NewEncoder(c.up, &buf)
	var err error
	switch m := m.(type) {
	case LogIn:
		err = do(
			e.BeginEnum(upLogIn),
			e.BeginStruct(),
			e.Str(m.Username),
			e.U64(m.Fingerprint),
		)
	case JoinGame:
		err = do(e.BeginEnum(upJoinGame), e.BeginTuple())
	case AcceptMoreChunks:
		err = do(e.BeginEnum(upAcceptMoreChunks), e.BeginStruct(), e.U32(m.N))
	case SetTileBlock:
		if err = do(
			e.BeginEnum(upSetTileBlock),
			e.BeginStruct(),
			e.BeginTuple(),
			e.I32(m.Pos[0]), e.I32(m.Pos[1]), e.I32(m.Pos[2]),
		); err == nil {
			err = c.reg.EncodeTile(e, m.Block, m.Meta)
		}
	case SetItemSlot:
		if err = do(e.BeginEnum(upSetItemSlot), e.BeginStruct(), e.U8(m.Slot)); err == nil {
			err = item.EncodeSlot(e, m.Stack)
		}
	case Say:
		err = do(e.BeginEnum(upSay), e.BeginStruct(), e.Str(m.Message))
	case SetCharStateUp:
		if err = e.BeginEnum(upSetCharState); err == nil {
			err = encodeCharState(e, m.Char)
		}
	case ItemSlotAdd:
		err = do(e.BeginEnum(upItemSlotAdd), e.BeginTuple())
	case OpenGameMenu:
		err = do(e.BeginEnum(upOpenGameMenu), e.BeginTuple())
	case CloseGameMenu:
		err = do(e.BeginEnum(upCloseGameMenu), e.BeginTuple())
	default:
		return nil, fmt.Errorf("protocol: unknown up message %T", m)
	}
	if err != nil {
		return nil, err
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeUp decodes a client-to-server frame.
func (c *Codec) DecodeUp(frame []byte) (UpMsg, error) {
	d := schema.NewDecoder(c.up, bytes.NewReader(frame))
	ord, err := d.BeginEnum()
	if err != nil {
		return nil, err
	}
	var m UpMsg
	switch ord {
	case upLogIn:
		var v LogIn
		if err = d.BeginStruct(); err == nil {
			v.Username, err = d.Str()
		}
		if err == nil {
			v.Fingerprint, err = d.U64()
		}
		m = v
	case upJoinGame:
		err = d.BeginTuple()
		m = JoinGame{}
	case upAcceptMoreChunks:
		var v AcceptMoreChunks
		if err = d.BeginStruct(); err == nil {
			v.N, err = d.U32()
		}
		m = v
	case upSetTileBlock:
		var v SetTileBlock
		if err = d.BeginStruct(); err == nil {
			err = d.BeginTuple()
		}
		for i := 0; i < 3 && err == nil; i++ {
			v.Pos[i], err = d.I32()
		}
		if err == nil {
			v.Block, v.Meta, err = c.reg.DecodeTile(d)
		}
		m = v
	case upSetItemSlot:
		var v SetItemSlot
		if err = d.BeginStruct(); err == nil {
			v.Slot, err = d.U8()
		}
		if err == nil {
			v.Stack, err = item.DecodeSlot(d)
		}
		m = v
	case upSay:
		var v Say
		if err = d.BeginStruct(); err == nil {
			v.Message, err = d.Str()
		}
		m = v
	case upSetCharState:
		var v SetCharStateUp
		v.Char, err = decodeCharState(d)
		m = v
	case upItemSlotAdd:
		err = d.BeginTuple()
		m = ItemSlotAdd{}
	case upOpenGameMenu:
		err = d.BeginTuple()
		m = OpenGameMenu{}
	case upCloseGameMenu:
		err = d.BeginTuple()
		m = CloseGameMenu{}
	}
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeDown encodes a server-to-client message into a frame.
func (c *Codec) EncodeDown(m DownMsg) ([]byte, error) {
	var buf bytes.Buffer
	e := schema.NewEncoder(c.down, &buf)
	var err error
	switch m := m.(type) {
	case Close:
		err = do(e.BeginEnum(downClose), e.BeginStruct(), e.Str(m.Message))
	case AcceptLogin:
		if err = do(e.BeginEnum(downAcceptLogin), e.BeginStruct(), e.BeginArray()); err == nil {
			for _, slot := range m.InventorySlots {
				if err = item.EncodeSlot(e, slot); err != nil {
					break
				}
			}
		}
	case ShouldJoinGame:
		err = do(e.BeginEnum(downShouldJoinGame), e.BeginStruct(), e.U32(m.OwnClientKey))
	case AddChunk:
		err = do(
			e.BeginEnum(downAddChunk),
			e.BeginStruct(),
			encodeChunkPos(e, m.Pos),
			e.U32(m.CI),
			e.Bytes(m.Blocks),
		)
	case RemoveChunk:
		err = do(
			e.BeginEnum(downRemoveChunk),
			e.BeginStruct(),
			encodeChunkPos(e, m.Pos),
			e.U32(m.CI),
		)
	case AddClient:
		if err = do(
			e.BeginEnum(downAddClient),
			e.BeginStruct(),
			e.U32(m.ClientKey),
			e.Str(m.Username),
		); err == nil {
			err = encodeCharState(e, m.Char)
		}
	case RemoveClient:
		err = do(e.BeginEnum(downRemoveClient), e.BeginStruct(), e.U32(m.ClientKey))
	case ApplyEdit:
		if err = do(e.BeginEnum(downApplyEdit), e.BeginStruct()); err == nil {
			if m.Ack != nil {
				err = do(e.Some(), e.U64(*m.Ack))
			} else {
				err = e.None()
			}
		}
		if err == nil {
			err = c.encodeEdit(e, m.Edit)
		}
	case Ack:
		err = do(e.BeginEnum(downAck), e.BeginStruct(), e.U64(m.UpMsgIdx))
	case ChatLine:
		err = do(e.BeginEnum(downChatLine), e.BeginStruct(), e.Str(m.Speaker), e.Str(m.Message))
	case SetCharStateDown:
		if err = do(e.BeginEnum(downSetCharState), e.BeginStruct(), e.U32(m.ClientKey)); err == nil {
			err = encodeCharState(e, m.Char)
		}
	default:
		return nil, fmt.Errorf("protocol: unknown down message %T", m)
	}
	if err != nil {
		return nil, err
	}
	if err := e.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDown decodes a server-to-client frame.
func (c *Codec) DecodeDown(frame []byte) (DownMsg, error) {
	d := schema.NewDecoder(c.down, bytes.NewReader(frame))
	ord, err := d.BeginEnum()
	if err != nil {
		return nil, err
	}
	var m DownMsg
	switch ord {
	case downClose:
		var v Close
		if err = d.BeginStruct(); err == nil {
			v.Message, err = d.Str()
		}
		m = v
	case downAcceptLogin:
		var v AcceptLogin
		if err = d.BeginStruct(); err == nil {
			_, err = d.BeginArray()
		}
		for i := 0; i < item.InventorySize && err == nil; i++ {
			v.InventorySlots[i], err = item.DecodeSlot(d)
		}
		m = v
	case downShouldJoinGame:
		var v ShouldJoinGame
		if err = d.BeginStruct(); err == nil {
			v.OwnClientKey, err = d.U32()
		}
		m = v
	case downAddChunk:
		var v AddChunk
		if err = d.BeginStruct(); err == nil {
			v.Pos, err = decodeChunkPos(d)
		}
		if err == nil {
			v.CI, err = d.U32()
		}
		if err == nil {
			v.Blocks, err = d.Bytes()
		}
		m = v
	case downRemoveChunk:
		var v RemoveChunk
		if err = d.BeginStruct(); err == nil {
			v.Pos, err = decodeChunkPos(d)
		}
		if err == nil {
			v.CI, err = d.U32()
		}
		m = v
	case downAddClient:
		var v AddClient
		if err = d.BeginStruct(); err == nil {
			v.ClientKey, err = d.U32()
		}
		if err == nil {
			v.Username, err = d.Str()
		}
		if err == nil {
			v.Char, err = decodeCharState(d)
		}
		m = v
	case downRemoveClient:
		var v RemoveClient
		if err = d.BeginStruct(); err == nil {
			v.ClientKey, err = d.U32()
		}
		m = v
	case downApplyEdit:
		var v ApplyEdit
		if err = d.BeginStruct(); err == nil {
			var some bool
			if some, err = d.Some(); err == nil && some {
				var ack uint64
				if ack, err = d.U64(); err == nil {
					v.Ack = &ack
				}
			}
		}
		if err == nil {
			v.Edit, err = c.decodeEdit(d)
		}
		m = v
	case downAck:
		var v Ack
		if err = d.BeginStruct(); err == nil {
			v.UpMsgIdx, err = d.U64()
		}
		m = v
	case downChatLine:
		var v ChatLine
		if err = d.BeginStruct(); err == nil {
			v.Speaker, err = d.Str()
		}
		if err == nil {
			v.Message, err = d.Str()
		}
		m = v
	case downSetCharState:
		var v SetCharStateDown
		if err = d.BeginStruct(); err == nil {
			v.ClientKey, err = d.U32()
		}
		if err == nil {
			v.Char, err = decodeCharState(d)
		}
		m = v
	}
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Codec) encodeEdit(e *schema.Encoder, edit world.Edit) error {
	switch edit := edit.(type) {
	case world.TileEdit:
		if err := do(
			e.BeginEnum(editTile),
			e.BeginStruct(),
			e.U32(uint32(edit.CI)),
			e.U16(uint16(edit.LTI)),
		); err != nil {
			return err
		}
		switch op := edit.Op.(type) {
		case world.SetTileBlock:
			if err := do(e.BeginEnum(0), e.BeginStruct()); err != nil {
				return err
			}
			return c.reg.EncodeTile(e, op.Block, op.Meta)
		}
		return fmt.Errorf("protocol: unknown tile op %T", edit.Op)
	case world.InventorySlotEdit:
		if err := do(
			e.BeginEnum(editInventorySlot),
			e.BeginStruct(),
			e.U8(edit.Slot),
		); err != nil {
			return err
		}
		switch op := edit.Op.(type) {
		case world.SetItemSlot:
			if err := do(e.BeginEnum(0), e.BeginStruct()); err != nil {
				return err
			}
			return item.EncodeSlot(e, op.Stack)
		}
		return fmt.Errorf("protocol: unknown slot op %T", edit.Op)
	}
	return fmt.Errorf("protocol: unknown edit %T", edit)
}

func (c *Codec) decodeEdit(d *schema.Decoder) (world.Edit, error) {
	ord, err := d.BeginEnum()
	if err != nil {
		return nil, err
	}
	switch ord {
	case editTile:
		var v world.TileEdit
		if err := d.BeginStruct(); err != nil {
			return nil, err
		}
		ci, err := d.U32()
		if err != nil {
			return nil, err
		}
		v.CI = int(ci)
		lti, err := d.U16()
		if err != nil {
			return nil, err
		}
		v.LTI = chunk.TileIndex(lti)
		if _, err := d.BeginEnum(); err != nil {
			return nil, err
		}
		if err := d.BeginStruct(); err != nil {
			return nil, err
		}
		id, meta, err := c.reg.DecodeTile(d)
		if err != nil {
			return nil, err
		}
		v.Op = world.SetTileBlock{Block: id, Meta: meta}
		return v, nil
	case editInventorySlot:
		var v world.InventorySlotEdit
		if err := d.BeginStruct(); err != nil {
			return nil, err
		}
		if v.Slot, err = d.U8(); err != nil {
			return nil, err
		}
		if _, err := d.BeginEnum(); err != nil {
			return nil, err
		}
		if err := d.BeginStruct(); err != nil {
			return nil, err
		}
		stack, err := item.DecodeSlot(d)
		if err != nil {
			return nil, err
		}
		v.Op = world.SetItemSlot{Stack: stack}
		return v, nil
	}
	return nil, fmt.Errorf("protocol: unknown edit ordinal %v", ord)
}

func encodeCharState(e *schema.Encoder, c CharState) error {
	return do(
		e.BeginStruct(),
		e.BeginTuple(),
		e.F32(c.Pos[0]), e.F32(c.Pos[1]), e.F32(c.Pos[2]),
		e.F32(c.Yaw),
		e.F32(c.Pitch),
		e.Bool(c.Pointing),
		e.U8(c.LoadDist),
	)
}

func decodeCharState(d *schema.Decoder) (CharState, error) {
	var c CharState
	if err := d.BeginStruct(); err != nil {
		return c, err
	}
	if err := d.BeginTuple(); err != nil {
		return c, err
	}
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		c.Pos[i], err = d.F32()
	}
	if err == nil {
		c.Yaw, err = d.F32()
	}
	if err == nil {
		c.Pitch, err = d.F32()
	}
	if err == nil {
		c.Pointing, err = d.Bool()
	}
	if err == nil {
		c.LoadDist, err = d.U8()
	}
	return c, err
}

func encodeChunkPos(e *schema.Encoder, p world.ChunkPos) error {
	return do(e.BeginTuple(), e.I32(p[0]), e.I32(p[1]), e.I32(p[2]))
}

func decodeChunkPos(d *schema.Decoder) (world.ChunkPos, error) {
	var p world.ChunkPos
	if err := d.BeginTuple(); err != nil {
		return p, err
	}
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		p[i], err = d.I32()
	}
	return p, err
}

// do returns the first error among the steps passed. Encoding a message is
// a straight-line token sequence; this keeps the per-message code at one
// expression per token.
func do(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
