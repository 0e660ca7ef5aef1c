package block

import (
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/schema"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Texture atlas indices of the built-in blocks.
const (
	texStone uint16 = iota + 1
	texDirt
	texGrassTop
	texGrassSide
	texSand
	texLogTop
	texLogSide
	texChestTop
	texChestSide
	texChestFront
)

// ChestSlots is the number of item slots a chest holds.
const ChestSlots = 27

// ChestMeta is the metadata of a chest block: its container contents.
type ChestMeta struct {
	Slots [ChestSlots]*item.Stack
}

// LogMeta is the metadata of a log block: the axis it was placed along.
type LogMeta struct {
	// Axis is 0 for y, 1 for x, 2 for z.
	Axis uint8
}

// Content holds the block IDs of the built-in content registered by
// RegisterContent.
type Content struct {
	Air   chunk.BlockID
	Stone chunk.BlockID
	Dirt  chunk.BlockID
	Grass chunk.BlockID
	Sand  chunk.BlockID
	Log   chunk.BlockID
	Chest chunk.BlockID
}

// RegisterContent registers the built-in block content on the registry
// passed and returns the assigned IDs. The registry must be freshly
// created, so that air holds ID 0.
func RegisterContent(r *Registry) Content {
	uniform := func(tex uint16) [6]uint16 {
		return [6]uint16{tex, tex, tex, tex, tex, tex}
	}

	grass := uniform(texGrassSide)
	grass[cube.FaceUp] = texGrassTop
	grass[cube.FaceDown] = texDirt

	log := uniform(texLogSide)
	log[cube.FaceUp] = texLogTop
	log[cube.FaceDown] = texLogTop

	chest := uniform(texChestSide)
	chest[cube.FaceUp] = texChestTop
	chest[cube.FaceDown] = texChestTop
	chest[cube.FaceNorth] = texChestFront

	c := Content{
		Air:   Air,
		Stone: r.Register(Def{Name: "stone", Opaque: true, Textures: uniform(texStone)}),
		Dirt:  r.Register(Def{Name: "dirt", Opaque: true, Textures: uniform(texDirt)}),
		Grass: r.Register(Def{Name: "grass", Opaque: true, Textures: grass}),
		Sand:  r.Register(Def{Name: "sand", Opaque: true, Textures: uniform(texSand)}),
		Log: r.Register(Def{Name: "log", Opaque: true, Textures: log,
			Meta: MetaOf(
				schema.Struct("LogMeta", schema.Field("axis", schema.U8())),
				func() LogMeta { return LogMeta{} },
				encodeLogMeta, decodeLogMeta,
			),
		}),
		Chest: r.Register(Def{Name: "chest", Opaque: true, Textures: chest,
			Meta: MetaOf(
				schema.Struct("ChestMeta", schema.Field("slots", schema.Array(ChestSlots, item.SlotSchema()))),
				func() ChestMeta { return ChestMeta{} },
				encodeChestMeta, decodeChestMeta,
			),
		}),
	}
	return c
}

// DefaultRegistry creates a registry with the built-in content registered.
func DefaultRegistry() (*Registry, Content) {
	r := NewRegistry()
	c := RegisterContent(r)
	return r, c
}

func encodeLogMeta(e *schema.Encoder, m LogMeta) error {
	if err := e.BeginStruct(); err != nil {
		return err
	}
	return e.U8(m.Axis)
}

func decodeLogMeta(d *schema.Decoder) (LogMeta, error) {
	if err := d.BeginStruct(); err != nil {
		return LogMeta{}, err
	}
	axis, err := d.U8()
	if err != nil {
		return LogMeta{}, err
	}
	return LogMeta{Axis: axis}, nil
}

func encodeChestMeta(e *schema.Encoder, m ChestMeta) error {
	if err := e.BeginStruct(); err != nil {
		return err
	}
	if err := e.BeginArray(); err != nil {
		return err
	}
	for _, slot := range m.Slots {
		if err := item.EncodeSlot(e, slot); err != nil {
			return err
		}
	}
	return nil
}

func decodeChestMeta(d *schema.Decoder) (ChestMeta, error) {
	var m ChestMeta
	if err := d.BeginStruct(); err != nil {
		return m, err
	}
	if _, err := d.BeginArray(); err != nil {
		return m, err
	}
	for i := range m.Slots {
		slot, err := item.DecodeSlot(d)
		if err != nil {
			return m, err
		}
		m.Slots[i] = slot
	}
	return m, nil
}
