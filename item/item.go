// Package item provides the item registry and the stacks and inventories
// built from it.
package item

import (
	"fmt"

	"github.com/notminecraft/notminecraft/schema"
)

// ID is a handle into the item registry.
type ID uint16

// InventorySize is the number of slots in a player inventory.
const InventorySize = 36

// MaxCount is the largest number of items a single stack holds.
const MaxCount = 64

// Stack is a quantity of a single kind of item.
type Stack struct {
	ID    ID
	Count uint8
}

// String formats the stack for logs.
func (s Stack) String() string {
	return fmt.Sprintf("%vx item(%v)", s.Count, s.ID)
}

// Inventory is a fixed set of item slots. A nil slot is empty.
type Inventory struct {
	Slots [InventorySize]*Stack
}

// Def describes a registered item kind.
type Def struct {
	// Name is the registry name of the item, e.g. "stone".
	Name string
}

// Registry is the immutable-after-initialisation set of registered item
// kinds.
type Registry struct {
	defs   []Def
	byName map[string]ID
}

// NewRegistry creates an empty item registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]ID)}
}

// Register adds an item kind and returns its ID.
func (r *Registry) Register(def Def) ID {
	if _, ok := r.byName[def.Name]; ok {
		panic("item: duplicate registration of " + def.Name)
	}
	id := ID(len(r.defs))
	r.defs = append(r.defs, def)
	r.byName[def.Name] = id
	return id
}

// Def returns the definition of the item ID passed.
func (r *Registry) Def(id ID) Def {
	return r.defs[id]
}

// Lookup resolves an item name to its ID.
func (r *Registry) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Count returns the number of registered items.
func (r *Registry) Count() int {
	return len(r.defs)
}

// SlotSchema is the schema of a single inventory slot: an optional stack.
func SlotSchema() *schema.Schema {
	return schema.Option(schema.Struct("ItemStack",
		schema.Field("item", schema.U16()),
		schema.Field("count", schema.U8()),
	))
}

// EncodeSlot encodes an inventory slot against SlotSchema.
func EncodeSlot(e *schema.Encoder, s *Stack) error {
	if s == nil {
		return e.None()
	}
	if err := e.Some(); err != nil {
		return err
	}
	if err := e.BeginStruct(); err != nil {
		return err
	}
	if err := e.U16(uint16(s.ID)); err != nil {
		return err
	}
	return e.U8(s.Count)
}

// DecodeSlot decodes an inventory slot against SlotSchema.
func DecodeSlot(d *schema.Decoder) (*Stack, error) {
	some, err := d.Some()
	if err != nil {
		return nil, err
	}
	if !some {
		return nil, nil
	}
	if err := d.BeginStruct(); err != nil {
		return nil, err
	}
	id, err := d.U16()
	if err != nil {
		return nil, err
	}
	count, err := d.U8()
	if err != nil {
		return nil, err
	}
	return &Stack{ID: ID(id), Count: count}, nil
}
