// Package block provides the block registry: the set of block kinds a world
// is built from, together with the shape of the metadata each kind attaches
// to its tiles. The rest of the engine treats the registry as an opaque
// table it consults to validate, encode and mesh blocks.
package block

import (
	"fmt"

	"github.com/notminecraft/notminecraft/schema"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// Air is the block ID every registry assigns to air.
const Air chunk.BlockID = 0

// MetaSpec describes the metadata a block kind attaches to its tiles: its
// schema and the erased-type plumbing to validate and transcode values of
// it.
type MetaSpec struct {
	// Schema is the binary schema of the metadata value.
	Schema *schema.Schema
	// New returns a fresh metadata value in its default state.
	New func() any
	// Check validates that an erased value is of the concrete type this
	// spec transcodes.
	Check func(v any) error
	// Encode encodes an erased value against Schema.
	Encode func(e *schema.Encoder, v any) error
	// Decode decodes a value against Schema.
	Decode func(d *schema.Decoder) (any, error)
}

// MetaOf builds a MetaSpec for the concrete metadata type M from typed
// transcode functions, wrapping them with the erased-type assertion.
func MetaOf[M any](s *schema.Schema, fresh func() M, enc func(*schema.Encoder, M) error, dec func(*schema.Decoder) (M, error)) *MetaSpec {
	return &MetaSpec{
		Schema: s,
		New:    func() any { return fresh() },
		Check: func(v any) error {
			if _, ok := v.(M); !ok {
				return fmt.Errorf("block: metadata is %T, want %T", v, *new(M))
			}
			return nil
		},
		Encode: func(e *schema.Encoder, v any) error {
			m, ok := v.(M)
			if !ok {
				return fmt.Errorf("block: metadata is %T, want %T", v, *new(M))
			}
			return enc(e, m)
		},
		Decode: func(d *schema.Decoder) (any, error) {
			return dec(d)
		},
	}
}

// Def describes a registered block kind.
type Def struct {
	// Name is the registry name of the block, e.g. "chest".
	Name string
	// Opaque reports whether the block's faces fully obscure the touching
	// faces of its neighbours. Meshing elides faces against opaque
	// neighbours.
	Opaque bool
	// Meta is the metadata specification of the block, or nil if tiles of
	// this block carry none.
	Meta *MetaSpec
	// Textures holds the texture atlas index of each face, indexed by
	// cube.Face.
	Textures [6]uint16
}

// Registry is the set of registered block kinds. It is initialised once at
// startup and immutable afterwards; all of its methods are then safe for
// concurrent use.
type Registry struct {
	defs   []Def
	byName map[string]chunk.BlockID

	schema *schema.Schema
}

// NewRegistry creates a registry holding only air.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]chunk.BlockID)}
	r.Register(Def{Name: "air"})
	return r
}

// Register adds a block kind and returns its ID.
func (r *Registry) Register(def Def) chunk.BlockID {
	if r.schema != nil {
		panic("block: registration after registry use")
	}
	if _, ok := r.byName[def.Name]; ok {
		panic("block: duplicate registration of " + def.Name)
	}
	id := chunk.BlockID(len(r.defs))
	r.defs = append(r.defs, def)
	r.byName[def.Name] = id
	return id
}

// Def returns the definition of the block ID passed.
func (r *Registry) Def(id chunk.BlockID) *Def {
	return &r.defs[id]
}

// Known reports whether the block ID passed is registered.
func (r *Registry) Known(id chunk.BlockID) bool {
	return int(id) < len(r.defs)
}

// Lookup resolves a block name to its ID.
func (r *Registry) Lookup(name string) (chunk.BlockID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Count returns the number of registered blocks.
func (r *Registry) Count() int {
	return len(r.defs)
}

// CheckMeta validates an erased metadata value against the registration of
// the block ID passed: blocks without a metadata spec require nil metadata,
// blocks with one require a value of the registered concrete type.
func (r *Registry) CheckMeta(id chunk.BlockID, meta any) error {
	if !r.Known(id) {
		return fmt.Errorf("block: unknown block id %v", id)
	}
	def := &r.defs[id]
	if def.Meta == nil {
		if meta != nil {
			return fmt.Errorf("block: %v carries no metadata, got %T", def.Name, meta)
		}
		return nil
	}
	if meta == nil {
		return fmt.Errorf("block: %v requires metadata", def.Name)
	}
	return def.Meta.Check(meta)
}

// BlocksSchema returns the schema of a chunk's block storage under this
// registry: an array of one tagged value per tile, the tag being the block
// ID and the payload its metadata. Registries with different blocks or
// different metadata shapes produce different schemas, and therefore
// different fingerprints.
func (r *Registry) BlocksSchema() *schema.Schema {
	if r.schema == nil {
		variants := make([]schema.EnumVariant, len(r.defs))
		for i, def := range r.defs {
			s := schema.Unit()
			if def.Meta != nil {
				s = def.Meta.Schema
			}
			variants[i] = schema.Variant(def.Name, s)
		}
		r.schema = schema.Array(chunk.Tiles, schema.Enum(variants...))
	}
	return r.schema
}

// Fingerprint returns the stable hash identifying this registry's encoding
// of the world. Saves and connections are only compatible between equal
// fingerprints.
func (r *Registry) Fingerprint() uint64 {
	return r.BlocksSchema().Fingerprint()
}
