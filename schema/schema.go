// Package schema implements a runtime-manipulable, self-describing schema
// for a compact binary encoding. A Schema is a tree of nodes describing the
// shape of a value; Encoder and Decoder walk the schema and the value in
// lockstep, so that any disagreement between the two surfaces as a
// structured error naming the path to the mismatch before any byte is
// produced or consumed for it.
//
// Wire messages and save-database entries share this representation. The
// schema of registry-dependent values differs between registries, and the
// Fingerprint of a schema is used to detect that before decoding is
// attempted.
package schema

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind enumerates the node kinds a Schema can be made of.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindF32
	KindF64
	KindChar
	KindStr
	KindBytes
	KindOption
	KindSeq
	KindArray
	KindTuple
	KindStruct
	KindEnum
	KindRecurse
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindU128:
		return "u128"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindI128:
		return "i128"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindChar:
		return "char"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindOption:
		return "option"
	case KindSeq:
		return "seq"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindRecurse:
		return "recurse"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// StructField is a named field of a struct schema.
type StructField struct {
	Name   string
	Schema *Schema
}

// EnumVariant is a named variant of an enum schema. Its ordinal is its index
// in the enum's variant list.
type EnumVariant struct {
	Name   string
	Schema *Schema
}

// Schema describes the shape of an encodable value. Schemas are immutable
// once built and safe for concurrent use.
type Schema struct {
	Kind Kind
	// Name is the type name of a struct schema.
	Name string
	// Len is the element count of an array schema.
	Len int
	// Inner is the payload schema of an option, seq or array schema.
	Inner *Schema
	// Elems are the element schemas of a tuple schema.
	Elems []*Schema
	// Fields are the fields of a struct schema, in encoding order.
	Fields []StructField
	// Variants are the variants of an enum schema, ordinal order.
	Variants []EnumVariant
	// Up is the number of enclosing composite nodes a recurse schema climbs
	// before re-entering that ancestor's schema.
	Up int
}

// Leaf node singletons. Leaf schemas carry no state, so sharing them keeps
// schema construction cheap.
var (
	leafBool  = &Schema{Kind: KindBool}
	leafU8    = &Schema{Kind: KindU8}
	leafU16   = &Schema{Kind: KindU16}
	leafU32   = &Schema{Kind: KindU32}
	leafU64   = &Schema{Kind: KindU64}
	leafU128  = &Schema{Kind: KindU128}
	leafI8    = &Schema{Kind: KindI8}
	leafI16   = &Schema{Kind: KindI16}
	leafI32   = &Schema{Kind: KindI32}
	leafI64   = &Schema{Kind: KindI64}
	leafI128  = &Schema{Kind: KindI128}
	leafF32   = &Schema{Kind: KindF32}
	leafF64   = &Schema{Kind: KindF64}
	leafChar  = &Schema{Kind: KindChar}
	leafStr   = &Schema{Kind: KindStr}
	leafBytes = &Schema{Kind: KindBytes}
)

// Bool returns the schema of a boolean.
func Bool() *Schema { return leafBool }

// U8 returns the schema of a fixed-width 8-bit unsigned integer.
func U8() *Schema { return leafU8 }

// U16 returns the schema of a fixed-width 16-bit unsigned integer.
func U16() *Schema { return leafU16 }

// U32 returns the schema of a variable-length-encoded 32-bit unsigned
// integer.
func U32() *Schema { return leafU32 }

// U64 returns the schema of a variable-length-encoded 64-bit unsigned
// integer.
func U64() *Schema { return leafU64 }

// U128 returns the schema of a variable-length-encoded 128-bit unsigned
// integer.
func U128() *Schema { return leafU128 }

// I8 returns the schema of a fixed-width 8-bit signed integer.
func I8() *Schema { return leafI8 }

// I16 returns the schema of a fixed-width 16-bit signed integer.
func I16() *Schema { return leafI16 }

// I32 returns the schema of a variable-length-encoded 32-bit signed integer.
func I32() *Schema { return leafI32 }

// I64 returns the schema of a variable-length-encoded 64-bit signed integer.
func I64() *Schema { return leafI64 }

// I128 returns the schema of a variable-length-encoded 128-bit signed
// integer.
func I128() *Schema { return leafI128 }

// F32 returns the schema of a 32-bit float.
func F32() *Schema { return leafF32 }

// F64 returns the schema of a 64-bit float.
func F64() *Schema { return leafF64 }

// Char returns the schema of a unicode code point.
func Char() *Schema { return leafChar }

// Str returns the schema of a UTF-8 string.
func Str() *Schema { return leafStr }

// Bytes returns the schema of a byte string.
func Bytes() *Schema { return leafBytes }

// Option returns the schema of an optional value of the inner schema.
func Option(inner *Schema) *Schema {
	return &Schema{Kind: KindOption, Inner: inner}
}

// Seq returns the schema of a variable-length sequence of the inner schema.
func Seq(inner *Schema) *Schema {
	return &Schema{Kind: KindSeq, Inner: inner}
}

// Array returns the schema of a fixed-length sequence of n values of the
// inner schema.
func Array(n int, inner *Schema) *Schema {
	if n < 0 {
		panic("schema.Array: negative length")
	}
	return &Schema{Kind: KindArray, Len: n, Inner: inner}
}

// Tuple returns the schema of a heterogeneous tuple of the element schemas
// passed.
func Tuple(elems ...*Schema) *Schema {
	return &Schema{Kind: KindTuple, Elems: elems}
}

// Struct returns the schema of a named struct with the fields passed, in
// encoding order.
func Struct(name string, fields ...StructField) *Schema {
	return &Schema{Kind: KindStruct, Name: name, Fields: fields}
}

// Field constructs a struct field.
func Field(name string, s *Schema) StructField {
	return StructField{Name: name, Schema: s}
}

// Enum returns the schema of a tagged union of the variants passed, in
// ordinal order.
func Enum(variants ...EnumVariant) *Schema {
	return &Schema{Kind: KindEnum, Variants: variants}
}

// Variant constructs an enum variant.
func Variant(name string, s *Schema) EnumVariant {
	return EnumVariant{Name: name, Schema: s}
}

// Unit returns the schema of a value carrying no data, expressed as an empty
// tuple. Enum variants without a payload use it.
func Unit() *Schema {
	return &Schema{Kind: KindTuple}
}

// Recurse returns a schema that re-enters the schema of the composite node
// up levels above it, allowing recursive types. Up must be at least 1; 1
// refers to the innermost enclosing composite node.
func Recurse(up int) *Schema {
	if up < 1 {
		panic("schema.Recurse: up must be at least 1")
	}
	return &Schema{Kind: KindRecurse, Up: up}
}

// String returns the canonical textual form of the schema. Two schemas are
// wire-compatible exactly when their canonical forms are equal.
func (s *Schema) String() string {
	var b strings.Builder
	s.writeCanonical(&b)
	return b.String()
}

func (s *Schema) writeCanonical(b *strings.Builder) {
	switch s.Kind {
	case KindOption, KindSeq:
		b.WriteString(s.Kind.String())
		b.WriteByte('(')
		s.Inner.writeCanonical(b)
		b.WriteByte(')')
	case KindArray:
		fmt.Fprintf(b, "array[%d](", s.Len)
		s.Inner.writeCanonical(b)
		b.WriteByte(')')
	case KindTuple:
		b.WriteString("tuple(")
		for i, e := range s.Elems {
			if i > 0 {
				b.WriteByte(',')
			}
			e.writeCanonical(b)
		}
		b.WriteByte(')')
	case KindStruct:
		fmt.Fprintf(b, "struct %s{", s.Name)
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.Name)
			b.WriteByte(':')
			f.Schema.writeCanonical(b)
		}
		b.WriteByte('}')
	case KindEnum:
		b.WriteString("enum{")
		for i, v := range s.Variants {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(v.Name)
			b.WriteByte(':')
			v.Schema.writeCanonical(b)
		}
		b.WriteByte('}')
	case KindRecurse:
		fmt.Fprintf(b, "recurse(%d)", s.Up)
	default:
		b.WriteString(s.Kind.String())
	}
}

// Fingerprint returns a stable 64-bit hash of the canonical form of the
// schema. Saves and connections negotiated under different fingerprints are
// incompatible.
func (s *Schema) Fingerprint() uint64 {
	return xxhash.Sum64String(s.String())
}

// Uint128 is a 128-bit unsigned integer value, used with schemas of kind
// KindU128 and KindI128 (the latter interpreting the bits as two's
// complement).
type Uint128 struct {
	Hi, Lo uint64
}
