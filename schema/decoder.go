package schema

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// maxLen bounds length prefixes read from the stream so that corrupted data
// cannot trigger enormous allocations.
const maxLen = 1 << 30

// Decoder decodes a single value against a schema. Every token requested by
// the caller is validated against the schema node it lands on, and the
// bytes read are validated against both.
type Decoder struct {
	walk walker
	in   *bufio.Reader
}

// NewDecoder creates a Decoder that reads one value of the schema passed
// from in.
func NewDecoder(s *Schema, in io.Reader) *Decoder {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &Decoder{walk: newWalker(s), in: br}
}

func (d *Decoder) read(p []byte) error {
	if _, err := io.ReadFull(d.in, p); err != nil {
		return fmt.Errorf("schema: read at %s: %w", d.walk.path(), err)
	}
	return nil
}

func (d *Decoder) readUvarint() (uint64, error) {
	v, err := readUvarint[uint64](d.in)
	if err != nil {
		return 0, fmt.Errorf("schema: read at %s: %w", d.walk.path(), err)
	}
	return v, nil
}

// Bool decodes a boolean.
func (d *Decoder) Bool() (bool, error) {
	if _, err := d.walk.expect(KindBool); err != nil {
		return false, err
	}
	var raw [1]byte
	if err := d.read(raw[:]); err != nil {
		return false, err
	}
	if raw[0] > 1 {
		return false, &PathError{Path: d.walk.path(), Want: "a bool byte", Got: fmt.Sprintf("%#x", raw[0])}
	}
	d.walk.advance()
	return raw[0] == 1, nil
}

// U8 decodes a fixed-width 8-bit unsigned integer.
func (d *Decoder) U8() (uint8, error) {
	if _, err := d.walk.expect(KindU8); err != nil {
		return 0, err
	}
	var raw [1]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	return raw[0], nil
}

// U16 decodes a fixed-width 16-bit unsigned integer.
func (d *Decoder) U16() (uint16, error) {
	if _, err := d.walk.expect(KindU16); err != nil {
		return 0, err
	}
	var raw [2]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	return uint16(raw[0]) | uint16(raw[1])<<8, nil
}

// U32 decodes a varint 32-bit unsigned integer.
func (d *Decoder) U32() (uint32, error) {
	if _, err := d.walk.expect(KindU32); err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, &PathError{Path: d.walk.path(), Want: "a 32-bit value", Got: fmt.Sprintf("%d", v)}
	}
	d.walk.advance()
	return uint32(v), nil
}

// U64 decodes a varint 64-bit unsigned integer.
func (d *Decoder) U64() (uint64, error) {
	if _, err := d.walk.expect(KindU64); err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	d.walk.advance()
	return v, nil
}

// U128 decodes a 128-bit unsigned integer.
func (d *Decoder) U128() (Uint128, error) {
	if _, err := d.walk.expect(KindU128); err != nil {
		return Uint128{}, err
	}
	lo, err := d.readUvarint()
	if err != nil {
		return Uint128{}, err
	}
	hi, err := d.readUvarint()
	if err != nil {
		return Uint128{}, err
	}
	d.walk.advance()
	return Uint128{Hi: hi, Lo: lo}, nil
}

// I8 decodes a fixed-width 8-bit signed integer.
func (d *Decoder) I8() (int8, error) {
	if _, err := d.walk.expect(KindI8); err != nil {
		return 0, err
	}
	var raw [1]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	return int8(raw[0]), nil
}

// I16 decodes a fixed-width 16-bit signed integer.
func (d *Decoder) I16() (int16, error) {
	if _, err := d.walk.expect(KindI16); err != nil {
		return 0, err
	}
	var raw [2]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	return int16(uint16(raw[0]) | uint16(raw[1])<<8), nil
}

// I32 decodes a zigzag varint 32-bit signed integer.
func (d *Decoder) I32() (int32, error) {
	if _, err := d.walk.expect(KindI32); err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	s := unzigzag(v)
	if s > math.MaxInt32 || s < math.MinInt32 {
		return 0, &PathError{Path: d.walk.path(), Want: "a 32-bit value", Got: fmt.Sprintf("%d", s)}
	}
	d.walk.advance()
	return int32(s), nil
}

// I64 decodes a zigzag varint 64-bit signed integer.
func (d *Decoder) I64() (int64, error) {
	if _, err := d.walk.expect(KindI64); err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	d.walk.advance()
	return unzigzag(v), nil
}

// I128 decodes a 128-bit signed integer as its two's complement halves.
func (d *Decoder) I128() (Uint128, error) {
	if _, err := d.walk.expect(KindI128); err != nil {
		return Uint128{}, err
	}
	lo, err := d.readUvarint()
	if err != nil {
		return Uint128{}, err
	}
	hi, err := d.readUvarint()
	if err != nil {
		return Uint128{}, err
	}
	d.walk.advance()
	return Uint128{Hi: hi, Lo: lo}, nil
}

// F32 decodes a 32-bit float.
func (d *Decoder) F32() (float32, error) {
	if _, err := d.walk.expect(KindF32); err != nil {
		return 0, err
	}
	var raw [4]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	bits := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return math.Float32frombits(bits), nil
}

// F64 decodes a 64-bit float.
func (d *Decoder) F64() (float64, error) {
	if _, err := d.walk.expect(KindF64); err != nil {
		return 0, err
	}
	var raw [8]byte
	if err := d.read(raw[:]); err != nil {
		return 0, err
	}
	d.walk.advance()
	var bits uint64
	for i := range raw {
		bits |= uint64(raw[i]) << (8 * i)
	}
	return math.Float64frombits(bits), nil
}

// Char decodes a unicode code point.
func (d *Decoder) Char() (rune, error) {
	if _, err := d.walk.expect(KindChar); err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	r := rune(v)
	if v > utf8.MaxRune || !utf8.ValidRune(r) {
		return 0, &PathError{Path: d.walk.path(), Want: "a unicode code point", Got: fmt.Sprintf("%#x", v)}
	}
	d.walk.advance()
	return r, nil
}

// Str decodes a length-prefixed UTF-8 string.
func (d *Decoder) Str() (string, error) {
	if _, err := d.walk.expect(KindStr); err != nil {
		return "", err
	}
	n, err := d.readUvarint()
	if err != nil {
		return "", err
	}
	if n > maxLen {
		return "", &PathError{Path: d.walk.path(), Want: "a sane string length", Got: fmt.Sprintf("%d", n)}
	}
	raw := make([]byte, n)
	if err := d.read(raw); err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", &PathError{Path: d.walk.path(), Want: "valid UTF-8", Got: "invalid UTF-8 bytes"}
	}
	d.walk.advance()
	return string(raw), nil
}

// Bytes decodes a length-prefixed byte string.
func (d *Decoder) Bytes() ([]byte, error) {
	if _, err := d.walk.expect(KindBytes); err != nil {
		return nil, err
	}
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, &PathError{Path: d.walk.path(), Want: "a sane byte length", Got: fmt.Sprintf("%d", n)}
	}
	raw := make([]byte, n)
	if err := d.read(raw); err != nil {
		return nil, err
	}
	d.walk.advance()
	return raw, nil
}

// Some decodes an option's presence flag. If it returns true, the payload
// value follows.
func (d *Decoder) Some() (bool, error) {
	s, err := d.walk.expect(KindOption)
	if err != nil {
		return false, err
	}
	var raw [1]byte
	if err := d.read(raw[:]); err != nil {
		return false, err
	}
	switch raw[0] {
	case 0:
		d.walk.advance()
		return false, nil
	case 1:
		d.walk.enter(s, 0, 0)
		return true, nil
	}
	return false, &PathError{Path: d.walk.path(), Want: "an option byte", Got: fmt.Sprintf("%#x", raw[0])}
}

// BeginSeq decodes a sequence's length; that many elements follow.
func (d *Decoder) BeginSeq() (int, error) {
	s, err := d.walk.expect(KindSeq)
	if err != nil {
		return 0, err
	}
	n, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if n > maxLen {
		return 0, &PathError{Path: d.walk.path(), Want: "a sane sequence length", Got: fmt.Sprintf("%d", n)}
	}
	d.walk.enter(s, int(n), 0)
	return int(n), nil
}

// BeginArray begins a fixed-length sequence; the schema-determined number of
// elements follow.
func (d *Decoder) BeginArray() (int, error) {
	s, err := d.walk.expect(KindArray)
	if err != nil {
		return 0, err
	}
	n := s.Len
	d.walk.enter(s, 0, 0)
	return n, nil
}

// BeginTuple begins a tuple; its elements follow in order.
func (d *Decoder) BeginTuple() error {
	s, err := d.walk.expect(KindTuple)
	if err != nil {
		return err
	}
	d.walk.enter(s, 0, 0)
	return nil
}

// BeginStruct begins a struct; its fields follow in schema order.
func (d *Decoder) BeginStruct() error {
	s, err := d.walk.expect(KindStruct)
	if err != nil {
		return err
	}
	d.walk.enter(s, 0, 0)
	return nil
}

// BeginEnum decodes an enum's variant ordinal; the variant's payload
// follows.
func (d *Decoder) BeginEnum() (int, error) {
	s, err := d.walk.expect(KindEnum)
	if err != nil {
		return 0, err
	}
	v, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if v >= uint64(len(s.Variants)) {
		return 0, &PathError{Path: d.walk.path(), Want: fmt.Sprintf("a variant ordinal below %d", len(s.Variants)), Got: fmt.Sprintf("%d", v)}
	}
	d.walk.enter(s, 0, int(v))
	return int(v), nil
}

// Finish validates that the value is complete.
func (d *Decoder) Finish() error {
	if !d.walk.done {
		return &PathError{Path: d.walk.path(), Want: "more tokens", Got: "finish"}
	}
	return nil
}
