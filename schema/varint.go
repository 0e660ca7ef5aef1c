package schema

import (
	"encoding/binary"
	"io"

	"golang.org/x/exp/constraints"
)

// zigzag maps a signed integer onto an unsigned one so that values of small
// magnitude encode to short varints regardless of sign.
func zigzag[T constraints.Signed](v T) uint64 {
	x := int64(v)
	return uint64(x<<1) ^ uint64(x>>63)
}

// unzigzag inverts zigzag.
func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// writeUvarint writes v in unsigned LEB128 form.
func writeUvarint[T constraints.Unsigned](w io.Writer, v T) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(v))
	_, err := w.Write(buf[:n])
	return err
}

// readUvarint reads an unsigned LEB128 integer and checks it fits the width
// of T.
func readUvarint[T constraints.Unsigned](r io.ByteReader) (T, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if uint64(T(v)) != v {
		return 0, &PathError{Path: "$", Want: "a narrower integer", Got: "varint overflowing the schema width"}
	}
	return T(v), nil
}
