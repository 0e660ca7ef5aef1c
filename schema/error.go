package schema

import (
	"errors"
	"fmt"
)

// PathError is the structured error produced when a schema and a value (or a
// byte stream) disagree. Path names the node at which the disagreement was
// detected, starting at $ for the root.
type PathError struct {
	// Path is the path from the root of the schema to the mismatching node,
	// e.g. "$.edit.Tile.tile_edit".
	Path string
	// Want describes what the schema expects at the path.
	Want string
	// Got describes what the value or stream provided instead.
	Got string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("schema mismatch at %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// IsMismatch reports whether err is, or wraps, a schema mismatch.
func IsMismatch(err error) bool {
	var pe *PathError
	return errors.As(err, &pe)
}

// ErrComplete is returned when more tokens are supplied after the value
// described by the schema is already complete.
var ErrComplete = errors.New("schema: value already complete")
