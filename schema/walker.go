package schema

import (
	"fmt"
	"strings"
)

// frame records a composite schema node that has been entered but not yet
// completed.
type frame struct {
	s *Schema
	// idx is the number of children already consumed.
	idx int
	// n is the announced element count of a seq frame.
	n int
	// ord is the chosen variant ordinal of an enum frame.
	ord int
}

// childCount returns how many children the frame must consume before it
// completes.
func (f *frame) childCount() int {
	switch f.s.Kind {
	case KindOption, KindEnum:
		return 1
	case KindSeq:
		return f.n
	case KindArray:
		return f.s.Len
	case KindTuple:
		return len(f.s.Elems)
	case KindStruct:
		return len(f.s.Fields)
	}
	return 0
}

// child returns the schema of the frame's current child.
func (f *frame) child() *Schema {
	switch f.s.Kind {
	case KindOption, KindSeq, KindArray:
		return f.s.Inner
	case KindTuple:
		return f.s.Elems[f.idx]
	case KindStruct:
		return f.s.Fields[f.idx].Schema
	case KindEnum:
		return f.s.Variants[f.ord].Schema
	}
	panic("not a composite frame")
}

// walker drives a schema traversal shared by Encoder and Decoder. It tracks
// which schema node the next token must match, entering composite nodes as
// they begin and popping them as their children complete.
type walker struct {
	next  *Schema
	stack []frame
	done  bool
}

func newWalker(root *Schema) walker {
	return walker{next: root}
}

// expect validates that the next token kind matches the schema, resolving
// recurse nodes against the current ancestor stack first.
func (w *walker) expect(k Kind) (*Schema, error) {
	if w.done {
		return nil, ErrComplete
	}
	s := w.next
	for s.Kind == KindRecurse {
		if s.Up > len(w.stack) {
			return nil, &PathError{Path: w.path(), Want: "an enclosing composite node", Got: fmt.Sprintf("recurse(%d) with only %d ancestors", s.Up, len(w.stack))}
		}
		s = w.stack[len(w.stack)-s.Up].s
	}
	if s.Kind != k {
		return nil, &PathError{Path: w.path(), Want: s.Kind.String(), Got: k.String()}
	}
	return s, nil
}

// enter pushes a composite node that expect has just validated. n is the
// dynamic length of a seq, ord the chosen variant of an enum.
func (w *walker) enter(s *Schema, n, ord int) {
	f := frame{s: s, n: n, ord: ord}
	if f.childCount() == 0 {
		w.advance()
		return
	}
	w.stack = append(w.stack, f)
	w.next = w.stack[len(w.stack)-1].child()
}

// advance moves past the current child, popping every frame it completes.
func (w *walker) advance() {
	for {
		if len(w.stack) == 0 {
			w.next, w.done = nil, true
			return
		}
		f := &w.stack[len(w.stack)-1]
		f.idx++
		if f.idx < f.childCount() {
			w.next = f.child()
			return
		}
		w.stack = w.stack[:len(w.stack)-1]
	}
}

// path renders the current position for error reporting.
func (w *walker) path() string {
	var b strings.Builder
	b.WriteByte('$')
	for i := range w.stack {
		f := &w.stack[i]
		switch f.s.Kind {
		case KindSeq, KindArray:
			fmt.Fprintf(&b, "[%d]", f.idx)
		case KindTuple:
			fmt.Fprintf(&b, ".%d", f.idx)
		case KindStruct:
			if f.idx < len(f.s.Fields) {
				b.WriteByte('.')
				b.WriteString(f.s.Fields[f.idx].Name)
			}
		case KindEnum:
			b.WriteByte('.')
			b.WriteString(f.s.Variants[f.ord].Name)
		case KindOption:
			b.WriteString(".some")
		}
	}
	return b.String()
}
