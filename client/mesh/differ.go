package mesh

// Differ maintains a set of variable-length submeshes packed contiguously
// into one logical vertex buffer and one logical index buffer, and tracks
// which ranges of each have changed since the last flush. Removing a
// submesh compacts the buffers, so freed storage is immediately reused and
// the buffers always equal the concatenation of the live submeshes.
type Differ struct {
	vertices []Vertex
	indices  []uint32

	subs []submesh
	free []int
	// order holds the keys of the live submeshes in buffer order.
	order []int

	// Dirty ranges of each buffer, coalesced: everything in
	// [dirtyFrom, len) differs from the flushed state. Appends and
	// compactions only ever invalidate suffixes, so a suffix is the exact
	// dirty set, not an over-approximation.
	dirtyVertsFrom int
	dirtyIdxFrom   int
}

type submesh struct {
	vStart, vLen int
	iStart, iLen int
	used         bool
	// pos is the submesh's position in the differ's order list.
	pos int
}

// NewDiffer creates an empty Differ.
func NewDiffer() *Differ {
	return &Differ{}
}

// AddSubmesh stores the mesh data passed as a new submesh and returns its
// key. The data's indices are local to the data and rebased internally.
func (d *Differ) AddSubmesh(data *Data) int {
	sub := submesh{
		vStart: len(d.vertices),
		vLen:   len(data.Vertices),
		iStart: len(d.indices),
		iLen:   len(data.Indices),
		used:   true,
		pos:    len(d.order),
	}
	d.markVertsDirty(sub.vStart)
	d.markIdxDirty(sub.iStart)
	d.vertices = append(d.vertices, data.Vertices...)
	for _, i := range data.Indices {
		d.indices = append(d.indices, uint32(sub.vStart)+i)
	}

	var key int
	if n := len(d.free); n > 0 {
		key = d.free[n-1]
		d.free = d.free[:n-1]
		d.subs[key] = sub
	} else {
		key = len(d.subs)
		d.subs = append(d.subs, sub)
	}
	d.order = append(d.order, key)
	return key
}

// RemoveSubmesh removes a submesh, compacting the buffers over the hole it
// leaves.
func (d *Differ) RemoveSubmesh(key int) {
	sub := d.subs[key]
	if !sub.used {
		panic("mesh: removal of vacant submesh key")
	}
	d.markVertsDirty(sub.vStart)
	d.markIdxDirty(sub.iStart)

	// Close the gaps in both buffers and rebase the submeshes behind them.
	d.vertices = append(d.vertices[:sub.vStart], d.vertices[sub.vStart+sub.vLen:]...)
	d.indices = append(d.indices[:sub.iStart], d.indices[sub.iStart+sub.iLen:]...)
	for i := sub.iStart; i < len(d.indices); i++ {
		d.indices[i] -= uint32(sub.vLen)
	}
	for _, k := range d.order[sub.pos+1:] {
		moved := &d.subs[k]
		moved.vStart -= sub.vLen
		moved.iStart -= sub.iLen
		moved.pos--
	}
	d.order = append(d.order[:sub.pos], d.order[sub.pos+1:]...)

	d.subs[key] = submesh{}
	d.free = append(d.free, key)
}

func (d *Differ) markVertsDirty(from int) {
	if from < d.dirtyVertsFrom {
		d.dirtyVertsFrom = from
	}
}

func (d *Differ) markIdxDirty(from int) {
	if from < d.dirtyIdxFrom {
		d.dirtyIdxFrom = from
	}
}

// Vertices returns the logical vertex buffer.
func (d *Differ) Vertices() []Vertex {
	return d.vertices
}

// Indices returns the logical index buffer.
func (d *Differ) Indices() []uint32 {
	return d.indices
}

// Submeshes returns the number of live submeshes.
func (d *Differ) Submeshes() int {
	return len(d.order)
}

// Flush writes the buffered changes into the buffers passed and resets the
// dirty state. The writes cover exactly the suffix of each buffer touched
// since the previous flush.
func (d *Differ) Flush(vb Buffer[Vertex], ib Buffer[uint32]) {
	vb.SetLen(len(d.vertices))
	if d.dirtyVertsFrom < len(d.vertices) {
		vb.Write(d.dirtyVertsFrom, d.vertices[d.dirtyVertsFrom:])
	}
	ib.SetLen(len(d.indices))
	if d.dirtyIdxFrom < len(d.indices) {
		ib.Write(d.dirtyIdxFrom, d.indices[d.dirtyIdxFrom:])
	}
	d.dirtyVertsFrom = len(d.vertices)
	d.dirtyIdxFrom = len(d.indices)
}
