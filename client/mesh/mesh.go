// Package mesh provides the geometry containers the client renders chunks
// from: mesh data built quad by quad, and a differ maintaining many small
// submeshes inside one contiguous pair of vertex and index buffers with
// buffered, minimal uploads.
package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is one vertex of a chunk mesh.
type Vertex struct {
	Pos      mgl32.Vec3
	UV       mgl32.Vec2
	Color    mgl32.Vec4
	TexIndex uint32
}

// QuadIndices is the index pattern of a quad: two triangles over four
// vertices.
var QuadIndices = [6]uint32{0, 1, 2, 0, 2, 3}

// Quad describes an axis-aligned textured rectangle: a start corner and
// two extent vectors spanning it.
type Quad struct {
	PosStart   mgl32.Vec3
	PosExt1    mgl32.Vec3
	PosExt2    mgl32.Vec3
	TexStart   mgl32.Vec2
	TexExtent  mgl32.Vec2
	VertColors [4]mgl32.Vec4
	TexIndex   uint32
}

// Vertices expands the quad to its four corner vertices, in QuadIndices
// winding order.
func (q *Quad) Vertices() [4]Vertex {
	p0 := q.PosStart
	p1 := q.PosStart.Add(q.PosExt1)
	p2 := q.PosStart.Add(q.PosExt1).Add(q.PosExt2)
	p3 := q.PosStart.Add(q.PosExt2)
	t0 := q.TexStart
	t1 := q.TexStart.Add(mgl32.Vec2{0, q.TexExtent[1]})
	t2 := q.TexStart.Add(q.TexExtent)
	t3 := q.TexStart.Add(mgl32.Vec2{q.TexExtent[0], 0})
	return [4]Vertex{
		{Pos: p0, UV: t0, Color: q.VertColors[0], TexIndex: q.TexIndex},
		{Pos: p1, UV: t1, Color: q.VertColors[1], TexIndex: q.TexIndex},
		{Pos: p2, UV: t2, Color: q.VertColors[2], TexIndex: q.TexIndex},
		{Pos: p3, UV: t3, Color: q.VertColors[3], TexIndex: q.TexIndex},
	}
}

// Data is mesh geometry under construction. Indices refer to the Data's
// own vertices.
type Data struct {
	Vertices []Vertex
	Indices  []uint32
}

// Clear empties the data, keeping its allocations for reuse.
func (d *Data) Clear() {
	d.Vertices = d.Vertices[:0]
	d.Indices = d.Indices[:0]
}

// Empty reports whether the data holds no geometry.
func (d *Data) Empty() bool {
	return len(d.Indices) == 0
}

// AddQuad appends a quad's four vertices and six indices.
func (d *Data) AddQuad(q *Quad) {
	base := uint32(len(d.Vertices))
	verts := q.Vertices()
	d.Vertices = append(d.Vertices, verts[:]...)
	for _, i := range QuadIndices {
		d.Indices = append(d.Indices, base+i)
	}
}
