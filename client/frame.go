package client

import (
	"github.com/notminecraft/notminecraft/client/mesh"
	"github.com/notminecraft/notminecraft/client/meshing"
	"github.com/notminecraft/notminecraft/world"
)

// Frame advances the client's per-frame work: it services queued block
// updates and, for every meshed chunk with dirty tiles, re-meshes those
// tiles and flushes the buffered mesh changes to the chunk's GPU buffers.
func (c *Client) Frame() {
	// The consumers of block updates (physics, lighting) live outside the
	// core; drain the queue so its enqueue state does not accumulate.
	for {
		if _, ok := c.updates.Pop(); !ok {
			break
		}
	}

	var buf mesh.Data
	c.chunks.Each(func(pos world.ChunkPos, ci int, entry *chunkEntry) {
		if !entry.live() || !entry.mesh.Meshed() || !entry.mesh.Dirty() {
			return
		}
		for _, lti := range entry.mesh.TakeDirty() {
			buf.Clear()
			meshing.MeshTile(&buf, pos, lti, liveView{c}, c.reg)
			entry.mesh.SetTileSubmesh(lti, &buf)
		}
		entry.mesh.Flush()
	})
}
