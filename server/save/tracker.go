package save

import (
	"github.com/google/uuid"
	"github.com/notminecraft/notminecraft/internal/sliceutil"
	"github.com/notminecraft/notminecraft/world"
)

// ChunkRef identifies a loaded chunk in the tracker.
type ChunkRef struct {
	Pos world.ChunkPos
	CI  int
}

// Tracker keeps the dirty state of saveable data: which loaded chunks and
// which online players differ from their persisted form. Every mutation of
// saveable state must be reported to it, and the server drains it on each
// flush interval.
type Tracker struct {
	chunkSaved     world.PerChunk[bool]
	unsavedChunks  []ChunkRef
	playerSaved    map[uuid.UUID]bool
	unsavedPlayers []uuid.UUID
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{playerSaved: make(map[uuid.UUID]bool)}
}

// AddChunk registers a newly loaded chunk. A chunk read from disk starts
// saved; a freshly generated one starts unsaved and is queued for the next
// flush. Must follow the Space.Add call assigning ci.
func (t *Tracker) AddChunk(pos world.ChunkPos, ci int, saved bool) {
	t.chunkSaved.Add(pos, ci, saved)
	if !saved {
		t.unsavedChunks = append(t.unsavedChunks, ChunkRef{Pos: pos, CI: ci})
	}
}

// RemoveChunk unregisters an unloading chunk and reports whether it still
// held unsaved changes, in which case the caller must flush it before
// dropping its data.
func (t *Tracker) RemoveChunk(pos world.ChunkPos, ci int) bool {
	saved := t.chunkSaved.Remove(pos, ci)
	if !saved {
		ref := ChunkRef{Pos: pos, CI: ci}
		t.unsavedChunks = sliceutil.DeleteVal(t.unsavedChunks, ref)
	}
	return !saved
}

// MarkChunkUnsaved records that a loaded chunk's data changed.
func (t *Tracker) MarkChunkUnsaved(pos world.ChunkPos, ci int) {
	saved := t.chunkSaved.Get(pos, ci)
	if !*saved {
		return
	}
	*saved = false
	t.unsavedChunks = append(t.unsavedChunks, ChunkRef{Pos: pos, CI: ci})
}

// AddPlayer registers a joining player.
func (t *Tracker) AddPlayer(id uuid.UUID, saved bool) {
	t.playerSaved[id] = saved
	if !saved {
		t.unsavedPlayers = append(t.unsavedPlayers, id)
	}
}

// RemovePlayer unregisters a leaving player and reports whether their state
// still held unsaved changes.
func (t *Tracker) RemovePlayer(id uuid.UUID) bool {
	saved, ok := t.playerSaved[id]
	if !ok {
		return false
	}
	delete(t.playerSaved, id)
	if !saved {
		t.unsavedPlayers = sliceutil.DeleteVal(t.unsavedPlayers, id)
	}
	return !saved
}

// MarkPlayerUnsaved records that an online player's saveable state changed.
func (t *Tracker) MarkPlayerUnsaved(id uuid.UUID) {
	saved, ok := t.playerSaved[id]
	if !ok || !saved {
		return
	}
	t.playerSaved[id] = false
	t.unsavedPlayers = append(t.unsavedPlayers, id)
}

// Drain returns everything queued for saving and marks it saved, on the
// expectation that the caller snapshots and commits it immediately. If the
// commit later fails, the caller re-marks the entries unsaved.
func (t *Tracker) Drain() ([]ChunkRef, []uuid.UUID) {
	chunks, players := t.unsavedChunks, t.unsavedPlayers
	t.unsavedChunks, t.unsavedPlayers = nil, nil
	for _, ref := range chunks {
		*t.chunkSaved.Get(ref.Pos, ref.CI) = true
	}
	for _, id := range players {
		t.playerSaved[id] = true
	}
	return chunks, players
}

// Empty reports whether nothing is queued for saving.
func (t *Tracker) Empty() bool {
	return len(t.unsavedChunks) == 0 && len(t.unsavedPlayers) == 0
}
