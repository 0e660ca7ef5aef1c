package server

import (
	"github.com/google/uuid"
	"github.com/notminecraft/notminecraft/internal/abort"
	"github.com/notminecraft/notminecraft/server/save"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// serverEvent is something that happened asynchronously to the game loop,
// delivered on the loop's low-priority event tier.
type serverEvent interface {
	isServerEvent()
}

// chunkReadyEvent delivers a finished chunk load job.
type chunkReadyEvent struct {
	pos    world.ChunkPos
	blocks *chunk.Blocks
	saved  bool
	guard  *abort.Guard
}

// saveDoneEvent delivers the result of an asynchronous save commit.
type saveDoneEvent struct {
	chunks  []save.ChunkRef
	players []uuid.UUID
	err     error
}

func (chunkReadyEvent) isServerEvent() {}
func (saveDoneEvent) isServerEvent()   {}
