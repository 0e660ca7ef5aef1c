// Package protocol defines the messages exchanged between client and
// server and their binary-schema encoding. Messages travel over an ordered,
// reliable, framed transport; the codec maps one message to one frame.
//
// Chunk indices in messages always belong to the index space of the message
// recipient: the server tells each client which index to load a chunk
// under, and afterwards refers to that chunk by the same index.
package protocol

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/item"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
)

// CharState is the broadcast state of a player character.
type CharState struct {
	Pos      mgl32.Vec3
	Yaw      float32
	Pitch    float32
	Pointing bool
	LoadDist uint8
}

// UpMsg is a message sent from client to server.
type UpMsg interface {
	isUpMsg()
}

// LogIn is the first message of a connection. The fingerprint is the
// client's registry fingerprint; the server refuses clients encoding the
// world under a different registry before anything else is exchanged.
type LogIn struct {
	Username    string
	Fingerprint uint64
}

// JoinGame is the client's answer to ShouldJoinGame, after which the server
// starts streaming the world.
type JoinGame struct{}

// AcceptMoreChunks grants the server credit to send N further AddChunk
// messages.
type AcceptMoreChunks struct {
	N uint32
}

// SetTileBlock proposes replacing the block at a world tile position. It is
// an edit-bearing message: the client numbers it with the next up-msg
// index.
type SetTileBlock struct {
	Pos   [3]int32
	Block chunk.BlockID
	Meta  any
}

// SetItemSlot proposes replacing one slot of the client's own inventory.
// It is an edit-bearing message.
type SetItemSlot struct {
	Slot  uint8
	Stack *item.Stack
}

// Say sends a chat line.
type Say struct {
	Message string
}

// SetCharStateUp reports the client's own character state, interest inputs
// (position, load distance) included.
type SetCharStateUp struct {
	Char CharState
}

// ItemSlotAdd is a declared extension for container interactions. The
// server does not process it yet.
type ItemSlotAdd struct{}

// OpenGameMenu is a declared extension for container interactions. The
// server does not process it yet.
type OpenGameMenu struct{}

// CloseGameMenu is a declared extension for container interactions. The
// server does not process it yet.
type CloseGameMenu struct{}

func (LogIn) isUpMsg()            {}
func (JoinGame) isUpMsg()         {}
func (AcceptMoreChunks) isUpMsg() {}
func (SetTileBlock) isUpMsg()     {}
func (SetItemSlot) isUpMsg()      {}
func (Say) isUpMsg()              {}
func (SetCharStateUp) isUpMsg()   {}
func (ItemSlotAdd) isUpMsg()      {}
func (OpenGameMenu) isUpMsg()     {}
func (CloseGameMenu) isUpMsg()    {}

// EditBearing reports whether the message consumes an up-msg index, i.e.
// whether the server acknowledges it through edit acks.
func EditBearing(m UpMsg) bool {
	switch m.(type) {
	case SetTileBlock, SetItemSlot:
		return true
	}
	return false
}

// DownMsg is a message sent from server to client.
type DownMsg interface {
	isDownMsg()
}

// Close informs the client the server is closing the connection.
type Close struct {
	Message string
}

// AcceptLogin accepts a LogIn and restores the client's saved inventory.
type AcceptLogin struct {
	InventorySlots [item.InventorySize]*item.Stack
}

// ShouldJoinGame tells the client it may join, and which client key
// identifies it in subsequent broadcasts.
type ShouldJoinGame struct {
	OwnClientKey uint32
}

// AddChunk loads a chunk on the client under the chunk index passed. The
// block payload is the registry encoding of the chunk's 4096 tiles,
// snappy-compressed.
type AddChunk struct {
	Pos    world.ChunkPos
	CI     uint32
	Blocks []byte
}

// RemoveChunk unloads a chunk from the client, releasing its index.
type RemoveChunk struct {
	Pos world.ChunkPos
	CI  uint32
}

// AddClient announces another connected player.
type AddClient struct {
	ClientKey uint32
	Username  string
	Char      CharState
}

// RemoveClient announces a player's departure.
type RemoveClient struct {
	ClientKey uint32
}

// ApplyEdit applies an authoritative edit to the client's replica. Ack, if
// present, confirms every up-msg of this client up to and including that
// index.
type ApplyEdit struct {
	Ack  *uint64
	Edit world.Edit
}

// Ack confirms up-msgs up to and including UpMsgIdx without carrying an
// edit. Sent when no other message is available to piggyback the ack on.
type Ack struct {
	UpMsgIdx uint64
}

// ChatLine relays a chat line.
type ChatLine struct {
	Speaker string
	Message string
}

// SetCharStateDown broadcasts another player's character state.
type SetCharStateDown struct {
	ClientKey uint32
	Char      CharState
}

func (Close) isDownMsg()            {}
func (AcceptLogin) isDownMsg()      {}
func (ShouldJoinGame) isDownMsg()   {}
func (AddChunk) isDownMsg()         {}
func (RemoveChunk) isDownMsg()      {}
func (AddClient) isDownMsg()        {}
func (RemoveClient) isDownMsg()     {}
func (ApplyEdit) isDownMsg()        {}
func (Ack) isDownMsg()              {}
func (ChatLine) isDownMsg()         {}
func (SetCharStateDown) isDownMsg() {}
