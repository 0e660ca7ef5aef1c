package server

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/protocol"
	"github.com/notminecraft/notminecraft/world"
)

func charAt(pos mgl32.Vec3, dist uint8) protocol.CharState {
	return protocol.CharState{Pos: pos, LoadDist: dist}
}

// effectsOf drains and partitions the manager's effects by type.
func effectsOf(m *chunkManager, md MustDrain) (loads, cancels []world.ChunkPos, sends []EffectSendChunk, removes []EffectRemoveChunk, drops []world.ChunkPos) {
	for _, e := range m.Drain(md) {
		switch e := e.(type) {
		case EffectLoad:
			loads = append(loads, e.Pos)
		case EffectCancelLoad:
			cancels = append(cancels, e.Pos)
		case EffectSendChunk:
			sends = append(sends, e)
		case EffectRemoveChunk:
			removes = append(removes, e)
		case EffectDropChunk:
			drops = append(drops, e.Pos)
		}
	}
	return
}

func TestInterestTriggersLoads(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)

	md := m.SetCharState(1, charAt(mgl32.Vec3{8, 20, 8}, 2))
	loads, _, sends, _, _ := effectsOf(m, md)

	// A 5x5 XZ square over the full world height.
	if want := 5 * 5 * world.HeightChunks; len(loads) != want {
		t.Fatalf("queued %v loads, want %v", len(loads), want)
	}
	if len(sends) != 0 {
		t.Fatal("sends emitted before any chunk loaded or budget granted")
	}
}

func TestBudgetGatesSends(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)

	md := m.SetCharState(1, charAt(mgl32.Vec3{8, 20, 8}, 2))
	loads, _, _, _, _ := effectsOf(m, md)
	for _, pos := range loads {
		_, _, sends, _, _ := effectsOf(m, m.ChunkLoaded(pos))
		if len(sends) != 0 {
			t.Fatal("send emitted at zero budget")
		}
	}

	// Crediting k allows exactly k sends, nearest chunks first.
	md, err := m.AcceptMoreChunks(1, 8)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, _, sends, _, _ := effectsOf(m, md)
	if len(sends) != 8 {
		t.Fatalf("credit 8 released %v sends", len(sends))
	}
	player := mgl32.Vec3{8, 20, 8}
	maxSent := float32(0)
	for _, s := range sends {
		if d := chunkDistSq(s.Pos, player); d > maxSent {
			maxSent = d
		}
	}
	// Every unsent chunk is at least as far as the furthest sent one.
	for pos, st := range m.clients[1].interest {
		if !st.sent {
			if d := chunkDistSq(pos, player); d < maxSent-0.01 {
				t.Fatalf("nearer chunk %v left unsent (d=%v < %v)", pos, d, maxSent)
			}
		}
	}

	// The next credit releases eight more, never exceeding the credit.
	md, err = m.AcceptMoreChunks(1, 8)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, _, sends, _, _ = effectsOf(m, md)
	if len(sends) != 8 {
		t.Fatalf("second credit released %v sends", len(sends))
	}
}

func TestCreditOverrunIsViolation(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)
	if _, err := m.AcceptMoreChunks(1, maxChunkCredit+1); err == nil {
		t.Fatal("absurd credit accepted")
	}
}

func TestInterestLossCancelsLoads(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)
	md := m.SetCharState(1, charAt(mgl32.Vec3{1600, 20, 0}, 1))
	loads, _, _, _, _ := effectsOf(m, md)
	if len(loads) == 0 {
		t.Fatal("no loads queued")
	}

	// The client disconnects while every load is still in flight: each load
	// is cancelled, nothing is sent and nothing is dropped (the server
	// never held the chunks).
	_, cancels, sends, _, drops := effectsOf(m, m.RemoveClient(1))
	if len(cancels) != len(loads) {
		t.Fatalf("cancelled %v of %v loads", len(cancels), len(loads))
	}
	if len(sends) != 0 || len(drops) != 0 {
		t.Fatalf("unexpected sends %v / drops %v", len(sends), len(drops))
	}

	// A late ChunkReady for a cancelled chunk is dropped again.
	_, _, _, _, drops = effectsOf(m, m.ChunkLoaded(loads[0]))
	if len(drops) != 1 || drops[0] != loads[0] {
		t.Fatalf("stale load not dropped: %v", drops)
	}
}

func TestSharedInterestKeepsChunkLoaded(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)
	m.AddClient(2)
	char := charAt(mgl32.Vec3{8, 20, 8}, 1)
	loads, _, _, _, _ := effectsOf(m, m.SetCharState(1, char))
	effectsOf(m, m.SetCharState(2, char))
	for _, pos := range loads {
		effectsOf(m, m.ChunkLoaded(pos))
	}

	// Client 1 leaving must not unload chunks client 2 still wants.
	_, _, _, _, drops := effectsOf(m, m.RemoveClient(1))
	if len(drops) != 0 {
		t.Fatalf("chunks dropped despite remaining interest: %v", drops)
	}
	_, _, _, _, drops = effectsOf(m, m.RemoveClient(2))
	if len(drops) != len(loads) {
		t.Fatalf("dropped %v chunks after last client left, want %v", len(drops), len(loads))
	}
}

func TestMovingSendsRemovalsAndFreesIndices(t *testing.T) {
	m := newChunkManager()
	m.AddClient(1)
	effectsOf(m, m.SetCharState(1, charAt(mgl32.Vec3{8, 20, 8}, 1)))
	for pos := range m.interest {
		effectsOf(m, m.ChunkLoaded(pos))
	}
	md, _ := m.AcceptMoreChunks(1, 64)
	_, _, sends, _, _ := effectsOf(m, md)
	if len(sends) != 3*3*world.HeightChunks {
		t.Fatalf("sent %v chunks", len(sends))
	}

	// Move far: every sent chunk is removed from the client and dropped
	// from the server, and the freed client indices are reused for the new
	// area.
	_, _, _, removes, _ := effectsOf(m, m.SetCharState(1, charAt(mgl32.Vec3{8000, 20, 8}, 1)))
	if len(removes) != len(sends) {
		t.Fatalf("removed %v chunks, want %v", len(removes), len(sends))
	}
	for pos := range m.interest {
		effectsOf(m, m.ChunkLoaded(pos))
	}
	md, _ = m.AcceptMoreChunks(1, 64)
	_, _, sends2, _, _ := effectsOf(m, md)
	maxCI := 0
	for _, s := range sends2 {
		if s.CI > maxCI {
			maxCI = s.CI
		}
	}
	if maxCI >= len(sends) {
		t.Fatalf("client chunk indices not recycled: max %v of %v freed", maxCI, len(sends))
	}
}
