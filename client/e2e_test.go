package client_test

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/client"
	"github.com/notminecraft/notminecraft/cube"
	"github.com/notminecraft/notminecraft/server"
	"github.com/notminecraft/notminecraft/server/save"
	"github.com/notminecraft/notminecraft/server/session"
	"github.com/notminecraft/notminecraft/world"
)

func startServer(t *testing.T, db *save.DB) *server.Server {
	t.Helper()
	srv := server.Config{
		DB:                 db,
		TickInterval:       5 * time.Millisecond,
		FlushIntervalTicks: 4,
		Seed:               1,
	}.New()
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("failed closing server: %v", err)
		}
	})
	return srv
}

func connectClient(t *testing.T, srv *server.Server, name string) *client.Client {
	t.Helper()
	serverEnd, clientEnd := session.Pipe()
	srv.AcceptConn(serverEnd)
	c, err := client.Connect(clientEnd, client.Config{
		Username: name,
		LoadDist: 1,
	})
	if err != nil {
		t.Fatalf("connect %v: %v", name, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// settle pumps the clients until the condition holds.
func settle(t *testing.T, cond func() bool, clients ...*client.Client) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		for _, c := range clients {
			if err := c.Update(); err != nil {
				t.Fatalf("client closed: %v", c.CloseReason())
			}
			c.Frame()
		}
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("clients never settled")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEditRoundTripBetweenClients(t *testing.T) {
	srv := startServer(t, nil)
	a := connectClient(t, srv, "alice")
	b := connectClient(t, srv, "bob")

	spawn := mgl32.Vec3{8, 20, 8}
	a.Move(spawn, 0, 0, false)
	b.Move(spawn, 0, 0, false)

	target := world.ChunkPos{0, 0, 0}
	settle(t, func() bool { return a.HasChunk(target) && b.HasChunk(target) }, a, b)

	_, content := block.DefaultRegistry()
	pos := cube.Pos{3, 5, 7}
	if err := a.SetBlock(pos, content.Sand, nil); err != nil {
		t.Fatalf("set block: %v", err)
	}
	// Prediction: visible on a before any server round trip.
	if bid, ok := a.BlockAt(pos); !ok || bid != content.Sand {
		t.Fatalf("a does not see its own edit: (%v, %v)", bid, ok)
	}

	// Authoritative broadcast: b converges, a's prediction retires, and
	// both replicas agree.
	settle(t, func() bool {
		bidB, okB := b.BlockAt(pos)
		return okB && bidB == content.Sand && a.PredictionDepth() == 0
	}, a, b)
	if bidA, _ := a.BlockAt(pos); bidA != content.Sand {
		t.Fatalf("a diverged after confirmation: %v", bidA)
	}

	// Both see each other.
	settle(t, func() bool {
		return len(a.Others()) == 1 && len(b.Others()) == 1
	}, a, b)
}

func TestChatReachesAllClients(t *testing.T) {
	srv := startServer(t, nil)
	a := connectClient(t, srv, "alice")
	b := connectClient(t, srv, "bob")

	a.Say("hello bob")
	settle(t, func() bool {
		for _, line := range b.Chat() {
			if line.Speaker == "alice" && line.Message == "hello bob" {
				return true
			}
		}
		return false
	}, a, b)
}

func TestEditsSurviveRestart(t *testing.T) {
	reg, content := block.DefaultRegistry()
	dir := t.TempDir()

	db, err := save.Open(dir, reg, nil)
	if err != nil {
		t.Fatalf("open save: %v", err)
	}
	srv := server.Config{
		DB:                 db,
		TickInterval:       5 * time.Millisecond,
		FlushIntervalTicks: 4,
		Seed:               1,
	}.New()

	c := connectClient(t, srv, "alice")
	c.Move(mgl32.Vec3{8, 20, 8}, 0, 0, false)
	target := world.ChunkPos{0, 1, 0}
	settle(t, func() bool { return c.HasChunk(target) }, c)

	// Scatter edits through one chunk, including one that needs metadata.
	edited := make(map[cube.Pos]bool)
	for i := 0; i < 20; i++ {
		pos := cube.Pos{i % 16, 16 + i/4, (i * 3) % 16}
		if err := c.SetBlock(pos, content.Sand, nil); err != nil {
			t.Fatalf("set block %v: %v", pos, err)
		}
		edited[pos] = true
	}
	var meta block.ChestMeta
	chestPos := cube.Pos{2, 30, 2}
	if err := c.SetBlock(chestPos, content.Chest, meta); err != nil {
		t.Fatalf("set chest: %v", err)
	}
	settle(t, func() bool { return c.PredictionDepth() == 0 }, c)

	// A clean shutdown flushes everything; reopening the save shows all of
	// it.
	if err := srv.Close(); err != nil {
		t.Fatalf("close server: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	db, err = save.Open(dir, reg, nil)
	if err != nil {
		t.Fatalf("reopen save: %v", err)
	}
	defer db.Close()
	blocks, ok, err := db.LoadChunk(target)
	if err != nil || !ok {
		t.Fatalf("chunk not persisted: (%v, %v)", ok, err)
	}
	for pos := range edited {
		cp, lti := world.SplitBlockPos(pos)
		if cp != target {
			t.Fatalf("test bug: %v is in %v", pos, cp)
		}
		if got := blocks.ID(lti); got != content.Sand {
			t.Fatalf("tile %v restored as %v", pos, got)
		}
	}
	_, lti := world.SplitBlockPos(chestPos)
	if got := blocks.ID(lti); got != content.Chest {
		t.Fatalf("chest restored as %v", got)
	}
	if _, ok := blocks.Meta(lti).(block.ChestMeta); !ok {
		t.Fatalf("chest meta restored as %T", blocks.Meta(lti))
	}
}
