package session

import (
	"testing"
	"time"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/protocol"
)

func recvEvent(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestManagerDeliversOrderedEvents(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	codec := protocol.NewCodec(reg)
	events := make(chan Event, 64)
	m := NewManager(codec, nil, events)

	serverEnd, clientEnd := Pipe()
	key, ok := m.Accept(serverEnd)
	if !ok {
		t.Fatal("accept refused")
	}

	if ev, ok := recvEvent(t, events).(Opened); !ok || ev.Conn != key {
		t.Fatalf("first event %#v, want Opened", ev)
	}

	// Messages arrive in the order sent.
	for i, msg := range []protocol.UpMsg{
		protocol.LogIn{Username: "alice", Fingerprint: reg.Fingerprint()},
		protocol.JoinGame{},
		protocol.Say{Message: "hi"},
	} {
		frame, err := codec.EncodeUp(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := clientEnd.WriteFrame(frame); err != nil {
			t.Fatalf("write %v: %v", i, err)
		}
	}
	if ev, ok := recvEvent(t, events).(Received); !ok {
		t.Fatal("expected Received")
	} else if _, ok := ev.Msg.(protocol.LogIn); !ok {
		t.Fatalf("first message %T", ev.Msg)
	}
	if ev, ok := recvEvent(t, events).(Received); !ok {
		t.Fatal("expected Received")
	} else if _, ok := ev.Msg.(protocol.JoinGame); !ok {
		t.Fatalf("second message %T", ev.Msg)
	}
	if ev, ok := recvEvent(t, events).(Received); !ok {
		t.Fatal("expected Received")
	} else if say, ok := ev.Msg.(protocol.Say); !ok || say.Message != "hi" {
		t.Fatalf("third message %#v", ev.Msg)
	}

	// Closing the peer produces a final Closed event.
	clientEnd.Close()
	if _, ok := recvEvent(t, events).(Closed); !ok {
		t.Fatal("expected Closed after peer hangup")
	}
}

func TestManagerSendReachesPeer(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	codec := protocol.NewCodec(reg)
	events := make(chan Event, 64)
	m := NewManager(codec, nil, events)

	serverEnd, clientEnd := Pipe()
	key, _ := m.Accept(serverEnd)
	m.Send(key, protocol.ChatLine{Speaker: "server", Message: "welcome"})

	frame, err := clientEnd.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := codec.DecodeDown(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat, ok := msg.(protocol.ChatLine); !ok || chat.Message != "welcome" {
		t.Fatalf("got %#v", msg)
	}
}

func TestManagerClosesOnMalformedFrame(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	codec := protocol.NewCodec(reg)
	events := make(chan Event, 64)
	m := NewManager(codec, nil, events)

	serverEnd, clientEnd := Pipe()
	m.Accept(serverEnd)
	recvEvent(t, events)

	if err := clientEnd.WriteFrame([]byte{0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := recvEvent(t, events).(Closed); !ok {
		t.Fatal("malformed frame did not close the connection")
	}
}

func TestManagerStateMachine(t *testing.T) {
	reg, _ := block.DefaultRegistry()
	codec := protocol.NewCodec(reg)
	events := make(chan Event, 64)
	m := NewManager(codec, nil, events)

	serverEnd, _ := Pipe()
	key, _ := m.Accept(serverEnd)
	if got := m.State(key); got != StateConnected {
		t.Fatalf("fresh state %v", got)
	}
	m.SetState(key, StateLoggingIn)
	m.SetState(key, StateInGame)
	if got := m.State(key); got != StateInGame {
		t.Fatalf("state %v", got)
	}
	m.Disconnect(key, "test over")
	if got := m.State(key); got != StateClosing {
		t.Fatalf("state after disconnect %v", got)
	}
}
