package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/notminecraft/notminecraft/protocol"
)

// ConnKey identifies an accepted connection for its lifetime. Keys are
// never reused within a manager.
type ConnKey uint32

// State is the lifecycle state of a connection.
type State int

const (
	// StateConnected is the state between transport accept and LogIn.
	StateConnected State = iota
	// StateLoggingIn is the state while the server processes a LogIn.
	StateLoggingIn
	// StateInGame is the steady state after a completed join.
	StateInGame
	// StateClosing means a close has been initiated and no further
	// messages are processed.
	StateClosing
)

// Event is something that happened on a connection, delivered into the
// game loop's network queue in the order it happened.
type Event interface {
	isEvent()
}

// Opened reports a freshly accepted connection.
type Opened struct {
	Conn ConnKey
}

// Received reports a decoded message from a client.
type Received struct {
	Conn ConnKey
	Msg  protocol.UpMsg
}

// Closed reports that a connection is gone. It is the final event of a
// connection; no event for it is delivered after it.
type Closed struct {
	Conn   ConnKey
	Reason string
}

func (Opened) isEvent()   {}
func (Received) isEvent() {}
func (Closed) isEvent()   {}

// sendBufferFrames bounds the per-connection send buffer. The chunk-send
// budget keeps the bulk payloads far below this; hitting the bound anyway
// means the client stopped draining its socket, and the connection is
// dropped rather than letting it stall the game loop.
const sendBufferFrames = 512

// Manager owns the server's connections: it accepts transports, assigns
// connection keys, runs the per-connection read and write goroutines, and
// funnels events into a single ordered queue consumed by the game loop.
type Manager struct {
	log    *slog.Logger
	codec  *protocol.Codec
	events chan<- Event

	mu      sync.Mutex
	conns   map[ConnKey]*conn
	nextKey ConnKey
	closed  bool
}

type conn struct {
	key  ConnKey
	t    Conn
	send chan []byte
	stop chan struct{}
	// reason is set before stop is closed and read only after, so the
	// channel close orders the accesses.
	reason string
	state  State
	once   sync.Once
}

// NewManager creates a Manager delivering events into the channel passed.
func NewManager(codec *protocol.Codec, log *slog.Logger, events chan<- Event) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, codec: codec, events: events, conns: make(map[ConnKey]*conn)}
}

// Accept adopts a transport connection, assigns it a key and starts
// serving it. The Opened event precedes any Received event of the
// connection.
func (m *Manager) Accept(t Conn) (ConnKey, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		t.Close()
		return 0, false
	}
	key := m.nextKey
	m.nextKey++
	c := &conn{key: key, t: t, send: make(chan []byte, sendBufferFrames), stop: make(chan struct{})}
	m.conns[key] = c
	m.mu.Unlock()

	m.events <- Opened{Conn: key}
	go m.readLoop(c)
	go m.writeLoop(c)
	return key, true
}

// State returns the lifecycle state of a connection.
func (m *Manager) State(key ConnKey) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[key]; ok {
		return c.state
	}
	return StateClosing
}

// SetState advances the lifecycle state of a connection.
func (m *Manager) SetState(key ConnKey, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[key]; ok {
		c.state = s
	}
}

// Send encodes a message and queues it on the connection's send buffer. A
// full buffer drops the connection instead of blocking the caller; a
// message for an unknown key is discarded.
func (m *Manager) Send(key ConnKey, msg protocol.DownMsg) {
	frame, err := m.codec.EncodeDown(msg)
	if err != nil {
		// Encoding only fails on a bug in the caller; it is worth a loud log
		// but not a server crash.
		m.log.Error("failed encoding message", "conn", key, "err", err)
		return
	}
	m.mu.Lock()
	c, ok := m.conns[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
		m.log.Warn("send buffer overrun, dropping connection", "conn", key)
		m.Disconnect(key, "send buffer overrun")
	}
}

// Close sends a Close message with the reason passed and then disconnects.
func (m *Manager) Close(key ConnKey, reason string) {
	m.Send(key, protocol.Close{Message: reason})
	m.Disconnect(key, reason)
}

// Disconnect tears a connection down without a goodbye message.
func (m *Manager) Disconnect(key ConnKey, reason string) {
	m.mu.Lock()
	c, ok := m.conns[key]
	m.mu.Unlock()
	if ok {
		m.finish(c, reason)
	}
}

// Shutdown closes every connection with the reason passed and stops
// accepting.
func (m *Manager) Shutdown(reason string) {
	m.mu.Lock()
	m.closed = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		m.Send(c.key, protocol.Close{Message: reason})
		m.finish(c, reason)
	}
}

// finish initiates a connection's close exactly once: the state flips to
// Closing, the key is released and the transport is torn down so the read
// loop unblocks. The read loop is the only emitter of events, so the
// Closed event it sends on exit is guaranteed to be the connection's last.
func (m *Manager) finish(c *conn, reason string) {
	c.once.Do(func() {
		m.mu.Lock()
		c.state = StateClosing
		delete(m.conns, c.key)
		m.mu.Unlock()
		c.reason = reason
		close(c.stop)
	})
}

func (m *Manager) readLoop(c *conn) {
	for {
		frame, err := c.t.ReadFrame()
		if err != nil {
			reason := "connection lost"
			if errors.Is(err, io.EOF) {
				reason = "disconnected"
			} else {
				m.log.Debug("read failed", "conn", c.key, "err", err)
			}
			m.finish(c, reason)
			break
		}
		msg, err := m.codec.DecodeUp(frame)
		if err != nil {
			// Malformed input is a protocol violation: close with a
			// diagnostic, never crash.
			m.log.Warn("malformed message", "conn", c.key, "err", err)
			m.Close(c.key, "malformed message")
			break
		}
		select {
		case <-c.stop:
		default:
			m.events <- Received{Conn: c.key, Msg: msg}
			continue
		}
		break
	}
	<-c.stop
	m.events <- Closed{Conn: c.key, Reason: c.reason}
}

func (m *Manager) writeLoop(c *conn) {
	defer c.t.Close()
	for {
		select {
		case frame := <-c.send:
			if err := c.t.WriteFrame(frame); err != nil {
				m.finish(c, "connection lost")
				return
			}
		case <-c.stop:
			// Flush the frames already queued, the Close goodbye included.
			for {
				select {
				case frame := <-c.send:
					if err := c.t.WriteFrame(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
