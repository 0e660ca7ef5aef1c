// Package session manages the server side of client connections: the
// framed transport, per-connection send buffering, the connection state
// machine and the delivery of decoded messages into the game loop.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is an ordered, reliable, framed binary message transport. Reads and
// writes may be issued concurrently with each other, but at most one
// goroutine reads and one writes.
type Conn interface {
	// ReadFrame blocks until the next frame arrives. It returns io.EOF
	// after the peer closes cleanly.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one frame.
	WriteFrame([]byte) error
	// Close tears the connection down, unblocking both directions.
	Close() error
}

// wsConn adapts a websocket connection to Conn.
type wsConn struct {
	c *websocket.Conn
}

// NewWebSocketConn wraps a websocket connection as a Conn.
func NewWebSocketConn(c *websocket.Conn) Conn {
	return wsConn{c: c}
}

func (w wsConn) ReadFrame() ([]byte, error) {
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
		// Text and control frames are not part of the protocol; skip them.
	}
}

func (w wsConn) WriteFrame(data []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w wsConn) Close() error {
	return w.c.Close()
}

// Listener accepts websocket connections and hands them to the callback
// passed to ListenWebSocket.
type Listener struct {
	srv *http.Server
	ln  net.Listener
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and closes the listener.
func (l *Listener) Close() error {
	return l.srv.Close()
}

// ListenWebSocket listens on addr and calls accept with a Conn for every
// websocket client connecting to it.
func ListenWebSocket(addr string, accept func(Conn)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: listen %v: %w", addr, err)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1 << 16,
		WriteBufferSize: 1 << 16,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accept(NewWebSocketConn(c))
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	return &Listener{srv: srv, ln: ln}, nil
}

// pipe is an in-memory Conn used by tests and local singleplayer: two
// buffered frame channels with close signalling.
type pipe struct {
	in     <-chan []byte
	out    chan<- []byte
	local  chan struct{}
	remote <-chan struct{}
	once   *sync.Once
}

// ErrPipeClosed is returned by writes on a closed pipe.
var ErrPipeClosed = errors.New("session: pipe closed")

// Pipe creates a connected pair of in-memory Conns.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	closeA := make(chan struct{})
	closeB := make(chan struct{})
	a := &pipe{in: ba, out: ab, local: closeA, remote: closeB, once: new(sync.Once)}
	b := &pipe{in: ab, out: ba, local: closeB, remote: closeA, once: new(sync.Once)}
	return a, b
}

func (p *pipe) ReadFrame() ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.remote:
		// Drain frames sent before the peer closed.
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-p.local:
		return nil, io.EOF
	}
}

func (p *pipe) WriteFrame(frame []byte) error {
	select {
	case p.out <- frame:
		return nil
	case <-p.remote:
		return ErrPipeClosed
	case <-p.local:
		return ErrPipeClosed
	}
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.local) })
	return nil
}
