// Command client runs a headless game client: it connects to a server
// over websocket, joins, mirrors the replicated world and prints chat to
// stdout. It exists to exercise the client library without a renderer.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"github.com/notminecraft/notminecraft/client"
	"github.com/notminecraft/notminecraft/server/session"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %v <ws-url> <username>\n", os.Args[0])
		os.Exit(2)
	}
	if err := run(log, os.Args[1], os.Args[2]); err != nil {
		log.Error("client failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, url, username string) error {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %v: %w", url, err)
	}

	c, err := client.Connect(session.NewWebSocketConn(ws), client.Config{
		Log:      log,
		Username: username,
		LoadDist: 4,
	})
	if err != nil {
		return err
	}
	defer c.Close()
	log.Info("joined", "key", c.OwnKey())

	c.Move(mgl32.Vec3{8, 40, 8}, 0, 0, false)
	c.Say("hello from a headless client")

	printed := 0
	tc := time.NewTicker(50 * time.Millisecond)
	defer tc.Stop()
	for range tc.C {
		if err := c.Update(); err != nil {
			log.Info("disconnected", "reason", c.CloseReason())
			return nil
		}
		c.Frame()
		lines := c.Chat()
		if printed > len(lines) {
			printed = len(lines)
		}
		for _, line := range lines[printed:] {
			fmt.Printf("<%v> %v\n", line.Speaker, line.Message)
		}
		printed = len(lines)
	}
	return nil
}
