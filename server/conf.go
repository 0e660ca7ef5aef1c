// Package server implements the authoritative game server: the single game
// loop that owns the server-side world, the chunk manager deciding which
// chunks each client has loaded, the asynchronous chunk loader and the
// periodic save flush.
package server

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/server/save"
	"github.com/notminecraft/notminecraft/world/generator"
)

// Config contains options for starting a server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
	// Registry is the block registry the world is built from. If nil, the
	// default registry with the built-in content is used.
	Registry *block.Registry
	// Content holds the block IDs the generator builds terrain from. It
	// must belong to Registry. Ignored if Registry is nil.
	Content block.Content
	// Generator generates chunks that have no saved data. If nil, a noise
	// generator seeded with Seed is used.
	Generator generator.Generator
	// Seed seeds the default generator when Generator is nil.
	Seed int64
	// DB is the save database. If nil, nothing is persisted and every
	// chunk is generated fresh.
	DB *save.DB
	// TickInterval is the duration of a game tick. If zero, it defaults to
	// 50 milliseconds.
	TickInterval time.Duration
	// FlushIntervalTicks is the number of ticks between save flushes. If
	// zero, it defaults to 100 ticks.
	FlushIntervalTicks int
	// MaxLoadDist caps the load distance clients may request, measured in
	// chunks. If zero, it defaults to 8.
	MaxLoadDist uint8
	// LoaderWorkers is the number of worker goroutines loading and
	// generating chunks. If zero or lower, it is derived from the host's
	// available CPUs.
	LoaderWorkers int
}

// New creates a server from the config and starts its game loop. The
// server accepts no connections until Listen or AcceptConn is used.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Registry == nil {
		conf.Registry, conf.Content = block.DefaultRegistry()
	}
	if conf.Generator == nil {
		conf.Generator = generator.NewNoise(conf.Seed, conf.Content)
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = 50 * time.Millisecond
	}
	if conf.FlushIntervalTicks <= 0 {
		conf.FlushIntervalTicks = 100
	}
	if conf.MaxLoadDist == 0 {
		conf.MaxLoadDist = 8
	}
	if conf.LoaderWorkers <= 0 {
		conf.LoaderWorkers = max(runtime.NumCPU(), 2)
	}
	return newServer(conf)
}
