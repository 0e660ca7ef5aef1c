// Command server runs the authoritative game server: it reads config.toml
// from the data directory, opens the save database and serves websocket
// connections until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pelletier/go-toml"
	"golang.org/x/sync/errgroup"

	"github.com/notminecraft/notminecraft/block"
	"github.com/notminecraft/notminecraft/internal/datadir"
	"github.com/notminecraft/notminecraft/server"
	"github.com/notminecraft/notminecraft/server/save"
)

type config struct {
	// Addr is the address the websocket listener binds to.
	Addr string `toml:"addr"`
	// Save is the name of the save to open within the data directory.
	Save string `toml:"save"`
	// Seed seeds the terrain generator of a fresh save.
	Seed int64 `toml:"seed"`
	// MaxLoadDist caps the load distance clients may request.
	MaxLoadDist int `toml:"max_load_dist"`
	// FlushIntervalTicks is the number of ticks between save flushes.
	FlushIntervalTicks int `toml:"flush_interval_ticks"`
	// LoaderWorkers is the chunk loader worker count; 0 picks one per CPU,
	// and at least two.
	LoaderWorkers int `toml:"loader_workers"`
}

func defaultConfig() config {
	return config{
		Addr:               ":25566",
		Save:               "world",
		Seed:               0,
		MaxLoadDist:        8,
		FlushIntervalTicks: 100,
	}
}

func readConfig(dir datadir.Dir, log *slog.Logger) (config, error) {
	conf := defaultConfig()
	path := filepath.Join(dir.Root(), "config.toml")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		out, err := toml.Marshal(conf)
		if err != nil {
			return conf, fmt.Errorf("encode default config: %w", err)
		}
		if err := dir.WriteAtomic(path, out); err != nil {
			return conf, fmt.Errorf("create default config: %w", err)
		}
		log.Info("created default config", "path", path)
		return conf, nil
	}
	if err != nil {
		return conf, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("parse config: %w", err)
	}
	return conf, nil
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(log); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	dir := datadir.Resolve()
	conf, err := readConfig(dir, log)
	if err != nil {
		return err
	}

	srvConf := server.Config{
		Log:                log,
		Seed:               conf.Seed,
		MaxLoadDist:        uint8(conf.MaxLoadDist),
		FlushIntervalTicks: conf.FlushIntervalTicks,
		LoaderWorkers:      conf.LoaderWorkers,
	}
	db, err := save.Open(dir.Save(conf.Save), registryOf(&srvConf), log)
	if err != nil {
		// A fingerprint mismatch means the save predates the current
		// registry; refuse to start rather than corrupt it.
		return fmt.Errorf("open save: %w", err)
	}
	defer db.Close()
	srvConf.DB = db

	srv := srvConf.New()
	defer srv.Close()

	ln, err := srv.Listen(conf.Addr)
	if err != nil {
		return err
	}
	log.Info("server listening", "addr", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return srv.Close()
	})
	return g.Wait()
}

// registryOf fills in the config's registry defaults early, so the save
// can be opened against the same registry the server will run with.
func registryOf(conf *server.Config) *block.Registry {
	if conf.Registry == nil {
		conf.Registry, conf.Content = block.DefaultRegistry()
	}
	return conf.Registry
}
