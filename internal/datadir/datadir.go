// Package datadir resolves the data directory the game keeps its state in
// and provides the atomic file write discipline used for everything written
// outside the save database.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvVar is the environment variable selecting the data directory.
const EnvVar = "NOTMINECRAFT_DATA_DIR"

// Default is the data directory used when EnvVar is unset.
const Default = "notminecraft"

// Dir is a handle to the data directory.
type Dir struct {
	root string
}

// Resolve returns the data directory selected by the environment, creating
// nothing yet.
func Resolve() Dir {
	if v := os.Getenv(EnvVar); v != "" {
		return Dir{root: v}
	}
	return Dir{root: Default}
}

// At returns a handle to an explicit data directory path.
func At(root string) Dir {
	return Dir{root: root}
}

// Root returns the data directory path.
func (d Dir) Root() string {
	return d.root
}

// Assets returns the assets subdirectory path.
func (d Dir) Assets() string {
	return filepath.Join(d.root, "assets")
}

// Tmp returns the scratch subdirectory path.
func (d Dir) Tmp() string {
	return filepath.Join(d.root, "tmp")
}

// Save returns the path of the save subdirectory for the save name passed.
func (d Dir) Save(name string) string {
	return filepath.Join(d.root, "saves", name)
}

// WriteAtomic writes data to path by writing a unique temporary file in the
// data directory's tmp subdirectory and renaming it over the target, so a
// crash mid-write never leaves a half-written file at the target. Parent
// directories of the target are created on demand.
func (d Dir) WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("datadir: create parent of %v: %w", path, err)
	}
	if err := os.MkdirAll(d.Tmp(), 0o755); err != nil {
		return fmt.Errorf("datadir: create tmp dir: %w", err)
	}
	f, err := os.CreateTemp(d.Tmp(), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("datadir: create tmp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("datadir: write tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("datadir: close tmp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("datadir: rename into place: %w", err)
	}
	return nil
}
