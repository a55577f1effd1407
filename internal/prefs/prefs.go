// Package prefs persists the client's user preferences: the working mode
// that selects a backend and per-module toggles.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"maps"
	"mmrl/internal/platform"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// formatVersion is bumped when the file layout changes incompatibly.
const formatVersion = 1

// Module holds the toggles kept for one module.
type Module struct {
	DevTools bool `cbor:"1,keyasint,omitempty"`
}

// Prefs is the persisted preference set.
type Prefs struct {
	WorkingMode  platform.WorkingMode `cbor:"1,keyasint,omitempty"`
	UseShellTool bool                 `cbor:"2,keyasint,omitempty"`
	Modules      map[string]Module    `cbor:"3,keyasint,omitempty"`
}

type persisted struct {
	Version int       `cbor:"1,keyasint"`
	Updated time.Time `cbor:"2,keyasint"`
	Prefs   Prefs     `cbor:"3,keyasint"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Store is a preference file. Every setter writes the whole file
// atomically.
type Store struct {
	path   string
	logger *log.Logger

	mu    sync.RWMutex
	prefs Prefs
}

// Open loads the store at path. A missing file is a fresh, unset store.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[prefs] ", log.LstdFlags|log.Lmsgprefix)
	}
	s := &Store{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs file: %w", err)
	}

	var p persisted
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal prefs: %w", err)
	}
	if p.Version != formatVersion {
		return nil, fmt.Errorf("prefs file version %d, want %d", p.Version, formatVersion)
	}
	s.prefs = p.Prefs
	return s, nil
}

// DefaultPath is the per-user preference file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "mmrl", "prefs.cbor")
}

// Get returns a copy of the current preferences.
func (s *Store) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.prefs
	p.Modules = maps.Clone(s.prefs.Modules)
	return p
}

// WorkingMode returns the persisted mode; FIRST_SETUP when unset.
func (s *Store) WorkingMode() platform.WorkingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prefs.WorkingMode == "" {
		return platform.ModeFirstSetup
	}
	return s.prefs.WorkingMode
}

// SetWorkingMode persists m.
func (s *Store) SetWorkingMode(m platform.WorkingMode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown working mode %q", m)
	}
	return s.update(func(p *Prefs) { p.WorkingMode = m })
}

// SetUseShellTool persists whether lifecycle changes go through the
// backend's own tool.
func (s *Store) SetUseShellTool(v bool) error {
	return s.update(func(p *Prefs) { p.UseShellTool = v })
}

// Module returns the toggles for id.
func (s *Store) Module(id string) Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.Modules[id]
}

// SetModule persists the toggles for id. The zero value removes the entry.
func (s *Store) SetModule(id string, m Module) error {
	return s.update(func(p *Prefs) {
		if m == (Module{}) {
			delete(p.Modules, id)
			return
		}
		if p.Modules == nil {
			p.Modules = make(map[string]Module)
		}
		p.Modules[id] = m
	})
}

// Reconcile drops toggles for modules that are no longer installed.
func (s *Store) Reconcile(installed []string) error {
	keep := make(map[string]bool, len(installed))
	for _, id := range installed {
		keep[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.prefs.Modules {
		if !keep[id] {
			s.logger.Printf("removing prefs for uninstalled module %s", id)
			delete(s.prefs.Modules, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) update(fn func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.prefs)
	return s.saveLocked()
}

// saveLocked writes the file through a temp file and rename. Caller holds
// mu.
func (s *Store) saveLocked() error {
	data, err := encMode.Marshal(persisted{Version: formatVersion, Updated: time.Now(), Prefs: s.prefs})
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write prefs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename prefs file: %w", err)
	}
	return nil
}
