package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// ConfigFileName is the snapshot file kept under vector_db_path.
const ConfigFileName = "config.json"

// Store publishes immutable config snapshots.
// Get is lock-free; Update serializes writers and swaps atomically.
type Store struct {
	mu     sync.Mutex
	snap   atomic.Pointer[Snapshot]
	logger *slog.Logger
}

// NewStore creates a store seeded with the given snapshot.
// The snapshot must already be valid.
func NewStore(snap Snapshot, logger *slog.Logger) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger}
	s.snap.Store(&snap)
	return s, nil
}

// Get returns the current snapshot. Callers must treat it as read-only
// and keep the pointer for the duration of one operation.
func (s *Store) Get() *Snapshot {
	return s.snap.Load()
}

// Update validates a partial patch against the current snapshot and
// publishes the result. A rejected patch leaves the published snapshot
// untouched; no partial application is observable.
func (s *Store) Update(patch map[string]any) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.snap.Load()
	for field, value := range patch {
		if immutableFields[field] {
			return nil, ragerr.Immutable(field)
		}
		if err := next.apply(field, value); err != nil {
			return nil, err
		}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	s.snap.Store(&next)
	s.logger.Info("config updated", "fields", len(patch), "config", next.String())
	return &next, nil
}

// SetDimension records the embedding dimension derived from the embedder
// at startup. This is the only path that writes a frozen field.
func (s *Store) SetDimension(dim int) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.snap.Load()
	next.EmbeddingDimension = dim
	s.snap.Store(&next)
	return &next
}

// replace swaps in an externally loaded snapshot. Used by the file watcher.
func (s *Store) replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&snap)
}

// Save persists the current snapshot as a single JSON object.
// The write goes through a temp file and rename so a crash never leaves
// a truncated config.json behind.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s.Get(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Load reads a snapshot from dir/config.json, overlaying the defaults so
// files written by older versions pick up new fields.
func Load(dir string) (Snapshot, error) {
	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ragerr.New(ragerr.CodeConfigNotFound, fmt.Sprintf("no config at %s", path), err)
		}
		return Snapshot{}, fmt.Errorf("read config: %w", err)
	}

	snap := Default()
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, ragerr.New(ragerr.CodeConfigInvalid, fmt.Sprintf("parse %s: %v", path, err), err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// LoadOrDefault returns the persisted snapshot when present, otherwise
// the defaults. A corrupt file is an error; a missing one is not.
func LoadOrDefault(dir string) (Snapshot, error) {
	snap, err := Load(dir)
	if err != nil {
		if ragerr.GetCode(err) == ragerr.CodeConfigNotFound {
			return Default(), nil
		}
		return Snapshot{}, err
	}
	return snap, nil
}
