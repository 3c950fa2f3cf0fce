// Package snapshot persists engine snapshots to a file, Redis or Postgres.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fractal-lba/adaptive/internal/engine"
)

// ErrSnapshotNotFound is returned by Load when nothing was saved under the name.
var ErrSnapshotNotFound = errors.New("snapshot: not found")

// Store saves and loads named engine snapshots.
type Store interface {
	// Save overwrites the snapshot stored under name.
	Save(ctx context.Context, name string, snap *engine.Snapshot) error

	// Load returns ErrSnapshotNotFound when name was never saved.
	Load(ctx context.Context, name string) (*engine.Snapshot, error)

	// Close releases resources
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendNone     Backend = "none"
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend       Backend `yaml:"backend" json:"backend"`
	Name          string  `yaml:"name" json:"name"`
	Path          string  `yaml:"path" json:"path"`
	RedisAddr     string  `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string  `yaml:"redis_password" json:"-"`
	RedisDB       int     `yaml:"redis_db" json:"redis_db"`
	PostgresConn  string  `yaml:"postgres_conn" json:"-"`
}

// Open connects to the configured backend. BackendNone (or "") returns a
// nil Store and no error.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendFile:
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.PostgresConn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown backend %q", cfg.Backend)
	}
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("snapshot: invalid name %q", name)
	}
	return nil
}

// FileStore keeps one JSON file per snapshot name in a directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("snapshot: file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+".json")
}

// Save writes to a temporary file and renames it over the previous snapshot,
// so readers never observe a partial file.
func (f *FileStore) Save(_ context.Context, name string, snap *engine.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("snapshot: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(name)); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, name string) (*engine.Snapshot, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(f.path(name))
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	return decode(data)
}

func (f *FileStore) Close() error {
	return nil
}

func decode(data []byte) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &snap, nil
}
