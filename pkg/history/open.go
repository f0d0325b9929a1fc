package history

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendPebble Backend = "pebble"
)

// Config selects and locates a Store backend.
type Config struct {
	Backend Backend `yaml:"backend" mapstructure:"store-backend"`
	// Path is a database file for sqlite and a directory for pebble.
	Path string `yaml:"path" mapstructure:"store-path"`
}

func SupportedBackends() []string {
	return []string{string(BackendMemory), string(BackendSQLite), string(BackendPebble)}
}

// Open creates the Store described by cfg, creating parent directories for
// file-backed stores.
func Open(cfg Config, options ...StoreOption) (Store, error) {
	backend := Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		log.Debug().Msg("opening in-memory history store")
		return NewMemoryStore(options...), nil

	case BackendSQLite:
		if err := ensureParentDir(cfg.Path); err != nil {
			return nil, err
		}
		dsn, err := SQLiteDSNForFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.Path).Msg("opening sqlite history store")
		return NewSQLiteStore(dsn, options...)

	case BackendPebble:
		if cfg.Path == "" {
			return nil, errors.Wrap(ErrInvalidConfig, "pebble history store: empty path")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, errors.Wrapf(err, "pebble history store: create %s", cfg.Path)
		}
		log.Debug().Str("path", cfg.Path).Msg("opening pebble history store")
		return NewPebbleStore(cfg.Path, options...)

	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown store backend %q (supported: %s)",
			cfg.Backend, strings.Join(SupportedBackends(), ", "))
	}
}

func ensureParentDir(path string) error {
	if path == "" {
		return errors.Wrap(ErrInvalidConfig, "sqlite history store: empty path")
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}
	return nil
}
