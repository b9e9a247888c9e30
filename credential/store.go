// Package credential persists the bearer credential between runs.
//
// Every driver holds exactly one token under a fixed key. Load never fails:
// driver errors are logged and reported as an absent token, so callers treat
// an unavailable store the same as a logged-out one.
package credential

import (
	"fmt"
	"log/slog"

	iam "github.com/chimerakang/jobboard-iam"
	"gorm.io/gorm"
)

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// DefaultKey is the storage key holding the raw token.
const DefaultKey = "token"

// Config describes the store selection parameters.
type Config struct {
	Driver string
	Key    string
	File   *FileConfig
	Redis  *RedisConfig
	Logger *slog.Logger
}

// FileConfig locates the on-disk key/value document.
type FileConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a credential store based on the provided configuration.
func New(cfg Config, deps Dependencies) (iam.CredentialStore, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return NewFile(cfg)
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("iam/credential: sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("iam/credential: unsupported driver %q", cfg.Driver)
	}
}

func (c Config) key() string {
	if c.Key == "" {
		return DefaultKey
	}
	return c.Key
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
