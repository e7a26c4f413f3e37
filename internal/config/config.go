// Manages the CLI configuration stored in balloonist.yaml.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/maruel/balloonist/storage"
	"github.com/maruel/balloonist/storage/postgres"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "balloonist.yaml"

// Backends lists the accepted values of Config.Backend.
var Backends = []string{"file", "git", "sqlite", "postgres"}

// Config stores the settings of a data directory.
// Loaded from balloonist.yaml, created with defaults if missing.
type Config struct {
	// Backend selects the storage backend.
	Backend string `yaml:"backend"`

	// Codec encodes documents for the file, git and sqlite backends.
	Codec string `yaml:"codec"`

	// Schema is the path of the manifest declaring the stored types, relative
	// to the data directory.
	Schema string `yaml:"schema"`

	// Strict rejects documents carrying unknown fields.
	Strict bool `yaml:"strict"`

	// NoOverwrite refuses to replace an existing document.
	NoOverwrite bool `yaml:"no_overwrite"`

	// Cascade stores referenced documents that are not stored yet.
	Cascade bool `yaml:"cascade"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	SQLite   SQLite   `yaml:"sqlite"`
	Postgres Postgres `yaml:"postgres"`
	Git      Git      `yaml:"git"`
}

// SQLite configures the sqlite backend.
type SQLite struct {
	// Path of the database file, relative to the data directory.
	Path string `yaml:"path"`
	// PoolSize is the number of connections. 0 picks a default.
	PoolSize int `yaml:"pool_size"`
}

// Postgres configures the postgres backend.
type Postgres struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

// Git configures the commit author of the git backend.
type Git struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Backend:  "file",
		Codec:    "json",
		Schema:   "schema.yaml",
		LogLevel: "info",
		SQLite:   SQLite{Path: "balloonist.db"},
		Postgres: Postgres{Schema: postgres.DefaultSchema},
		Git:      Git{AuthorName: "balloonist", AuthorEmail: "balloonist@localhost"},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("backend must be one of %v, got %q", Backends, c.Backend)
	}
	if _, err := storage.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if c.Schema == "" {
		return errors.New("schema is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SQLite.PoolSize < 0 {
		return errors.New("sqlite.pool_size must be non-negative")
	}
	if c.Backend == "sqlite" && c.SQLite.Path == "" {
		return errors.New("sqlite.path is required")
	}
	if c.Backend == "postgres" && c.Postgres.URL == "" {
		return errors.New("postgres.url is required")
	}
	return nil
}

// Resolve returns p made absolute relative to dataDir.
func Resolve(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// ParseLevel converts a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Load loads configuration from dataDir/balloonist.yaml.
// Creates the file with defaults if it doesn't exist.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/balloonist.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}
