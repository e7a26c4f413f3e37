package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/balloonist"
	"github.com/maruel/balloonist/internal/config"
	"github.com/maruel/balloonist/manifest"
	"github.com/maruel/balloonist/storage"
	"github.com/maruel/balloonist/storage/git"
	"github.com/maruel/balloonist/storage/postgres"
	"github.com/maruel/balloonist/storage/sqlite"
)

// env is what a command operates on.
type env struct {
	cfg     *config.Config
	reg     *balloon.Registry
	backend storage.Backend
	db      *balloonist.Database
	log     *slog.Logger
	out     io.Writer
	close   func() error
}

func openEnv(ctx context.Context, dataDir string, cfg *config.Config, logger *slog.Logger, out io.Writer) (*env, error) {
	m, err := manifest.Parse(config.Resolve(dataDir, cfg.Schema))
	if err != nil {
		return nil, err
	}
	reg, err := m.Registry()
	if err != nil {
		return nil, err
	}
	b, closer, err := openBackend(ctx, dataDir, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []balloonist.Option{balloonist.WithLogger(logger)}
	if cfg.Strict {
		opts = append(opts, balloonist.WithStrict())
	}
	if cfg.NoOverwrite {
		opts = append(opts, balloonist.WithNoOverwrite())
	}
	if cfg.Cascade {
		opts = append(opts, balloonist.WithCascade())
	}
	db, err := balloonist.Open(reg, b, opts...)
	if err != nil {
		_ = closer()
		return nil, err
	}
	logger.DebugContext(ctx, "opened", "backend", cfg.Backend, "codec", cfg.Codec, "partitions", len(db.Partitions()))
	return &env{cfg: cfg, reg: reg, backend: b, db: db, log: logger, out: out, close: closer}, nil
}

func openBackend(ctx context.Context, dataDir string, cfg *config.Config, logger *slog.Logger) (storage.Backend, func() error, error) {
	noop := func() error { return nil }
	codec, err := storage.CodecByName(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Backend {
	case "file":
		d, err := storage.NewDir(dataDir, storage.WithCodec(codec), storage.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	case "git":
		r, err := git.Open(dataDir,
			git.WithAuthor(git.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}),
			git.WithCodec(codec),
			git.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return r, noop, nil
	case "sqlite":
		s, err := sqlite.Open(sqlite.Config{
			Path:     config.Resolve(dataDir, cfg.SQLite.Path),
			PoolSize: cfg.SQLite.PoolSize,
			Codec:    codec,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, pool, err := postgres.Open(ctx, cfg.Postgres.URL, cfg.Postgres.Schema)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// dir returns the directory backing the file and git backends.
func (e *env) dir() (*storage.Dir, error) {
	switch b := e.backend.(type) {
	case *storage.Dir:
		return b, nil
	case *git.Repo:
		return b.Dir(), nil
	default:
		return nil, fmt.Errorf("backend %q is not a directory", e.cfg.Backend)
	}
}
