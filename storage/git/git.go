// Package git provides a storage backend that records every document change
// as a commit in a git repository, using go-git (pure Go, no git binary
// dependency).
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

// Author identifies who commits changes.
type Author struct {
	Name  string
	Email string
}

// Commit is one entry of a document's history.
type Commit struct {
	Hash        string
	Message     string
	Author      string
	AuthorEmail string
	When        time.Time
}

// Option configures a Repo.
type Option func(*options)

type options struct {
	author Author
	dir    []storage.DirOption
}

// WithAuthor sets the commit author. Defaults to "balloonist".
func WithAuthor(a Author) Option {
	return func(o *options) { o.author = a }
}

// WithCodec sets the document codec.
func WithCodec(c storage.Codec) Option {
	return func(o *options) { o.dir = append(o.dir, storage.WithCodec(c)) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.dir = append(o.dir, storage.WithLogger(l)) }
}

// Repo is a storage.Backend over a git work tree laid out like storage.Dir.
// Each Write and Delete is a commit.
type Repo struct {
	dir    *storage.Dir
	author Author
	repo   *gogit.Repository
	mu     sync.Mutex
}

// Open opens the repository at path, initializing it if needed.
func Open(path string, opts ...Option) (*Repo, error) {
	o := options{author: Author{Name: "balloonist", Email: "balloonist@localhost"}}
	for _, opt := range opts {
		opt(&o)
	}
	dir, err := storage.NewDir(path, o.dir...)
	if err != nil {
		return nil, err
	}
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		// Not a repo yet, initialize.
		repo, err = gogit.PlainInit(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = o.author.Name
		cfg.User.Email = o.author.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Repo{dir: dir, author: o.author, repo: repo}, nil
}

// Dir returns the underlying work tree, e.g. to Watch it.
func (r *Repo) Dir() *storage.Dir {
	return r.dir
}

// Write implements storage.Backend.
func (r *Repo) Write(ctx context.Context, partition, name string, doc balloon.Document) error {
	return r.commitTx(ctx, func() (string, []string, error) {
		if err := r.dir.Write(ctx, partition, name, doc); err != nil {
			return "", nil, err
		}
		return "store " + partition + "/" + name, []string{r.dir.RelPath(partition, name)}, nil
	})
}

// Delete implements storage.Backend.
func (r *Repo) Delete(ctx context.Context, partition, name string) error {
	return r.commitTx(ctx, func() (string, []string, error) {
		if err := r.dir.Delete(ctx, partition, name); err != nil {
			return "", nil, err
		}
		return "delete " + partition + "/" + name, []string{r.dir.RelPath(partition, name)}, nil
	})
}

// Read implements storage.Backend.
func (r *Repo) Read(ctx context.Context, partition, name string) (balloon.Document, error) {
	return r.dir.Read(ctx, partition, name)
}

// Exists implements storage.Backend.
func (r *Repo) Exists(ctx context.Context, partition, name string) (bool, error) {
	return r.dir.Exists(ctx, partition, name)
}

// Names implements storage.Backend.
func (r *Repo) Names(ctx context.Context, partition string) ([]string, error) {
	return r.dir.Names(ctx, partition)
}

// Partitions implements storage.Backend.
func (r *Repo) Partitions(ctx context.Context) ([]string, error) {
	return r.dir.Partitions(ctx)
}

// commitTx runs fn while holding the lock and commits the files it returns.
// Nothing is committed if the files did not change.
func (r *Repo) commitTx(ctx context.Context, fn func() (msg string, files []string, err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, files, err := fn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, f := range files {
		if _, err := w.Add(f); err != nil {
			return fmt.Errorf("failed to stage files: %w", err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: r.author.Name, Email: r.author.Email, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CommitCount returns the total number of commits in the repository.
func (r *Repo) CommitCount(_ context.Context) (int, error) {
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return 0, nil // no commits yet is not an error
	}
	defer iter.Close()
	n := 0
	for {
		if _, err := iter.Next(); err != nil {
			break
		}
		n++
	}
	return n, nil
}

// History returns the commits touching a document, newest first, limited to
// n entries. n is capped at 1000; if n <= 0, defaults to 1000.
func (r *Repo) History(_ context.Context, partition, name string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	path := r.dir.RelPath(partition, name)
	iter, err := r.repo.Log(&gogit.LogOptions{FileName: &path})
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()
	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:        c.Hash.String(),
			Message:     subject,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			When:        c.Author.When,
		})
	}
	return commits, nil
}

// ReadAt returns a document as it was at commit hash. hash may be "HEAD".
func (r *Repo) ReadAt(_ context.Context, hash, partition, name string) (balloon.Document, error) {
	if err := storage.ValidateKey(partition, name); err != nil {
		return nil, err
	}
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	f, err := c.File(r.dir.RelPath(partition, name))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, storage.NotFound(partition, name)
		}
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return r.dir.Codec().Unmarshal(data)
}
