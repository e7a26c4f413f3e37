package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/docschema"
	"github.com/maruel/balloonist/snapshot"
	"github.com/maruel/balloonist/storage"
	"github.com/maruel/balloonist/storage/git"
)

type command struct {
	help  string
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"check":     {"load every stored document and report the invalid ones", "", cmdCheck},
		"get":       {"print a document after resolving its references", "<type> <name>", cmdGet},
		"names":     {"list the names stored in a partition", "<type>", cmdNames},
		"referrers": {"list the documents referencing a document", "<type> <name>", cmdReferrers},
		"delete":    {"delete a document", "<type> <name>", cmdDelete},
		"schema":    {"print the JSON Schema of the documents of a type", "<type>", cmdSchema},
		"export":    {"write every document to a snapshot", "<file>", cmdExport},
		"import":    {"load every document of a snapshot", "<file>", cmdImport},
		"watch":     {"validate documents as they are modified on disk", "", cmdWatch},
		"history":   {"list the commits of a document (git backend)", "<type> <name>", cmdHistory},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var errUsage = errors.New("invalid arguments")

// parse parses the flags of command name and checks the number of positional
// arguments.
func parse(fs *pflag.FlagSet, e *env, name string, args []string, nargs int) ([]string, error) {
	fs.SetOutput(e.out)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != nargs {
		return nil, fmt.Errorf("%w; usage: balloonist %s %s", errUsage, name, commands[name].usage)
	}
	return fs.Args(), nil
}

func cmdCheck(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	if _, err := parse(fs, e, "check", args, 0); err != nil {
		return err
	}
	problems, err := e.db.Check(ctx)
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintln(e.out, p)
	}
	if len(problems) != 0 {
		return fmt.Errorf("%d invalid documents", len(problems))
	}
	e.log.InfoContext(ctx, "all documents are valid")
	return nil
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("get", pflag.ContinueOnError)
	format := fs.StringP("format", "f", "json", "output format (json, yaml)")
	pos, err := parse(fs, e, "get", args, 2)
	if err != nil {
		return err
	}
	n, err := e.db.Resolve(ctx, pos[0], pos[1])
	if err != nil {
		return err
	}
	d := balloon.Deflator{Registry: e.reg}
	doc, err := d.Deflate(n)
	if err != nil {
		return err
	}
	return encode(e.out, *format, doc)
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func cmdNames(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("names", pflag.ContinueOnError)
	pos, err := parse(fs, e, "names", args, 1)
	if err != nil {
		return err
	}
	p, err := e.db.Partition(pos[0])
	if err != nil {
		return err
	}
	names, err := p.Names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(e.out, name)
	}
	return nil
}

func cmdReferrers(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("referrers", pflag.ContinueOnError)
	pos, err := parse(fs, e, "referrers", args, 2)
	if err != nil {
		return err
	}
	if _, err := e.db.Partition(pos[0]); err != nil {
		return err
	}
	refs, err := e.db.Referrers(ctx, pos[0], pos[1])
	if err != nil {
		return err
	}
	for _, r := range refs {
		fmt.Fprintln(e.out, r)
	}
	return nil
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)
	force := fs.Bool("force", false, "delete even if other documents reference it")
	pos, err := parse(fs, e, "delete", args, 2)
	if err != nil {
		return err
	}
	p, err := e.db.Partition(pos[0])
	if err != nil {
		return err
	}
	if err := p.Delete(ctx, pos[1], *force); err != nil {
		return err
	}
	e.log.InfoContext(ctx, "deleted", "partition", pos[0], "name", pos[1])
	return nil
}

func cmdSchema(_ context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("schema", pflag.ContinueOnError)
	pos, err := parse(fs, e, "schema", args, 1)
	if err != nil {
		return err
	}
	s, err := docschema.Generate(e.reg, pos[0], e.cfg.Strict)
	if err != nil {
		return err
	}
	return encode(e.out, "json", s)
}

func cmdExport(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	pos, err := parse(fs, e, "export", args, 1)
	if err != nil {
		return err
	}
	var w io.Writer = e.out
	var f *os.File
	if pos[0] != "-" {
		if f, err = os.Create(filepath.Clean(pos[0])); err != nil {
			return fmt.Errorf("failed to create snapshot: %w", err)
		}
		w = f
	}
	n, err := snapshot.Export(ctx, w, e.backend)
	if f != nil {
		if err2 := f.Close(); err == nil && err2 != nil {
			err = fmt.Errorf("failed to close snapshot: %w", err2)
		}
	}
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "exported", "documents", n, "file", pos[0])
	return nil
}

func cmdImport(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("import", pflag.ContinueOnError)
	check := fs.Bool("check", true, "check every document after importing")
	pos, err := parse(fs, e, "import", args, 1)
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Clean(pos[0]))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()
	n, err := snapshot.Import(ctx, f, e.backend)
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "imported", "documents", n, "file", pos[0])
	if !*check {
		return nil
	}
	return cmdCheck(ctx, e, nil)
}

func cmdWatch(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	if _, err := parse(fs, e, "watch", args, 0); err != nil {
		return err
	}
	d, err := e.dir()
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "watching", "dir", d.Root())
	return d.Watch(ctx, func(c storage.Change) {
		e.db.Invalidate(c.Partition, c.Name)
		if c.Op == storage.Removed {
			e.log.InfoContext(ctx, "removed", "partition", c.Partition, "name", c.Name)
			return
		}
		if _, err := e.db.Resolve(ctx, c.Partition, c.Name); err != nil {
			e.log.WarnContext(ctx, "invalid document", "partition", c.Partition, "name", c.Name, "err", err)
			return
		}
		e.log.InfoContext(ctx, "changed", "partition", c.Partition, "name", c.Name)
	})
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := fs.IntP("limit", "n", 20, "maximum number of commits")
	pos, err := parse(fs, e, "history", args, 2)
	if err != nil {
		return err
	}
	r, ok := e.backend.(*git.Repo)
	if !ok {
		return fmt.Errorf("backend %q has no history", e.cfg.Backend)
	}
	commits, err := r.History(ctx, pos[0], pos[1], *limit)
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Fprintf(e.out, "%.12s %s %s %s\n", c.Hash, c.When.Format(time.RFC3339), c.Author, strings.TrimSpace(c.Message))
	}
	return nil
}
