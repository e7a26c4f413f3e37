// Command balloonist inspects and maintains a store of balloon documents.
//
// The stored types are declared in a YAML manifest (see package manifest) and
// the data directory holds balloonist.yaml, which selects the storage backend
// and codec. Command line flags override the file when set.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/maruel/balloonist/internal/config"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "balloonist: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// globals are the flags shared by every command.
type globals struct {
	dataDir  string
	schema   string
	backend  string
	codec    string
	strict   bool
	logLevel string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	version := false
	fs := pflag.NewFlagSet("balloonist", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.BoolVar(&version, "version", false, "print version and exit")
	fs.StringVar(&g.dataDir, "data-dir", "./data", "data directory holding "+config.FileName)
	fs.StringVar(&g.schema, "schema", "", "manifest declaring the stored types")
	fs.StringVar(&g.backend, "backend", "", "storage backend (file, git, sqlite, postgres)")
	fs.StringVar(&g.codec, "codec", "", "document codec (json, cbor)")
	fs.BoolVar(&g.strict, "strict", false, "reject documents carrying unknown fields")
	fs.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if version {
		printVersion(stdout)
		return nil
	}
	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return errors.New("missing command")
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := config.Load(g.dataDir)
	if err != nil {
		return err
	}
	// Flags override balloonist.yaml only when explicitly set.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "schema":
			cfg.Schema = g.schema
		case "backend":
			cfg.Backend = g.backend
		case "codec":
			cfg.Codec = g.codec
		case "strict":
			cfg.Strict = g.strict
		case "log-level":
			cfg.LogLevel = g.logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, level)

	e, err := openEnv(ctx, g.dataDir, cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.close(); err != nil {
			logger.WarnContext(ctx, "failed to close backend", "err", err)
		}
	}()
	if err := cmd.run(ctx, e, fs.Args()[1:]); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return err
	}
	return nil
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: balloonist [flags] <command> [args]\n\nCommands:\n")
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].help)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
}

// newLogger returns a colored logger when w is a terminal.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion(w io.Writer) {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Fprintf(w, "balloonist %s\n", version)
	fmt.Fprintf(w, "  Go version: %s\n", goVersion)
	fmt.Fprintf(w, "  Revision:   %s\n", revision)
	if dirty {
		fmt.Fprintf(w, "  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
