package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/etnz/apt-publish/apt"
	"github.com/etnz/apt-publish/catalog"
	"github.com/etnz/apt-publish/manifest"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: apt-publish <command> [flags]")
		fmt.Println("Commands: publish, build, verify, migrate")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "publish":
		err = publishCmd(ctx, os.Args[2:])
	case "build":
		err = buildCmd(ctx, os.Args[2:])
	case "verify":
		err = verifyCmd(os.Args[2:])
	case "migrate":
		err = migrateCmd(ctx, os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger returns a text logger on stderr at the given level.
func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// printEvents prints every event on stdout, one JSON object per line.
func printEvents(e fmt.Stringer) {
	fmt.Println(e.String())
}

func publishCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("publish", pflag.ExitOnError)
	confPath := fs.StringP("config", "c", "apt-publish.yaml", "Path to the manifest")
	output := fs.StringP("output", "o", "", "Override the manifest output link")
	level := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	events := fs.Bool("events", false, "Print publish events as JSON lines on stdout")
	fs.Parse(args)

	logger, err := newLogger(*level)
	if err != nil {
		return err
	}
	m, err := manifest.NewManifest(*confPath)
	if err != nil {
		return err
	}
	if *output != "" {
		if m.Output, err = filepath.Abs(*output); err != nil {
			return err
		}
	}
	var listener func(fmt.Stringer)
	if *events {
		listener = printEvents
	}

	pub, err := m.Publish(ctx, logger, listener)
	if err != nil {
		return err
	}
	for _, w := range pub.Warnings {
		logger.Warn(w.Message, "distribution", w.Distribution, "component", w.Component, "record", w.Record)
	}
	logger.Info("published", "id", pub.ID, "path", pub.Path, "releases", len(pub.Releases), "warnings", len(pub.Warnings))
	return nil
}

// buildCmd writes the publication into a directory without promoting it.
func buildCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("build", pflag.ExitOnError)
	confPath := fs.StringP("config", "c", "apt-publish.yaml", "Path to the manifest")
	dir := fs.StringP("dir", "d", "dist", "Directory to write the repository tree to")
	level := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	logger, err := newLogger(*level)
	if err != nil {
		return err
	}
	m, err := manifest.NewManifest(*confPath)
	if err != nil {
		return err
	}
	snap, store, err := m.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	p, err := m.Publisher(store, logger, nil)
	if err != nil {
		return err
	}
	pub, err := p.Build(ctx, snap, *dir)
	if err != nil {
		return err
	}
	logger.Info("built", "dir", *dir, "artifacts", len(pub.Artifacts), "warnings", len(pub.Warnings))
	return nil
}

func verifyCmd(args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ExitOnError)
	root := fs.StringP("root", "r", ".", "Root of the repository tree")
	dists := fs.StringSlice("dist", []string{"default"}, "Distributions to verify")
	fs.Parse(args)

	for _, d := range *dists {
		if err := apt.VerifyTree(*root, d); err != nil {
			return err
		}
		fmt.Printf("%s: OK\n", d)
	}
	return nil
}

// migrateCmd creates the catalog schema in a database.
func migrateCmd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	driver := fs.String("driver", "sqlite", "Database driver (sqlite, postgres)")
	dsn := fs.String("dsn", "", "Data source name of the catalog database")
	fs.Parse(args)

	if *dsn == "" {
		return fmt.Errorf("--dsn is required")
	}
	if *driver != "sqlite" && *driver != "postgres" {
		return fmt.Errorf("unsupported driver %q", *driver)
	}
	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return catalog.Migrate(ctx, db)
}
