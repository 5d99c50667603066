// Package main implements the catbot daemon, which answers cat requests on
// Mastodon and Twitter with random cat images.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"tools.zach/dev/catbot/internal/paths"
	"tools.zach/dev/catbot/internal/pidlock"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// resolveVersion returns [version], or "dev+<hash>" from the VCS info the
// toolchain embeds when ldflags were not set.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// defaultDataDir returns ~/.catbot, or ./.catbot when the home directory is
// unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func newApp() *cli.App {
	return &cli.App{
		Name:    "catbot",
		Usage:   "reply to cat requests with random cat images",
		Version: resolveVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory holding config.toml, .env, logs and the pid file",
				Value:   defaultDataDir(),
				EnvVars: []string{"CATBOT_DATA_DIR"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level and only pretend to post (same as setting DEBUG_MODE)",
			},
			&cli.BoolFlag{
				Name:  "stderr",
				Usage: "copy log output to stderr",
			},
		},
		Action: run,
	}
}

func main() {
	newApp().RunAndExitOnError()
}

func run(cctx *cli.Context) error {
	opts := Options{
		Paths:  paths.DataDir{Root: cctx.String("data-dir")},
		Debug:  cctx.Bool("debug"),
		Stderr: cctx.Bool("stderr"),
	}
	if err := os.MkdirAll(opts.Paths.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock, err := pidlock.Acquire(opts.Paths.PID())
	if err != nil {
		if errors.Is(err, pidlock.ErrHeld) {
			return cli.Exit(err.Error(), 1)
		}
		return err
	}
	defer lock.Release()

	container, err := BuildContainer(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	return container.Invoke(func(d *daemon, log *slog.Logger, closer logCloser) error {
		defer closer.Close()
		slog.SetDefault(log)

		log.Info("catbot starting",
			"version", resolveVersion(),
			"data_dir", opts.Paths.Root,
			"platforms", len(d.conns),
			"dry_run", d.debug,
		)

		sigCh := signalChannel()
		go func() {
			select {
			case sig := <-sigCh:
				log.Info("received shutdown signal", "signal", sig.String())
				cancel()
			case <-ctx.Done():
			}
		}()

		err := d.Run(ctx)
		log.Info("catbot stopped")
		return err
	})
}
