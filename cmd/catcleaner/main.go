// Package main implements catcleaner, which deletes the bot's old Mastodon
// replies that nobody engaged with.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	rootpkg "tools.zach/dev/catbot"
	"tools.zach/dev/catbot/internal/cleaner"
	"tools.zach/dev/catbot/internal/config"
	"tools.zach/dev/catbot/internal/logger"
	"tools.zach/dev/catbot/internal/mastodon"
	"tools.zach/dev/catbot/internal/paths"
	"tools.zach/dev/catbot/internal/pidlock"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Options are the command-line inputs of the cleaner.
type Options struct {
	Paths paths.DataDir
	// Once runs a single pass and exits.
	Once bool
	// DryRun logs what would be deleted without deleting.
	DryRun bool
	// Stderr copies log output to stderr regardless of config.
	Stderr bool
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func newApp() *cli.App {
	return &cli.App{
		Name:    "catcleaner",
		Usage:   "delete old catbot replies that got no reblogs, replies or favourites",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory holding config.toml, .env and logs",
				Value:   defaultDataDir(),
				EnvVars: []string{"CATBOT_DATA_DIR"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "run one cleanup pass and exit",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "log deletions without performing them (same as setting DEBUG_MODE)",
			},
			&cli.BoolFlag{
				Name:  "stderr",
				Usage: "copy log output to stderr",
			},
		},
		Action: func(cctx *cli.Context) error {
			ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := execute(ctx, Options{
				Paths:  paths.DataDir{Root: cctx.String("data-dir")},
				Once:   cctx.Bool("once"),
				DryRun: cctx.Bool("dry-run"),
				Stderr: cctx.Bool("stderr"),
			})
			if errors.Is(err, pidlock.ErrHeld) {
				return cli.Exit(err.Error(), 1)
			}
			return err
		},
	}
}

func main() {
	newApp().RunAndExitOnError()
}

// defaultDataDir returns ~/.catbot, shared with the daemon.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// effectiveLevel is the configured level, lowered to debug when DEBUG_MODE
// is set.
func effectiveLevel(cfg *config.Config, debug bool) slog.Level {
	level := logger.ParseLevel(cfg.Log.Level)
	if debug && level > logger.LevelDebug {
		return logger.LevelDebug
	}
	return level
}

// execute runs the cleaner until ctx is done, or for one pass with
// opts.Once.
func execute(ctx context.Context, opts Options) error {
	if err := os.MkdirAll(opts.Paths.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock, err := pidlock.Acquire(opts.Paths.CleanerPID())
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := config.Seed(opts.Paths.Root, rootpkg.DefaultConfigTOML); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, err := config.Load(opts.Paths.Root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	creds, err := config.LoadCredentials(opts.Paths.Env())
	if err != nil {
		return err
	}
	if creds.Debug {
		opts.DryRun = true
	}

	level := new(slog.LevelVar)
	level.Set(effectiveLevel(cfg, creds.Debug))
	log, closer, err := logger.New(logger.Options{
		File:      opts.Paths.CleanerLog(),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Stderr:    cfg.Log.Stderr || opts.Stderr,
		Level:     level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	c, err := newCleaner(cfg, creds, opts.DryRun, log)
	if err != nil {
		logger.Fail(log, "cannot start cleaner", "error", err)
		return err
	}

	log.Info("catcleaner starting",
		"version", version,
		"app", cfg.Cleaner.AppName,
		"threshold", cfg.CleanerThreshold().String(),
		"dry_run", opts.DryRun,
		"once", opts.Once,
	)

	if opts.Once {
		_, err := c.Run(ctx)
		return err
	}
	err = c.Loop(ctx, cfg.CleanerInterval())
	log.Info("catcleaner stopped")
	return err
}

// newCleaner wires a cleaner to the account's Mastodon history.
func newCleaner(cfg *config.Config, creds config.Credentials, dryRun bool, log *slog.Logger) (*cleaner.Cleaner, error) {
	if !creds.MastodonReady() {
		return nil, fmt.Errorf("mastodon credentials missing: %s", strings.Join(creds.Missing("mastodon"), ", "))
	}
	client, err := mastodon.New(mastodon.Config{
		BaseURL:     creds.MastodonBaseURL,
		AccessToken: creds.MastodonAccessToken,
		RetryMax:    cfg.HTTP.RetryMax,
		Timeout:     cfg.HTTPTimeout(),
	}, log.With("component", "mastodon"))
	if err != nil {
		return nil, err
	}
	tl := mastodon.NewTimeline(client, cfg.Cleaner.PageLimit)
	return cleaner.New(tl, cleaner.Options{
		AppName:   cfg.Cleaner.AppName,
		Threshold: cfg.CleanerThreshold(),
		DryRun:    dryRun,
	}, log.With("component", "cleaner")), nil
}
