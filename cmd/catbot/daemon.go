package main

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"go.uber.org/dig"
	"tools.zach/dev/catbot/internal/config"
	"tools.zach/dev/catbot/internal/supervisor"
	"tools.zach/dev/catbot/internal/watch"
)

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemonParams are the container values the daemon needs.
type daemonParams struct {
	dig.In

	Config      *config.Config
	Credentials config.Credentials
	Options     Options
	Log         *slog.Logger
	Level       *slog.LevelVar
	Conns       []supervisor.Conn
}

// daemon runs one supervisor per platform and reloads the config file when
// it changes.
type daemon struct {
	cfg   *config.Config
	opts  Options
	debug bool
	log   *slog.Logger
	level *slog.LevelVar

	conns       []supervisor.Conn
	supervisors []*supervisor.Supervisor
}

// waiter is implemented by connections that start background work, such as
// the Twitter follow-back pass.
type waiter interface {
	Wait()
}

func newDaemon(p daemonParams) *daemon {
	d := &daemon{
		cfg:   p.Config,
		opts:  p.Options,
		debug: debugMode(p.Credentials, p.Options),
		log:   p.Log,
		level: p.Level,
		conns: p.Conns,
	}
	for _, c := range p.Conns {
		d.supervisors = append(d.supervisors,
			supervisor.New(c, p.Log, supervisor.WithInterval(p.Config.CheckInterval())))
	}
	return d
}

// Run blocks until ctx is cancelled and every stream has shut down.
func (d *daemon) Run(ctx context.Context) error {
	var events <-chan struct{}
	watcher, err := watch.New(d.opts.Paths.Config(), d.log.With("component", "watch"))
	if err != nil {
		d.log.Warn("config watcher unavailable, changes need a restart", "error", err)
	} else {
		defer watcher.Close()
		events = watcher.Events()
		if watcher.Polling() {
			d.log.Info("using polling mode for config watching")
		}
	}

	var wg sync.WaitGroup
	for _, s := range d.supervisors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Run(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			for _, c := range d.conns {
				if w, ok := c.(waiter); ok {
					w.Wait()
				}
			}
			return nil
		case <-events:
			d.reload()
		}
	}
}

// reload re-reads config.toml. Only the log level is applied live.
func (d *daemon) reload() {
	cfg, err := config.Load(d.opts.Paths.Root)
	if err != nil {
		d.log.Warn("config reload failed, keeping current settings", "error", err)
		return
	}

	if level := effectiveLevel(cfg, d.debug); level != d.level.Level() {
		d.log.Info("log level changed", "from", d.level.Level().String(), "to", level.String())
		d.level.Set(level)
	}
	if needsRestart(d.cfg, cfg) {
		d.log.Warn("config changed, restart catbot to apply settings other than log.level")
	}
}

// needsRestart reports whether next differs from running in anything but
// the log level.
func needsRestart(running, next *config.Config) bool {
	a, b := *running, *next
	a.Log.Level, b.Log.Level = "", ""
	return !reflect.DeepEqual(a, b)
}
