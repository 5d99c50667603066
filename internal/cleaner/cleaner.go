// Package cleaner deletes the bot's own old posts that nobody engaged with.
//
// The [Timeline] yields the bot's posts oldest first, page by page. The walk
// deletes every post older than the threshold that was created by the bot's
// application and has no reblogs, replies or favourites, and stops at the
// first post that is still inside the threshold: everything after it is
// newer.
package cleaner

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultAppName       = "need_nya"
	DefaultThresholdDays = 30
	DefaultInterval      = time.Hour
)

// Post is one of the bot's own posts.
type Post struct {
	ID         string
	CreatedAt  time.Time
	App        string
	Reblogs    int
	Replies    int
	Favourites int
}

// Engaged reports whether anyone reblogged, replied to or favourited the post.
func (p Post) Engaged() bool {
	return p.Reblogs > 0 || p.Replies > 0 || p.Favourites > 0
}

// Timeline is the bot's own post history.
type Timeline interface {
	// Self returns the handle the history belongs to.
	Self(ctx context.Context) (string, error)
	// Page returns the posts after cursor, oldest first. An empty cursor
	// starts at the oldest post. more is false once there is nothing after
	// the returned page.
	Page(ctx context.Context, cursor string) (posts []Post, next string, more bool, err error)
	// Delete removes a post.
	Delete(ctx context.Context, id string) error
}

// Report summarises one run.
type Report struct {
	Scanned  int
	Deleted  int
	Skipped  int
	Stopped  bool
	Duration time.Duration
}

// Options configures a [Cleaner].
type Options struct {
	AppName   string
	Threshold time.Duration
	DryRun    bool
	Now       func() time.Time
}

// Cleaner runs cleanup passes over a Timeline.
type Cleaner struct {
	tl   Timeline
	opts Options
	log  *slog.Logger
}

// New returns a Cleaner.
func New(tl Timeline, opts Options, log *slog.Logger) *Cleaner {
	if opts.AppName == "" {
		opts.AppName = DefaultAppName
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThresholdDays * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Cleaner{tl: tl, opts: opts, log: log}
}

// Run performs one pass. Posts that fail to delete are logged and skipped;
// only timeline errors abort the pass.
func (c *Cleaner) Run(ctx context.Context) (Report, error) {
	start := c.opts.Now()
	cutoff := start.Add(-c.opts.Threshold)
	var rep Report

	me, err := c.tl.Self(ctx)
	if err != nil {
		return rep, fmt.Errorf("cleaner: identify: %w", err)
	}
	c.log.Debug("cleaning", "acct", me, "cutoff", cutoff.UTC().Format(time.RFC3339))

	cursor := ""
walk:
	for {
		posts, next, more, err := c.tl.Page(ctx, cursor)
		if err != nil {
			return rep, fmt.Errorf("cleaner: page after %q: %w", cursor, err)
		}
		for _, p := range posts {
			if !p.CreatedAt.Before(cutoff) {
				rep.Stopped = true
				break walk
			}
			rep.Scanned++

			if p.App != c.opts.AppName || p.Engaged() {
				rep.Skipped++
				continue
			}

			c.log.Info("deleting", "status", p.ID, "created", p.CreatedAt.UTC().Format(time.RFC3339))
			if !c.opts.DryRun {
				if err := c.tl.Delete(ctx, p.ID); err != nil {
					c.log.Error("delete failed", "status", p.ID, "error", err)
					rep.Skipped++
					continue
				}
			}
			rep.Deleted++
		}
		if !more || len(posts) == 0 {
			break
		}
		cursor = next
	}

	rep.Duration = c.opts.Now().Sub(start)
	c.log.Info(fmt.Sprintf("Removed %d statuses", rep.Deleted), "scanned", rep.Scanned, "skipped", rep.Skipped, "dry_run", c.opts.DryRun)
	return rep, nil
}

// Loop runs a pass immediately and then every interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (c *Cleaner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := c.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
