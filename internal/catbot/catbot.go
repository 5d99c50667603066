// Package catbot is the platform-independent reply pipeline.
//
// A platform adapter turns its native stream objects into an [Event] and calls
// [Bot.HandleStatus], [Bot.HandleFollow] or [Bot.HandleMention]. The Bot
// classifies the text, consults the addict checker and calls back into the
// adapter through the [Platform] interface to upload media, post replies and
// follow accounts. Handlers run synchronously on the caller's goroutine.
package catbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tools.zach/dev/catbot/internal/addict"
	"tools.zach/dev/catbot/internal/giphy"
	"tools.zach/dev/catbot/internal/logger"
	"tools.zach/dev/catbot/internal/matcher"
	"tools.zach/dev/catbot/internal/media"
)

// Default reply texts.
const (
	DefaultReplyText  = "nya!"
	DefaultAddictText = "당신은 야짤 중독입니다..."
)

// dryRunMediaID stands in for an uploaded attachment when posting is disabled.
const dryRunMediaID = "dry-run"

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Account identifies a user on a platform.
type Account struct {
	ID   string
	Acct string
}

// Event is a status or tweet reduced to what the pipeline needs.
type Event struct {
	// ID is the platform id of the status, used as the reply target.
	ID string
	// UserID and Acct identify the author.
	UserID string
	Acct   string
	// Text is the plain text with markup and links removed.
	Text string
	// Visibility is the platform audience scope of the status.
	Visibility string
	// Mentions lists the acct handles mentioned in the status.
	Mentions []string
	// Reblog is set for reblogs and retweets.
	Reblog bool
}

// Reply is an outgoing status.
type Reply struct {
	InReplyTo  string
	Text       string
	Visibility string
	MediaIDs   []string
}

// Platform is the set of calls the Bot makes back into a backend.
type Platform interface {
	Name() string
	Self() Account
	UploadMedia(ctx context.Context, m media.Media) (string, error)
	PostReply(ctx context.Context, r Reply) error
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// ImageSource provides random cat images.
type ImageSource interface {
	Random(ctx context.Context) (giphy.Image, error)
	Download(ctx context.Context, rawURL string) (media.Media, error)
}

// Outcome reports what a handler did with an event.
type Outcome int

const (
	Ignored Outcome = iota
	Replied
	Scolded
	Followed
	Unfollowed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Replied:
		return "replied"
	case Scolded:
		return "scolded"
	case Followed:
		return "followed"
	case Unfollowed:
		return "unfollowed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Options configures a [Bot].
type Options struct {
	// ReplyText follows the mention list in image replies.
	ReplyText string
	// AddictText follows the author mention in scold replies.
	AddictText string
	// Ignore reports whether an account must never be answered.
	Ignore func(acct string) bool
	// DryRun logs uploads, posts and follows instead of sending them. The
	// addict checker still advances.
	DryRun bool
}

// Bot decides how to answer events. It is safe for concurrent use by
// several adapters as long as the checker is.
type Bot struct {
	checker *addict.Checker
	images  ImageSource
	opts    Options
	log     *slog.Logger
}

// New returns a Bot.
func New(checker *addict.Checker, images ImageSource, opts Options, log *slog.Logger) *Bot {
	if opts.ReplyText == "" {
		opts.ReplyText = DefaultReplyText
	}
	if opts.AddictText == "" {
		opts.AddictText = DefaultAddictText
	}
	if opts.Ignore == nil {
		opts.Ignore = func(string) bool { return false }
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bot{checker: checker, images: images, opts: opts, log: log}
}

// DryRun reports whether outbound calls are suppressed.
func (b *Bot) DryRun() bool { return b.opts.DryRun }

// ///////////////////////////////////////////////
// Handlers
// ///////////////////////////////////////////////

// HandleStatus answers a status or tweet. Reblogs, the bot's own posts and
// ignored accounts are skipped. An addict signal is recorded first and, once
// the user is over the limit, answered with a scold instead of an image.
// A failed reply is returned as an error with outcome Failed; nothing partial
// is posted.
func (b *Bot) HandleStatus(ctx context.Context, p Platform, ev Event) (Outcome, error) {
	log := b.log.With("platform", p.Name(), "status", ev.ID, "acct", ev.Acct)

	if ev.Reblog {
		log.Debug("skipping reblog")
		return Ignored, nil
	}
	if self := p.Self(); ev.UserID == self.ID || strings.EqualFold(ev.Acct, self.Acct) {
		return Ignored, nil
	}
	if b.opts.Ignore(ev.Acct) {
		log.Debug("skipping ignored account")
		return Ignored, nil
	}

	log.Debug("status", "text", ev.Text)

	class := matcher.Classify(ev.Text)
	if !class.Wants() {
		logger.Trace(log, "no trigger")
		return Ignored, nil
	}

	if class == matcher.AddictSignal {
		b.checker.Record(ev.UserID)
		if b.checker.IsAddict(ev.UserID) {
			log.Info("addict detected", "count", b.checker.Count(ev.UserID))
			if err := b.scold(ctx, p, ev); err != nil {
				return Failed, err
			}
			return Scolded, nil
		}
	}

	log.Info("replying with cat", "class", class)
	if err := b.replyWithCat(ctx, p, ev); err != nil {
		return Failed, err
	}
	return Replied, nil
}

// HandleFollow follows a new follower back.
func (b *Bot) HandleFollow(ctx context.Context, p Platform, from Account) (Outcome, error) {
	if b.opts.Ignore(from.Acct) {
		return Ignored, nil
	}
	b.log.Info("follow back", "platform", p.Name(), "acct", from.Acct)
	if b.opts.DryRun {
		return Followed, nil
	}
	if err := p.Follow(ctx, from.ID); err != nil {
		return Failed, fmt.Errorf("follow %s: %w", from.Acct, err)
	}
	return Followed, nil
}

// HandleMention runs the follow/unfollow commands. text is the mention's
// plain text with handles removed and must equal the command exactly.
func (b *Bot) HandleMention(ctx context.Context, p Platform, from Account, text string) (Outcome, error) {
	log := b.log.With("platform", p.Name(), "acct", from.Acct)
	log.Info("mentioned")

	switch ParseCommand(text) {
	case CommandFollow:
		log.Info("follow by mention")
		if b.opts.DryRun {
			return Followed, nil
		}
		if err := p.Follow(ctx, from.ID); err != nil {
			return Failed, fmt.Errorf("follow %s: %w", from.Acct, err)
		}
		return Followed, nil
	case CommandUnfollow:
		log.Info("unfollow by mention")
		if b.opts.DryRun {
			return Unfollowed, nil
		}
		if err := p.Unfollow(ctx, from.ID); err != nil {
			return Failed, fmt.Errorf("unfollow %s: %w", from.Acct, err)
		}
		return Unfollowed, nil
	}
	return Ignored, nil
}

// ///////////////////////////////////////////////
// Replies
// ///////////////////////////////////////////////

func (b *Bot) scold(ctx context.Context, p Platform, ev Event) error {
	r := Reply{
		InReplyTo:  ev.ID,
		Text:       "@" + ev.Acct + " " + b.opts.AddictText,
		Visibility: ReplyVisibility(ev.Visibility),
	}
	return b.post(ctx, p, r)
}

func (b *Bot) replyWithCat(ctx context.Context, p Platform, ev Event) error {
	mediaID, err := b.attachImage(ctx, p)
	if err != nil {
		return err
	}

	text := b.opts.ReplyText
	if m := Mentions(ev.Acct, ev.Mentions, p.Self().Acct); m != "" {
		text = m + " " + text
	}
	r := Reply{
		InReplyTo:  ev.ID,
		Text:       text,
		Visibility: ReplyVisibility(ev.Visibility),
		MediaIDs:   []string{mediaID},
	}
	return b.post(ctx, p, r)
}

func (b *Bot) post(ctx context.Context, p Platform, r Reply) error {
	if b.opts.DryRun {
		b.log.Info("dry run: would post", "platform", p.Name(), "in_reply_to", r.InReplyTo, "text", r.Text, "visibility", r.Visibility)
		return nil
	}
	if err := p.PostReply(ctx, r); err != nil {
		return fmt.Errorf("post reply to %s: %w", r.InReplyTo, err)
	}
	return nil
}

// attachImage fetches a random image and uploads it. The original rendition
// is tried first; on any download or upload failure the downsized one is
// tried exactly once.
func (b *Bot) attachImage(ctx context.Context, p Platform) (string, error) {
	img, err := b.images.Random(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch random image: %w", err)
	}

	id, err := b.upload(ctx, p, img.OriginalURL)
	if err == nil {
		return id, nil
	}
	b.log.Warn("original image failed, trying downsized", "platform", p.Name(), "url", img.OriginalURL, "error", err)

	id, fallbackErr := b.upload(ctx, p, img.DownsizedURL)
	if fallbackErr != nil {
		return "", errors.Join(err, fmt.Errorf("downsized image: %w", fallbackErr))
	}
	return id, nil
}

func (b *Bot) upload(ctx context.Context, p Platform, rawURL string) (string, error) {
	m, err := b.images.Download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if b.opts.DryRun {
		b.log.Info("dry run: would upload", "platform", p.Name(), "url", rawURL, "bytes", len(m.Data))
		return dryRunMediaID, nil
	}
	id, err := p.UploadMedia(ctx, m)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", rawURL, err)
	}
	return id, nil
}
