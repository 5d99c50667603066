package twitter

import (
	"context"
	"html"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"tools.zach/dev/catbot/internal/catbot"
	"tools.zach/dev/catbot/internal/content"
	"tools.zach/dev/catbot/internal/media"
	"tools.zach/dev/catbot/internal/supervisor"
)

// PlatformName is the adapter's name in logs.
const PlatformName = "twitter"

// Rule tags registered by the adapter.
const (
	TriggerRuleTag = "catbot"
	MentionRuleTag = "catbot-mentions"
)

// DefaultFollowRate paces follow-back calls to stay inside the follows
// endpoint limit of 50 requests per 15 minutes.
var DefaultFollowRate = rate.Every(18 * time.Second)

// Options configures an [Adapter].
type Options struct {
	// StreamRule is the filtered stream rule that selects trigger tweets.
	StreamRule string
	// FollowBack runs one follower reconciliation pass after the first
	// successful connect.
	FollowBack bool
	// Heartbeat overrides [DefaultHeartbeat].
	Heartbeat time.Duration
	// Limiter paces follow-back calls. Nil means [DefaultFollowRate].
	Limiter *rate.Limiter
}

// Adapter connects a Twitter account to the bot. It is the stream
// [Handler], the [catbot.Platform] the bot replies through, and the
// [supervisor.Conn] the supervisor keeps alive.
type Adapter struct {
	client *Client
	bot    *catbot.Bot
	stream *Stream
	opts   Options
	log    *slog.Logger

	mu   sync.RWMutex
	self User

	rulesReady   atomic.Bool
	followedBack atomic.Bool
	wg           sync.WaitGroup
}

// NewAdapter wires c and bot together.
func NewAdapter(c *Client, bot *catbot.Bot, opts Options, log *slog.Logger) *Adapter {
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(DefaultFollowRate, 1)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	a := &Adapter{client: c, bot: bot, opts: opts, log: log.With("platform", PlatformName)}
	a.stream = NewStream(c, a, opts.Heartbeat, a.log)
	return a
}

// ///////////////////////////////////////////////
// supervisor.Conn
// ///////////////////////////////////////////////

// Name implements catbot.Platform and supervisor.Conn.
func (a *Adapter) Name() string { return PlatformName }

// Connect fetches the bot's identity, makes sure the stream rules exist and
// streams. The first successful connect also starts the follow-back pass.
func (a *Adapter) Connect(ctx context.Context, hooks supervisor.Hooks) error {
	me, err := a.Identify(ctx)
	if err != nil {
		return err
	}
	if !a.rulesReady.Load() {
		if err := a.client.EnsureRules(ctx, a.rules(me)...); err != nil {
			return err
		}
		a.rulesReady.Store(true)
	}
	if a.opts.FollowBack && a.followedBack.CompareAndSwap(false, true) {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if n, err := a.FollowBack(ctx); err != nil {
				a.log.Error("follow back failed", "followed", n, "error", err)
			}
		}()
	}
	return a.stream.Connect(ctx, hooks)
}

// Close implements supervisor.Conn.
func (a *Adapter) Close() error { return a.stream.Close() }

// Wait blocks until a running follow-back pass returns.
func (a *Adapter) Wait() { a.wg.Wait() }

func (a *Adapter) rules(me User) []Rule {
	rules := []Rule{{Value: "@" + me.Username, Tag: MentionRuleTag}}
	if a.opts.StreamRule != "" {
		rules = append(rules, Rule{Value: a.opts.StreamRule, Tag: TriggerRuleTag})
	}
	return rules
}

// Identify returns the authenticated user, asking the server only once.
func (a *Adapter) Identify(ctx context.Context) (User, error) {
	a.mu.RLock()
	me := a.self
	a.mu.RUnlock()
	if me.ID != "" {
		return me, nil
	}

	me, err := a.client.Me(ctx)
	if err != nil {
		return User{}, err
	}
	a.mu.Lock()
	a.self = me
	a.mu.Unlock()
	a.log.Info("identified", "username", me.Username)
	return me, nil
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// OnTweet implements Handler. A tweet addressed to the bot whose text is a
// command runs the command; everything else goes through the reply pipeline.
func (a *Adapter) OnTweet(ctx context.Context, t Tweet) {
	self := a.Self()
	if t.AuthorID == self.ID {
		return
	}

	text := content.StripMentions(html.UnescapeString(t.Text))
	from := catbot.Account{ID: t.AuthorID, Acct: t.AuthorUsername}

	if a.addressed(t, self) && catbot.ParseCommand(text) != catbot.CommandNone {
		if _, err := a.bot.HandleMention(ctx, a, from, text); err != nil {
			a.log.Error("command failed", "tweet", t.ID, "username", t.AuthorUsername, "error", err)
		}
		return
	}

	out, err := a.bot.HandleStatus(ctx, a, ToEvent(t, text))
	if err != nil {
		a.log.Error("reply failed", "tweet", t.ID, "username", t.AuthorUsername, "error", err)
		return
	}
	if out != catbot.Ignored {
		a.log.Debug("handled tweet", "tweet", t.ID, "outcome", out)
	}
}

func (a *Adapter) addressed(t Tweet, self catbot.Account) bool {
	if t.InReplyToUserID != "" && t.InReplyToUserID == self.ID {
		return true
	}
	for _, m := range t.Mentions {
		if m == self.Acct {
			return true
		}
	}
	return false
}

// ///////////////////////////////////////////////
// catbot.Platform
// ///////////////////////////////////////////////

// Self implements catbot.Platform.
func (a *Adapter) Self() catbot.Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return catbot.Account{ID: a.self.ID, Acct: a.self.Username}
}

// UploadMedia implements catbot.Platform.
func (a *Adapter) UploadMedia(ctx context.Context, m media.Media) (string, error) {
	return a.client.UploadMedia(ctx, m)
}

// PostReply implements catbot.Platform. Tweets carry no visibility, so the
// reply's visibility is ignored.
func (a *Adapter) PostReply(ctx context.Context, r catbot.Reply) error {
	id, err := a.client.PostTweet(ctx, TweetParams{
		Text:        r.Text,
		InReplyToID: r.InReplyTo,
		MediaIDs:    r.MediaIDs,
	})
	if err != nil {
		return err
	}
	a.log.Info("replied", "tweet", id, "in_reply_to", r.InReplyTo)
	return nil
}

// Follow implements catbot.Platform.
func (a *Adapter) Follow(ctx context.Context, id string) error {
	return a.client.Follow(ctx, a.Self().ID, id)
}

// Unfollow implements catbot.Platform.
func (a *Adapter) Unfollow(ctx context.Context, id string) error {
	return a.client.Unfollow(ctx, a.Self().ID, id)
}

// ///////////////////////////////////////////////
// Conversion
// ///////////////////////////////////////////////

// ToEvent reduces a tweet to a catbot.Event using the already cleaned text.
func ToEvent(t Tweet, text string) catbot.Event {
	return catbot.Event{
		ID:       t.ID,
		UserID:   t.AuthorID,
		Acct:     t.AuthorUsername,
		Text:     text,
		Mentions: t.Mentions,
		Reblog:   t.Retweet,
	}
}
