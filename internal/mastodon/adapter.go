package mastodon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tools.zach/dev/catbot/internal/catbot"
	"tools.zach/dev/catbot/internal/content"
	"tools.zach/dev/catbot/internal/media"
	"tools.zach/dev/catbot/internal/supervisor"
)

// PlatformName is the adapter's name in logs.
const PlatformName = "mastodon"

// Adapter connects a Mastodon account to the bot. It is the stream
// [Handler], the [catbot.Platform] the bot replies through, and the
// [supervisor.Conn] the supervisor keeps alive.
type Adapter struct {
	client *Client
	bot    *catbot.Bot
	stream *Stream
	log    *slog.Logger

	mu   sync.RWMutex
	self Account
}

// NewAdapter wires c and bot together for the named stream timeline.
func NewAdapter(c *Client, bot *catbot.Bot, stream string, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	a := &Adapter{client: c, bot: bot, log: log.With("platform", PlatformName)}
	a.stream = NewStream(c, stream, a, a.log)
	return a
}

// ///////////////////////////////////////////////
// supervisor.Conn
// ///////////////////////////////////////////////

// Name implements catbot.Platform and supervisor.Conn.
func (a *Adapter) Name() string { return PlatformName }

// Connect fetches the bot's identity on the first call and then streams.
func (a *Adapter) Connect(ctx context.Context, hooks supervisor.Hooks) error {
	if _, err := a.Identify(ctx); err != nil {
		return err
	}
	return a.stream.Connect(ctx, hooks)
}

// Close implements supervisor.Conn.
func (a *Adapter) Close() error { return a.stream.Close() }

// Identify returns the authenticated account, asking the server only once.
func (a *Adapter) Identify(ctx context.Context) (Account, error) {
	a.mu.RLock()
	me := a.self
	a.mu.RUnlock()
	if me.ID != "" {
		return me, nil
	}

	me, err := a.client.VerifyCredentials(ctx)
	if err != nil {
		return Account{}, err
	}
	a.mu.Lock()
	a.self = me
	a.mu.Unlock()
	a.log.Info("identified", "acct", me.Acct)
	return me, nil
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// OnUpdate implements Handler.
func (a *Adapter) OnUpdate(ctx context.Context, st Status) {
	out, err := a.bot.HandleStatus(ctx, a, ToEvent(st))
	if err != nil {
		a.log.Error("reply failed", "status", st.ID, "acct", st.Account.Acct, "error", err)
		return
	}
	if out != catbot.Ignored {
		a.log.Debug("handled status", "status", st.ID, "outcome", out)
	}
}

// OnNotification implements Handler.
func (a *Adapter) OnNotification(ctx context.Context, n Notification) {
	from := catbot.Account{ID: n.Account.ID, Acct: n.Account.Acct}

	var (
		out catbot.Outcome
		err error
	)
	switch n.Type {
	case "follow":
		out, err = a.bot.HandleFollow(ctx, a, from)
	case "mention":
		if n.Status == nil {
			return
		}
		out, err = a.bot.HandleMention(ctx, a, from, content.PlainText(n.Status.Content))
	default:
		a.log.Debug("unhandled notification", "type", n.Type)
		return
	}

	switch {
	case IsNotFound(err):
		a.log.Warn("account not found", "acct", from.Acct, "type", n.Type)
	case err != nil:
		a.log.Error("notification failed", "acct", from.Acct, "type", n.Type, "error", err)
	case out != catbot.Ignored:
		a.log.Debug("handled notification", "type", n.Type, "outcome", out)
	}
}

// OnUnknown implements Handler.
func (a *Adapter) OnUnknown(_ context.Context, event string) {
	a.log.Debug("unhandled stream event", "event", event)
}

// ///////////////////////////////////////////////
// catbot.Platform
// ///////////////////////////////////////////////

// Self implements catbot.Platform.
func (a *Adapter) Self() catbot.Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return catbot.Account{ID: a.self.ID, Acct: a.self.Acct}
}

// UploadMedia implements catbot.Platform.
func (a *Adapter) UploadMedia(ctx context.Context, m media.Media) (string, error) {
	att, err := a.client.UploadMedia(ctx, m)
	if err != nil {
		return "", err
	}
	return att.ID, nil
}

// PostReply implements catbot.Platform. The idempotency key is derived from
// the target status so a retried request never posts twice.
func (a *Adapter) PostReply(ctx context.Context, r catbot.Reply) error {
	st, err := a.client.PostStatus(ctx, StatusParams{
		Status:         r.Text,
		InReplyToID:    r.InReplyTo,
		MediaIDs:       r.MediaIDs,
		Visibility:     r.Visibility,
		IdempotencyKey: ReplyKey(a.client.BaseURL().Host, r.InReplyTo),
	})
	if err != nil {
		return err
	}
	a.log.Info("replied", "status", st.ID, "in_reply_to", r.InReplyTo)
	return nil
}

// Follow implements catbot.Platform.
func (a *Adapter) Follow(ctx context.Context, id string) error {
	return a.client.Follow(ctx, id)
}

// Unfollow implements catbot.Platform.
func (a *Adapter) Unfollow(ctx context.Context, id string) error {
	return a.client.Unfollow(ctx, id)
}

// ///////////////////////////////////////////////
// Conversion
// ///////////////////////////////////////////////

// ToEvent reduces a status to a catbot.Event.
func ToEvent(st Status) catbot.Event {
	mentions := make([]string, 0, len(st.Mentions))
	for _, m := range st.Mentions {
		mentions = append(mentions, m.Acct)
	}
	return catbot.Event{
		ID:         st.ID,
		UserID:     st.Account.ID,
		Acct:       st.Account.Acct,
		Text:       content.PlainText(st.Content),
		Visibility: st.Visibility,
		Mentions:   mentions,
		Reblog:     st.Reblog != nil,
	}
}

// ReplyKey is the Idempotency-Key for a reply to statusID on host.
func ReplyKey(host, statusID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://"+host+"/statuses/"+statusID+"#reply")).String()
}
