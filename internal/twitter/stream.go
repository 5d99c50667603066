package twitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"
	"tools.zach/dev/catbot/internal/supervisor"
)

// DefaultHeartbeat is how long the stream may stay silent before it is
// considered dead. The server sends a keep-alive newline every 20 seconds.
const DefaultHeartbeat = 60 * time.Second

const maxLineBytes = 1 << 20

// Tweet is a tweet delivered by the filtered stream.
type Tweet struct {
	ID              string
	Text            string
	AuthorID        string
	AuthorUsername  string
	InReplyToUserID string
	Mentions        []string
	Retweet         bool
}

// Handler receives tweets from the stream, one at a time.
type Handler interface {
	OnTweet(ctx context.Context, t Tweet)
}

// Rule is a filtered stream rule.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Tag   string `json:"tag,omitempty"`
}

// ///////////////////////////////////////////////
// Rules
// ///////////////////////////////////////////////

// Rules lists the stream rules of the app.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var out struct {
		Data []Rule `json:"data"`
	}
	err := c.call(ctx, c.app, request{method: http.MethodGet, path: "/2/tweets/search/stream/rules", bearer: true}, &out)
	return out.Data, err
}

// AddRules adds stream rules.
func (c *Client) AddRules(ctx context.Context, rules ...Rule) error {
	body, err := json.Marshal(map[string][]Rule{"add": rules})
	if err != nil {
		return fmt.Errorf("twitter: encode rules: %w", err)
	}
	return c.call(ctx, c.app, request{
		method: http.MethodPost,
		path:   "/2/tweets/search/stream/rules",
		body:   body,
		ctype:  "application/json",
		bearer: true,
	}, nil)
}

// EnsureRules adds the rules whose value is not registered yet.
func (c *Client) EnsureRules(ctx context.Context, rules ...Rule) error {
	existing, err := c.Rules(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.Value] = true
	}
	var missing []Rule
	for _, r := range rules {
		if r.Value != "" && !have[r.Value] {
			missing = append(missing, Rule{Value: r.Value, Tag: r.Tag})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	c.log.Info("adding stream rules", "count", len(missing))
	return c.AddRules(ctx, missing...)
}

// ///////////////////////////////////////////////
// Stream
// ///////////////////////////////////////////////

// Stream reads the filtered stream. It satisfies [supervisor.Conn].
type Stream struct {
	client    *Client
	handler   Handler
	heartbeat time.Duration
	log       *slog.Logger

	mu   sync.Mutex
	body io.Closer
}

// NewStream returns a Stream dispatching to h.
func NewStream(c *Client, h Handler, heartbeat time.Duration, log *slog.Logger) *Stream {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Stream{client: c, handler: h, heartbeat: heartbeat, log: log}
}

// Name implements supervisor.Conn.
func (s *Stream) Name() string { return "twitter:filtered" }

// Connect opens the filtered stream and reads until it drops, goes silent
// for longer than the heartbeat, or ctx is cancelled.
func (s *Stream) Connect(ctx context.Context, hooks supervisor.Hooks) error {
	q := url.Values{
		"expansions":   []string{"author_id"},
		"tweet.fields": []string{"author_id,entities,referenced_tweets,in_reply_to_user_id"},
		"user.fields":  []string{"username"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.base+"/2/tweets/search/stream?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("twitter: build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.client.bearer)

	resp, err := s.client.stream.Do(req)
	if err != nil {
		return fmt.Errorf("twitter: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return parseError(resp.StatusCode, data)
	}

	s.mu.Lock()
	s.body = resp.Body
	s.mu.Unlock()

	if hooks.OnConnect != nil {
		hooks.OnConnect()
	}
	err = s.read(ctx, resp.Body)
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	s.body = nil
	s.mu.Unlock()
	_ = resp.Body.Close()

	if hooks.OnDisconnect != nil {
		hooks.OnDisconnect(err)
	}
	return err
}

// Close closes the open stream, if any.
func (s *Stream) Close() error {
	s.mu.Lock()
	body := s.body
	s.body = nil
	s.mu.Unlock()
	if body == nil {
		return nil
	}
	return body.Close()
}

// errStalled is reported when no keep-alive arrived within the heartbeat.
var errStalled = errors.New("twitter: stream stalled")

func (s *Stream) read(ctx context.Context, body io.ReadCloser) error {
	var stalled atomic.Bool
	watchdog := time.AfterFunc(s.heartbeat, func() {
		stalled.Store(true)
		_ = body.Close()
	})
	defer watchdog.Stop()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		watchdog.Reset(s.heartbeat)

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		t, err := parseTweet(line)
		if err != nil {
			s.log.Warn("dropping stream line", "error", err)
			continue
		}
		// Handling a tweet can take longer than the heartbeat. Time spent
		// here is not silence from the server.
		watchdog.Stop()
		s.handler.OnTweet(ctx, t)
		watchdog.Reset(s.heartbeat)
	}

	if stalled.Load() {
		return errStalled
	}
	return sc.Err()
}

// parseTweet decodes one stream line.
func parseTweet(line []byte) (Tweet, error) {
	var t Tweet
	t.ID, _ = jsonparser.GetString(line, "data", "id")
	if t.ID == "" {
		if msg, err := jsonparser.GetString(line, "errors", "[0]", "detail"); err == nil {
			return t, fmt.Errorf("stream error: %s", msg)
		}
		return t, errors.New("line has no tweet")
	}
	t.Text, _ = jsonparser.GetString(line, "data", "text")
	t.AuthorID, _ = jsonparser.GetString(line, "data", "author_id")
	t.InReplyToUserID, _ = jsonparser.GetString(line, "data", "in_reply_to_user_id")

	_, _ = jsonparser.ArrayEach(line, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
		if name, err := jsonparser.GetString(v, "username"); err == nil && name != "" {
			t.Mentions = append(t.Mentions, name)
		}
	}, "data", "entities", "mentions")

	_, _ = jsonparser.ArrayEach(line, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
		if typ, _ := jsonparser.GetString(v, "type"); typ == "retweeted" {
			t.Retweet = true
		}
	}, "data", "referenced_tweets")

	_, _ = jsonparser.ArrayEach(line, func(v []byte, _ jsonparser.ValueType, _ int, _ error) {
		if id, _ := jsonparser.GetString(v, "id"); id == t.AuthorID {
			t.AuthorUsername, _ = jsonparser.GetString(v, "username")
		}
	}, "includes", "users")

	return t, nil
}
