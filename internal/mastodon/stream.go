package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tools.zach/dev/catbot/internal/supervisor"
)

// Stream timeline names accepted by the streaming API.
const (
	StreamUser   = "user"
	StreamPublic = "public"
	StreamLocal  = "public:local"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Handler receives decoded stream events. Calls are made synchronously from
// the read loop, one at a time.
type Handler interface {
	OnUpdate(ctx context.Context, st Status)
	OnNotification(ctx context.Context, n Notification)
	OnUnknown(ctx context.Context, event string)
}

// frame is one message of the websocket streaming API. Payload is itself a
// JSON document encoded as a string.
type frame struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// Stream is a websocket connection to the streaming API. It satisfies
// [supervisor.Conn].
type Stream struct {
	client  *Client
	stream  string
	handler Handler
	dialer  *websocket.Dialer
	log     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStream returns a Stream for the named timeline that dispatches to h.
func NewStream(c *Client, stream string, h Handler, log *slog.Logger) *Stream {
	if stream == "" {
		stream = StreamUser
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Stream{
		client:  c,
		stream:  stream,
		handler: h,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:     log,
	}
}

// Name implements supervisor.Conn.
func (s *Stream) Name() string { return "mastodon:" + s.stream }

// URL returns the websocket endpoint for the stream.
func (s *Stream) URL() string {
	u := s.client.BaseURL()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/streaming"
	u.RawQuery = url.Values{"stream": []string{s.stream}}.Encode()
	return u.String()
}

// Connect dials the streaming API and reads until the connection drops or ctx
// is cancelled.
func (s *Stream) Connect(ctx context.Context, hooks supervisor.Hooks) error {
	header := http.Header{}
	if s.client.token != "" {
		header.Set("Authorization", "Bearer "+s.client.token)
	}

	con, resp, err := s.dialer.DialContext(ctx, s.URL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("mastodon: dial stream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("mastodon: dial stream: %w", err)
	}

	s.mu.Lock()
	s.conn = con
	s.mu.Unlock()

	if hooks.OnConnect != nil {
		hooks.OnConnect()
	}
	err = s.read(ctx, con)
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	if s.conn == con {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = con.Close()

	if hooks.OnDisconnect != nil {
		hooks.OnDisconnect(err)
	}
	return err
}

// Close closes the open connection, if any.
func (s *Stream) Close() error {
	s.mu.Lock()
	con := s.conn
	s.conn = nil
	s.mu.Unlock()
	if con == nil {
		return nil
	}
	_ = con.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return con.Close()
}

func (s *Stream) read(ctx context.Context, con *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := con.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					s.log.Warn("failed to ping", "error", err)
				}
			case <-ctx.Done():
				_ = con.Close()
				return
			}
		}
	}()

	for {
		_, data, err := con.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := s.dispatch(ctx, data); err != nil {
			s.log.Warn("dropping stream message", "error", err)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case "update":
		var st Status
		if err := json.Unmarshal([]byte(f.Payload), &st); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		s.handler.OnUpdate(ctx, st)
	case "notification":
		var n Notification
		if err := json.Unmarshal([]byte(f.Payload), &n); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		s.handler.OnNotification(ctx, n)
	case "":
		return errors.New("frame without event")
	default:
		s.handler.OnUnknown(ctx, f.Event)
	}
	return nil
}
