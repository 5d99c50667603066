package mastodon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/catbot/internal/supervisor"
)

type recordingHandler struct {
	updates       []Status
	notifications []Notification
	unknown       []string
}

func (h *recordingHandler) OnUpdate(_ context.Context, st Status) { h.updates = append(h.updates, st) }
func (h *recordingHandler) OnNotification(_ context.Context, n Notification) {
	h.notifications = append(h.notifications, n)
}
func (h *recordingHandler) OnUnknown(_ context.Context, ev string) { h.unknown = append(h.unknown, ev) }

func encodeFrame(t *testing.T, event string, payload any) []byte {
	t.Helper()
	var p string
	switch v := payload.(type) {
	case string:
		p = v
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		p = string(b)
	}
	b, err := json.Marshal(frame{Stream: []string{"user"}, Event: event, Payload: p})
	require.NoError(t, err)
	return b
}

// streamServer upgrades /api/v1/streaming, writes frames and closes normally.
func streamServer(t *testing.T, frames [][]byte) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/streaming", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("stream"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		con, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer con.Close()
		for _, f := range frames {
			if err := con.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		_ = con.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// Wait for the client to close its side.
		_, _, _ = con.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStream_URL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://example.social"}, nil)
	require.NoError(t, err)

	s := NewStream(c, "", &recordingHandler{}, nil)
	assert.Equal(t, "wss://example.social/api/v1/streaming?stream=user", s.URL())
	assert.Equal(t, "mastodon:user", s.Name())
}

func TestStream_Dispatch(t *testing.T) {
	frames := [][]byte{
		encodeFrame(t, "update", Status{ID: "1", Content: "<p>고양이 필요</p>", Account: Account{ID: "42", Acct: "alice"}}),
		encodeFrame(t, "notification", Notification{ID: "n1", Type: "follow", Account: Account{ID: "9", Acct: "carol"}}),
		encodeFrame(t, "delete", "1"),
		encodeFrame(t, "update", "{not json"),
		[]byte("garbage"),
	}
	srv := streamServer(t, frames)

	c, err := New(Config{BaseURL: srv.URL, AccessToken: "tok"}, nil)
	require.NoError(t, err)
	h := &recordingHandler{}
	s := NewStream(c, StreamUser, h, nil)

	var connected, disconnected bool
	err = s.Connect(context.Background(), supervisor.Hooks{
		OnConnect:    func() { connected = true },
		OnDisconnect: func(error) { disconnected = true },
	})
	require.NoError(t, err, "normal closure ends the stream without error")

	assert.True(t, connected)
	assert.True(t, disconnected)
	require.Len(t, h.updates, 1)
	assert.Equal(t, "alice", h.updates[0].Account.Acct)
	require.Len(t, h.notifications, 1)
	assert.Equal(t, "follow", h.notifications[0].Type)
	assert.Equal(t, []string{"delete"}, h.unknown)
}

func TestStream_DialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	s := NewStream(c, StreamUser, &recordingHandler{}, nil)

	called := false
	err = s.Connect(context.Background(), supervisor.Hooks{OnConnect: func() { called = true }})
	assert.ErrorContains(t, err, "status 401")
	assert.False(t, called)
}

func TestStream_CloseUnblocksConnect(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		con, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer con.Close()
		for {
			if _, _, err := con.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	s := NewStream(c, StreamUser, &recordingHandler{}, nil)

	opened := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Connect(context.Background(), supervisor.Hooks{OnConnect: func() { close(opened) }})
	}()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}
	require.NoError(t, s.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
}
