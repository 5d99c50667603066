package twitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tools.zach/dev/catbot/internal/supervisor"
)

const tweetLine = `{"data":{"id":"100","text":"@need_nya 고양이 필요","author_id":"42","in_reply_to_user_id":"1","entities":{"mentions":[{"start":0,"end":9,"username":"need_nya","id":"1"}]}},"includes":{"users":[{"id":"42","username":"alice","name":"Alice"}]},"matching_rules":[{"id":"5","tag":"catbot"}]}`

type recordingHandler struct {
	tweets []Tweet
}

func (h *recordingHandler) OnTweet(_ context.Context, t Tweet) { h.tweets = append(h.tweets, t) }

func TestParseTweet(t *testing.T) {
	tw, err := parseTweet([]byte(tweetLine))
	require.NoError(t, err)
	assert.Equal(t, Tweet{
		ID:              "100",
		Text:            "@need_nya 고양이 필요",
		AuthorID:        "42",
		AuthorUsername:  "alice",
		InReplyToUserID: "1",
		Mentions:        []string{"need_nya"},
	}, tw)
}

func TestParseTweet_Retweet(t *testing.T) {
	tw, err := parseTweet([]byte(`{"data":{"id":"101","text":"RT @bob: 냐짤","author_id":"43","referenced_tweets":[{"type":"retweeted","id":"99"}]}}`))
	require.NoError(t, err)
	assert.True(t, tw.Retweet)
	assert.Empty(t, tw.AuthorUsername)
}

func TestParseTweet_Errors(t *testing.T) {
	_, err := parseTweet([]byte(`{"errors":[{"title":"operational-disconnect","detail":"This stream has been disconnected for operational reasons."}]}`))
	assert.ErrorContains(t, err, "operational reasons")

	_, err = parseTweet([]byte(`{"foo":1}`))
	assert.Error(t, err)
}

func TestStream_ReadsLinesAndHeartbeats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/search/stream", r.URL.Path)
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		assert.Equal(t, "author_id", r.URL.Query().Get("expansions"))
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "\r\n")
		_, _ = io.WriteString(w, tweetLine+"\r\n")
		_, _ = io.WriteString(w, "\r\n")
		_, _ = io.WriteString(w, "not json\r\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL, BearerToken: "app-token"}, nil)
	h := &recordingHandler{}
	s := NewStream(c, h, time.Second, nil)

	var connected bool
	var cause error = io.ErrUnexpectedEOF
	err := s.Connect(context.Background(), supervisor.Hooks{
		OnConnect:    func() { connected = true },
		OnDisconnect: func(err error) { cause = err },
	})
	require.NoError(t, err, "server closing the stream is a clean end")
	assert.True(t, connected)
	assert.NoError(t, cause)
	require.Len(t, h.tweets, 1)
	assert.Equal(t, "alice", h.tweets[0].AuthorUsername)
}

func TestStream_StallDisconnects(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "\r\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(context.Background(), Config{BaseURL: srv.URL}, nil)
	s := NewStream(c, &recordingHandler{}, 50*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background(), supervisor.Hooks{}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errStalled)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream was not torn down")
	}
}

// slowHandler takes longer than the heartbeat for every tweet.
type slowHandler struct {
	delay  time.Duration
	tweets []Tweet
}

func (h *slowHandler) OnTweet(_ context.Context, t Tweet) {
	time.Sleep(h.delay)
	h.tweets = append(h.tweets, t)
}

func TestStream_SlowHandlerIsNotAStall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, tweetLine+"\r\n")
		flusher.Flush()
		for range 10 {
			time.Sleep(20 * time.Millisecond)
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
		_, _ = io.WriteString(w, tweetLine+"\r\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL}, nil)
	h := &slowHandler{delay: 150 * time.Millisecond}
	s := NewStream(c, h, 100*time.Millisecond, nil)

	err := s.Connect(context.Background(), supervisor.Hooks{})
	require.NoError(t, err)
	assert.Len(t, h.tweets, 2)
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"title":"ConnectionException","detail":"This stream is currently at the maximum allowed connection limit."}`)
	}))
	defer srv.Close()

	c := New(context.Background(), Config{BaseURL: srv.URL}, nil)
	s := NewStream(c, &recordingHandler{}, 0, nil)

	called := false
	err := s.Connect(context.Background(), supervisor.Hooks{OnConnect: func() { called = true }})
	assert.True(t, IsRateLimited(err))
	assert.False(t, called)
	assert.NoError(t, s.Close(), "closing an idle stream is a no-op")
}

func TestEnsureRules(t *testing.T) {
	var added []Rule
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/tweets/search/stream/rules", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[{"id":"1","value":"@need_nya","tag":"catbot-mentions"}],"meta":{"result_count":1}}`)
	})
	mux.HandleFunc("POST /2/tweets/search/stream/rules", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Add []Rule `json:"add"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		added = append(added, body.Add...)
		_, _ = io.WriteString(w, `{"meta":{"summary":{"created":1}}}`)
	})
	c, _ := newTestClient(t, mux)

	err := c.EnsureRules(context.Background(),
		Rule{Value: "@need_nya", Tag: MentionRuleTag},
		Rule{Value: "냐짤 -is:retweet", Tag: TriggerRuleTag},
		Rule{Value: ""},
	)
	require.NoError(t, err)
	assert.Equal(t, []Rule{{Value: "냐짤 -is:retweet", Tag: TriggerRuleTag}}, added)

	added = nil
	require.NoError(t, c.EnsureRules(context.Background(), Rule{Value: "@need_nya"}))
	assert.Empty(t, added, "nothing to add")
}
