package twitter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"tools.zach/dev/catbot/internal/addict"
	"tools.zach/dev/catbot/internal/catbot"
	"tools.zach/dev/catbot/internal/giphy"
	"tools.zach/dev/catbot/internal/media"
)

type staticImages struct{}

func (staticImages) Random(context.Context) (giphy.Image, error) {
	return giphy.Image{OriginalURL: "https://media.example/giphy.gif", DownsizedURL: "https://media.example/small.gif"}, nil
}

func (staticImages) Download(_ context.Context, rawURL string) (media.Media, error) {
	return media.Media{Data: []byte("GIF89a"), ContentType: "image/gif", Filename: media.Filename(rawURL), Source: rawURL}, nil
}

// fakeAPI is a minimal Twitter API v2 server.
type fakeAPI struct {
	mu        sync.Mutex
	tweets    []map[string]any
	follows   []string
	unfollows []string
	followers string
	following string
	rateLimit bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /2/users/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"1","username":"need_nya"}}`)
	})
	mux.HandleFunc("POST /2/media/upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"m1"}}`)
	})
	mux.HandleFunc("POST /2/tweets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.tweets = append(f.tweets, body)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"data":{"id":"900"}}`)
	})
	mux.HandleFunc("POST /2/users/1/following", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rateLimit && len(f.follows) > 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"title":"Too Many Requests"}`)
			return
		}
		f.follows = append(f.follows, body["target_user_id"])
		_, _ = io.WriteString(w, `{"data":{"following":true}}`)
	})
	mux.HandleFunc("DELETE /2/users/1/following/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.unfollows = append(f.unfollows, r.PathValue("id"))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"data":{"following":false}}`)
	})
	mux.HandleFunc("GET /2/users/1/followers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, f.followers)
	})
	mux.HandleFunc("GET /2/users/1/following", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, f.following)
	})
	return mux
}

func newTestAdapter(t *testing.T, api *fakeAPI, opts catbot.Options) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c := New(context.Background(), Config{BaseURL: srv.URL, AccessToken: "u", BearerToken: "b"}, nil)
	bot := catbot.New(addict.New(2, time.Hour), staticImages{}, opts, nil)
	a := NewAdapter(c, bot, Options{Limiter: rate.NewLimiter(rate.Inf, 1)}, nil)

	_, err := a.Identify(context.Background())
	require.NoError(t, err)
	return a
}

func TestAdapter_Self(t *testing.T) {
	a := newTestAdapter(t, &fakeAPI{}, catbot.Options{})
	assert.Equal(t, catbot.Account{ID: "1", Acct: "need_nya"}, a.Self())
	assert.Equal(t, PlatformName, a.Name())
}

func TestAdapter_OnTweetReplies(t *testing.T) {
	api := &fakeAPI{}
	a := newTestAdapter(t, api, catbot.Options{})

	a.OnTweet(context.Background(), Tweet{
		ID:             "100",
		Text:           "@need_nya @bob 고양이 필요 https://t.co/x",
		AuthorID:       "42",
		AuthorUsername: "alice",
		Mentions:       []string{"need_nya", "bob"},
	})

	require.Len(t, api.tweets, 1)
	body := api.tweets[0]
	assert.Equal(t, "@alice @bob nya!", body["text"])
	assert.Equal(t, map[string]any{"in_reply_to_tweet_id": "100"}, body["reply"])
	assert.Equal(t, map[string]any{"media_ids": []any{"m1"}}, body["media"])
}

func TestAdapter_OnTweetUnescapesEntities(t *testing.T) {
	api := &fakeAPI{}
	a := newTestAdapter(t, api, catbot.Options{})

	a.OnTweet(context.Background(), Tweet{ID: "101", Text: "우울해 &amp; 피곤해", AuthorID: "42", AuthorUsername: "alice"})
	assert.Len(t, api.tweets, 1)
}

func TestAdapter_OnTweetSkips(t *testing.T) {
	api := &fakeAPI{}
	a := newTestAdapter(t, api, catbot.Options{})
	ctx := context.Background()

	a.OnTweet(ctx, Tweet{ID: "1", Text: "냐짤", AuthorID: "1", AuthorUsername: "need_nya"})
	a.OnTweet(ctx, Tweet{ID: "2", Text: "RT @x: 냐짤", AuthorID: "42", AuthorUsername: "alice", Retweet: true})
	a.OnTweet(ctx, Tweet{ID: "3", Text: "좋은 아침", AuthorID: "42", AuthorUsername: "alice"})

	assert.Empty(t, api.tweets)
}

func TestAdapter_OnTweetCommands(t *testing.T) {
	api := &fakeAPI{}
	a := newTestAdapter(t, api, catbot.Options{})
	ctx := context.Background()

	a.OnTweet(ctx, Tweet{ID: "5", Text: "@need_nya follow", AuthorID: "9", AuthorUsername: "carol", Mentions: []string{"need_nya"}})
	a.OnTweet(ctx, Tweet{ID: "6", Text: "unfollow", AuthorID: "10", AuthorUsername: "dave", InReplyToUserID: "1"})
	// Not addressed to the bot: no command.
	a.OnTweet(ctx, Tweet{ID: "7", Text: "@someone follow", AuthorID: "11", AuthorUsername: "erin", Mentions: []string{"someone"}})

	assert.Equal(t, []string{"9"}, api.follows)
	assert.Equal(t, []string{"10"}, api.unfollows)
	assert.Empty(t, api.tweets)
}

func TestAdapter_FollowBack(t *testing.T) {
	api := &fakeAPI{
		followers: `{"data":[{"id":"10"},{"id":"11"},{"id":"12"}],"meta":{}}`,
		following: `{"data":[{"id":"11"}],"meta":{}}`,
	}
	a := newTestAdapter(t, api, catbot.Options{})

	n, err := a.FollowBack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"10", "12"}, api.follows)
}

func TestAdapter_FollowBackStopsOnRateLimit(t *testing.T) {
	api := &fakeAPI{
		followers: `{"data":[{"id":"10"},{"id":"11"},{"id":"12"}],"meta":{}}`,
		following: `{"meta":{}}`,
		rateLimit: true,
	}
	a := newTestAdapter(t, api, catbot.Options{})

	n, err := a.FollowBack(context.Background())
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"10"}, api.follows)
}

func TestAdapter_FollowBackDryRun(t *testing.T) {
	api := &fakeAPI{
		followers: `{"data":[{"id":"10"}],"meta":{}}`,
		following: `{"meta":{}}`,
	}
	a := newTestAdapter(t, api, catbot.Options{DryRun: true})

	n, err := a.FollowBack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, api.follows)
}

func TestMissingFollows(t *testing.T) {
	assert.Equal(t, []string{"1", "3"}, MissingFollows([]string{"1", "2", "3", "3"}, []string{"2"}))
	assert.Empty(t, MissingFollows([]string{"1"}, []string{"1"}))
	assert.Empty(t, MissingFollows(nil, []string{"1"}))
}

func TestToEvent(t *testing.T) {
	ev := ToEvent(Tweet{ID: "1", AuthorID: "42", AuthorUsername: "alice", Mentions: []string{"bob"}, Retweet: true}, "냐짤")
	assert.Equal(t, catbot.Event{ID: "1", UserID: "42", Acct: "alice", Text: "냐짤", Mentions: []string{"bob"}, Reblog: true}, ev)
}
