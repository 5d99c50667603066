// Package twitter is a Twitter API v2 client covering what the bot needs:
// the authenticated user, follows, tweets with media, follower lists and the
// filtered stream.
//
// User-context calls go through an OAuth 2.0 token source that refreshes the
// access token on expiry. The filtered stream and its rules use the app-only
// bearer token.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.twitter.com"

// Endpoint is the OAuth 2.0 endpoint used to refresh user tokens.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

const maxResponseBytes = 4 << 20

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// User is a Twitter user.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// APIError is a non-success response in the v2 problem format.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("twitter: status %d: %s", e.Status, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("twitter: status %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("twitter: status %d", e.Status)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// Config configures a [Client].
type Config struct {
	// BaseURL overrides [DefaultBaseURL].
	BaseURL string
	// ClientID and ClientSecret identify the OAuth 2.0 app.
	ClientID     string
	ClientSecret string
	// AccessToken and RefreshToken are the user-context tokens.
	AccessToken  string
	RefreshToken string
	// BearerToken is the app-only token for the filtered stream.
	BearerToken string
	// TokenURL overrides the refresh endpoint.
	TokenURL string
	// RetryMax is the retry budget for transient failures.
	RetryMax int
	// Timeout bounds each REST attempt. The stream is not bounded.
	Timeout time.Duration
	// MediaPolls bounds the STATUS polls of an upload.
	MediaPolls int
}

// Client is a Twitter API v2 client.
type Client struct {
	base   string
	bearer string
	user   *retryablehttp.Client
	once   *retryablehttp.Client // user context, never retried
	app    *retryablehttp.Client
	stream *http.Client
	log    *slog.Logger

	mediaPolls int
	sleep      func(context.Context, time.Duration) error
}

// New returns a Client. ctx is used by the token source for refreshes and
// must outlive the client.
func New(ctx context.Context, cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MediaPolls <= 0 {
		cfg.MediaPolls = 30
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	endpoint := Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	oc := &oauth2.Config{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, Endpoint: endpoint}
	tok := &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}
	userHTTP := oauth2.NewClient(ctx, oc.TokenSource(ctx, tok))
	userHTTP.Timeout = cfg.Timeout

	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		bearer:     cfg.BearerToken,
		user:       newRetryClient(userHTTP, cfg.RetryMax),
		once:       newRetryClient(userHTTP, 0),
		app:        newRetryClient(&http.Client{Timeout: cfg.Timeout}, cfg.RetryMax),
		stream:     &http.Client{},
		log:        log,
		mediaPolls: cfg.MediaPolls,
		sleep:      sleepContext,
	}
}

func newRetryClient(hc *http.Client, retryMax int) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = hc
	rc.RetryMax = retryMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// ///////////////////////////////////////////////
// Users
// ///////////////////////////////////////////////

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out struct {
		Data User `json:"data"`
	}
	err := c.call(ctx, c.user, request{method: http.MethodGet, path: "/2/users/me"}, &out)
	return out.Data, err
}

// Follow makes sourceID follow targetID. A failure is returned without a
// retry.
func (c *Client) Follow(ctx context.Context, sourceID, targetID string) error {
	body, _ := json.Marshal(map[string]string{"target_user_id": targetID})
	return c.call(ctx, c.once, request{
		method: http.MethodPost,
		path:   "/2/users/" + url.PathEscape(sourceID) + "/following",
		body:   body,
		ctype:  "application/json",
	}, nil)
}

// Unfollow makes sourceID unfollow targetID.
func (c *Client) Unfollow(ctx context.Context, sourceID, targetID string) error {
	return c.call(ctx, c.once, request{
		method: http.MethodDelete,
		path:   "/2/users/" + url.PathEscape(sourceID) + "/following/" + url.PathEscape(targetID),
	}, nil)
}

// FollowerIDs returns the ids of every follower of userID.
func (c *Client) FollowerIDs(ctx context.Context, userID string) ([]string, error) {
	return c.userIDs(ctx, "/2/users/"+url.PathEscape(userID)+"/followers")
}

// FollowingIDs returns the ids of every account userID follows.
func (c *Client) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	return c.userIDs(ctx, "/2/users/"+url.PathEscape(userID)+"/following")
}

// userIDs walks a paginated user list. The walk ends when a page carries no
// next_token.
func (c *Client) userIDs(ctx context.Context, path string) ([]string, error) {
	var ids []string
	token := ""
	for {
		q := url.Values{"max_results": []string{"1000"}}
		if token != "" {
			q.Set("pagination_token", token)
		}
		var page struct {
			Data []User `json:"data"`
			Meta struct {
				NextToken string `json:"next_token"`
			} `json:"meta"`
		}
		if err := c.call(ctx, c.user, request{method: http.MethodGet, path: path, query: q}, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Data {
			ids = append(ids, u.ID)
		}
		if page.Meta.NextToken == "" {
			return ids, nil
		}
		token = page.Meta.NextToken
	}
}

// ///////////////////////////////////////////////
// Tweets
// ///////////////////////////////////////////////

// TweetParams is the body of a new tweet.
type TweetParams struct {
	Text          string
	InReplyToID   string
	MediaIDs      []string
	ReplySettings string
}

// PostTweet publishes a tweet and returns its id. Tweets carry no
// idempotency key, so a failed post is never resent.
func (c *Client) PostTweet(ctx context.Context, p TweetParams) (string, error) {
	body := map[string]any{"text": p.Text}
	if p.InReplyToID != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": p.InReplyToID}
	}
	if len(p.MediaIDs) > 0 {
		body["media"] = map[string][]string{"media_ids": p.MediaIDs}
	}
	if p.ReplySettings != "" {
		body["reply_settings"] = p.ReplySettings
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("twitter: encode tweet: %w", err)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err = c.call(ctx, c.once, request{method: http.MethodPost, path: "/2/tweets", body: data, ctype: "application/json"}, &out)
	return out.Data.ID, err
}

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
	ctype  string
	bearer bool
}

func (c *Client) call(ctx context.Context, hc *retryablehttp.Client, r request, out any) error {
	data, err := c.do(ctx, hc, r)
	if err != nil {
		return err
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("twitter: decode %s: %w", r.path, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, r request) ([]byte, error) {
	u := c.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body any
	if r.body != nil {
		body = r.body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("twitter: build request: %w", err)
	}
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	if r.bearer {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("twitter: read %s: %w", r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp.StatusCode, data)
	}
	return data, nil
}

// parseError reads the v2 problem body, falling back to the v1.1 errors array.
func parseError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	e.Title, _ = jsonparser.GetString(body, "title")
	e.Detail, _ = jsonparser.GetString(body, "detail")
	if e.Detail == "" {
		e.Detail, _ = jsonparser.GetString(body, "errors", "[0]", "message")
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
