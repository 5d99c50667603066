// Package mastodon is a small Mastodon client covering what the bot needs:
// account identity, follows, statuses with media, the user stream and the
// bot's own status history.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/hashicorp/go-retryablehttp"
	"tools.zach/dev/catbot/internal/media"
)

// maxResponseBytes caps a single API response body.
const maxResponseBytes = 4 << 20

// defaultMediaPolls bounds how many times an async upload is polled.
const defaultMediaPolls = 30

// ///////////////////////////////////////////////
// Entities
// ///////////////////////////////////////////////

// Account is a Mastodon account.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	Bot         bool   `json:"bot"`
}

// Mention is an account mentioned in a status.
type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
}

// Application is the client app that created a status.
type Application struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

// Status is a Mastodon status.
type Status struct {
	ID              string       `json:"id"`
	CreatedAt       time.Time    `json:"created_at"`
	InReplyToID     string       `json:"in_reply_to_id"`
	Account         Account      `json:"account"`
	Content         string       `json:"content"`
	Visibility      string       `json:"visibility"`
	Reblog          *Status      `json:"reblog"`
	Mentions        []Mention    `json:"mentions"`
	Application     *Application `json:"application"`
	ReblogsCount    int          `json:"reblogs_count"`
	RepliesCount    int          `json:"replies_count"`
	FavouritesCount int          `json:"favourites_count"`
}

// Notification is a Mastodon notification.
type Notification struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Account Account `json:"account"`
	Status  *Status `json:"status"`
}

// Attachment is an uploaded media attachment. URL stays nil while the server
// is still processing the file.
type Attachment struct {
	ID   string  `json:"id"`
	Type string  `json:"type"`
	URL  *string `json:"url"`
}

// Ready reports whether the attachment has been processed.
func (a Attachment) Ready() bool { return a.URL != nil && *a.URL != "" }

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

// APIError is a non-success response. Message is the server's "error" field.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mastodon: status %d", e.Status)
	}
	return fmt.Sprintf("mastodon: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// ErrMediaNotReady is returned when an upload is still processing after the
// poll budget is spent.
var ErrMediaNotReady = errors.New("mastodon: media still processing")

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Config configures a [Client].
type Config struct {
	// BaseURL is the instance URL, e.g. https://example.social.
	BaseURL string
	// AccessToken is the user access token.
	AccessToken string
	// RetryMax is the retry budget for transient failures.
	RetryMax int
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
	// MediaPolls bounds the polls of an async upload.
	MediaPolls int
}

// Client is a Mastodon REST client.
type Client struct {
	base  *url.URL
	token string
	http  *retryablehttp.Client
	once  *retryablehttp.Client
	log   *slog.Logger

	mediaPolls int
	sleep      func(context.Context, time.Duration) error
}

// New returns a Client for cfg.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("mastodon: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("mastodon: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("mastodon: base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MediaPolls <= 0 {
		cfg.MediaPolls = defaultMediaPolls
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	hc := newRetryClient(cfg.RetryMax, cfg.Timeout)
	return &Client{
		base:       base,
		token:      cfg.AccessToken,
		http:       hc,
		once:       newRetryClient(0, cfg.Timeout),
		log:        log,
		mediaPolls: cfg.MediaPolls,
		sleep:      sleepContext,
	}, nil
}

func newRetryClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = retryMax
	hc.HTTPClient.Timeout = timeout
	hc.Logger = nil
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return hc
}

// BaseURL returns the instance URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// ///////////////////////////////////////////////
// Accounts
// ///////////////////////////////////////////////

// VerifyCredentials returns the authenticated account.
func (c *Client) VerifyCredentials(ctx context.Context) (Account, error) {
	var acct Account
	err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/accounts/verify_credentials"}, &acct)
	return acct, err
}

// Follow follows the account with id. Failures are not retried.
func (c *Client) Follow(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodPost, path: "/api/v1/accounts/" + url.PathEscape(id) + "/follow", once: true}, nil)
}

// Unfollow unfollows the account with id. Failures are not retried.
func (c *Client) Unfollow(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodPost, path: "/api/v1/accounts/" + url.PathEscape(id) + "/unfollow", once: true}, nil)
}

// ///////////////////////////////////////////////
// Statuses
// ///////////////////////////////////////////////

// StatusParams is the body of a new status.
type StatusParams struct {
	Status      string   `json:"status"`
	InReplyToID string   `json:"in_reply_to_id,omitempty"`
	MediaIDs    []string `json:"media_ids,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`

	// IdempotencyKey makes the server drop a repeated post with the same key.
	IdempotencyKey string `json:"-"`
}

// PostStatus publishes a status.
func (c *Client) PostStatus(ctx context.Context, p StatusParams) (Status, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Status{}, fmt.Errorf("mastodon: encode status: %w", err)
	}
	req := request{
		method:      http.MethodPost,
		path:        "/api/v1/statuses",
		body:        body,
		contentType: "application/json",
	}
	if p.IdempotencyKey != "" {
		req.header = http.Header{"Idempotency-Key": []string{p.IdempotencyKey}}
	}
	var st Status
	err = c.call(ctx, req, &st)
	return st, err
}

// DeleteStatus deletes a status owned by the authenticated account.
func (c *Client) DeleteStatus(ctx context.Context, id string) error {
	return c.call(ctx, request{method: http.MethodDelete, path: "/api/v1/statuses/" + url.PathEscape(id)}, nil)
}

// Page selects a window of a paginated timeline.
type Page struct {
	MaxID   string
	MinID   string
	SinceID string
	Limit   int
}

func (p Page) values() url.Values {
	q := url.Values{}
	if p.MaxID != "" {
		q.Set("max_id", p.MaxID)
	}
	if p.MinID != "" {
		q.Set("min_id", p.MinID)
	}
	if p.SinceID != "" {
		q.Set("since_id", p.SinceID)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Pagination holds the neighbouring pages advertised by a Link header. Older
// points at older statuses (rel="next"), Newer at newer ones (rel="prev").
// A nil page means there is nothing more in that direction.
type Pagination struct {
	Older *Page
	Newer *Page
}

// AccountStatuses returns one page of an account's statuses, newest first as
// the server orders them, plus the neighbouring pages.
func (c *Client) AccountStatuses(ctx context.Context, accountID string, page Page) ([]Status, Pagination, error) {
	var statuses []Status
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/v1/accounts/" + url.PathEscape(accountID) + "/statuses",
		query:  page.values(),
	}, &statuses)
	if err != nil {
		return nil, Pagination{}, err
	}
	pg := parseLink(resp.Header.Get("Link"), page.Limit)
	return statuses, pg, nil
}

// ///////////////////////////////////////////////
// Media
// ///////////////////////////////////////////////

// UploadMedia uploads m and waits until the server has processed it.
func (c *Client) UploadMedia(ctx context.Context, m media.Media) (Attachment, error) {
	body, contentType, err := multipartBody(m)
	if err != nil {
		return Attachment{}, err
	}

	var att Attachment
	err = c.call(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v2/media",
		body:        body,
		contentType: contentType,
	}, &att)
	if err != nil {
		return Attachment{}, err
	}
	return c.waitMedia(ctx, att)
}

// waitMedia polls an attachment until it has a URL, sleeping log2(1+n)
// seconds before the n-th poll. A polling error aborts the wait.
func (c *Client) waitMedia(ctx context.Context, att Attachment) (Attachment, error) {
	for n := 1; !att.Ready(); n++ {
		if n > c.mediaPolls {
			return Attachment{}, fmt.Errorf("%w: %s after %d polls", ErrMediaNotReady, att.ID, c.mediaPolls)
		}
		if err := c.sleep(ctx, pollDelay(n)); err != nil {
			return Attachment{}, err
		}
		c.log.Debug("polling media", "id", att.ID, "attempt", n)
		if err := c.call(ctx, request{method: http.MethodGet, path: "/api/v1/media/" + url.PathEscape(att.ID)}, &att); err != nil {
			return Attachment{}, fmt.Errorf("mastodon: poll media %s: %w", att.ID, err)
		}
	}
	return att, nil
}

// pollDelay is log2(1+n) seconds.
func pollDelay(n int) time.Duration {
	return time.Duration(math.Log2(float64(1+n)) * float64(time.Second))
}

func multipartBody(m media.Media) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := m.Filename
	if filename == "" {
		filename = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	ct := m.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("mastodon: multipart: %w", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return nil, "", fmt.Errorf("mastodon: multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("mastodon: multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// ///////////////////////////////////////////////
// Transport
// ///////////////////////////////////////////////

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	header      http.Header
	// once sends the request a single time.
	once bool
}

func (c *Client) call(ctx context.Context, r request, out any) error {
	_, err := c.do(ctx, r, out)
	return err
}

func (c *Client) do(ctx context.Context, r request, out any) (*http.Response, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body any
	if r.body != nil {
		body = r.body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("mastodon: build request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	hc := c.http
	if r.once {
		hc = c.once
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mastodon: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("mastodon: read %s: %w", r.path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := jsonparser.GetString(data, "error")
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("mastodon: decode %s: %w", r.path, err)
		}
	}
	return resp, nil
}

// parseLink reads the max_id/min_id cursors out of a Link header.
func parseLink(header string, limit int) Pagination {
	var pg Pagination
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		q := u.Query()
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			switch attr {
			case `rel="next"`:
				if id := q.Get("max_id"); id != "" {
					pg.Older = &Page{MaxID: id, Limit: limit}
				}
			case `rel="prev"`:
				if id := q.Get("min_id"); id != "" {
					pg.Newer = &Page{MinID: id, Limit: limit}
				} else if id := q.Get("since_id"); id != "" {
					pg.Newer = &Page{MinID: id, Limit: limit}
				}
			}
		}
	}
	return pg
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
