// Package giphy fetches random cat images from the Giphy API.
//
// [Client.Random] returns the URLs of a random image; [Client.Download] pulls
// the bytes of one of those URLs. Callers try the original rendition first and
// fall back to the downsized one exactly once.
package giphy

import (
	"context"
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
	"tools.zach/dev/catbot/internal/media"
)

// DefaultBaseURL is the public Giphy API endpoint.
const DefaultBaseURL = "https://api.giphy.com"

// maxDownloadBytes caps a single image download.
const maxDownloadBytes = 32 << 20

// maxResponseBytes caps the JSON body of an API call.
const maxResponseBytes = 1 << 20

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Image holds the two renditions of a random image.
type Image struct {
	OriginalURL  string
	DownsizedURL string
}

// APIError is returned when Giphy answers with a non-success status. Message
// carries the upstream "message" field when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("giphy: status %d", e.Status)
	}
	return fmt.Sprintf("giphy: status %d: %s", e.Status, e.Message)
}

// ErrNoImage is returned when a success response carries no usable URL.
var ErrNoImage = errors.New("giphy: response has no image url")

// Config configures a [Client].
type Config struct {
	// BaseURL overrides [DefaultBaseURL].
	BaseURL string
	// APIKey is the Giphy API key.
	APIKey string
	// Tag is the search tag, "cat" by default.
	Tag string
	// Rating is the optional content rating filter (g, pg, pg-13, r).
	Rating string
	// RetryMax is the retry budget for transient failures.
	RetryMax int
	// Timeout bounds each HTTP attempt.
	Timeout time.Duration
}

// Client talks to the Giphy random endpoint and downloads images.
type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *slog.Logger
}

// New returns a Client. A nil logger discards retry chatter.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Tag == "" {
		cfg.Tag = "cat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = nil
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{cfg: cfg, http: hc, log: log}
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Random fetches a random image for the configured tag.
func (c *Client) Random(ctx context.Context) (Image, error) {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("tag", c.cfg.Tag)
	if c.cfg.Rating != "" {
		q.Set("rating", c.cfg.Rating)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/gifs/random?" + q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Image{}, fmt.Errorf("giphy: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("giphy: random: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Image{}, fmt.Errorf("giphy: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := jsonparser.GetString(body, "message")
		if msg == "" {
			msg, _ = jsonparser.GetString(body, "meta", "msg")
		}
		return Image{}, &APIError{Status: resp.StatusCode, Message: msg}
	}

	return parseRandom(body)
}

// Download fetches rawURL and returns its bytes with a content type guessed
// from the URL, falling back to the response header.
func (c *Client) Download(ctx context.Context, rawURL string) (media.Media, error) {
	if rawURL == "" {
		return media.Media{}, ErrNoImage
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return media.Media{}, fmt.Errorf("giphy: build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return media.Media{}, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return media.Media{}, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return media.Media{}, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if len(data) > maxDownloadBytes {
		return media.Media{}, fmt.Errorf("image %s exceeds %d bytes", rawURL, maxDownloadBytes)
	}

	ct := media.GuessType(rawURL)
	if ct == "" {
		ct = resp.Header.Get("Content-Type")
	}
	c.log.Debug("downloaded image", "url", rawURL, "bytes", len(data), "content_type", ct)

	return media.Media{
		Data:        data,
		ContentType: ct,
		Filename:    media.Filename(rawURL),
		Source:      rawURL,
	}, nil
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// parseRandom extracts data.images.{original,downsized}.url from a random
// endpoint body.
func parseRandom(body []byte) (Image, error) {
	original, _ := jsonparser.GetString(body, "data", "images", "original", "url")
	downsized, _ := jsonparser.GetString(body, "data", "images", "downsized", "url")
	if original == "" && downsized == "" {
		return Image{}, ErrNoImage
	}
	return Image{OriginalURL: original, DownsizedURL: downsized}, nil
}
