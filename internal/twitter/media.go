package twitter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"tools.zach/dev/catbot/internal/media"
)

// Processing states reported by the upload endpoint.
const (
	statePending    = "pending"
	stateInProgress = "in_progress"
	stateSucceeded  = "succeeded"
	stateFailed     = "failed"
)

// ErrMediaNotReady is returned when an upload is still processing after the
// poll budget is spent.
var ErrMediaNotReady = errors.New("twitter: media still processing")

// MediaError is an upload the server failed to process.
type MediaError struct {
	ID      string
	Message string
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("twitter: media %s failed: %s", e.ID, e.Message)
}

type uploadState struct {
	id      string
	state   string
	message string
}

// UploadMedia uploads m and waits until the server has processed it. It
// returns the media id to attach to a tweet.
func (c *Client) UploadMedia(ctx context.Context, m media.Media) (string, error) {
	body, ctype, err := uploadBody(m)
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, c.user, request{method: http.MethodPost, path: "/2/media/upload", body: body, ctype: ctype})
	if err != nil {
		return "", err
	}
	st, err := parseUpload(data)
	if err != nil {
		return "", err
	}
	return c.waitMedia(ctx, st)
}

// waitMedia polls STATUS, sleeping log2(1+n) seconds before the n-th poll,
// until the upload succeeds. A failed upload or a polling error aborts.
func (c *Client) waitMedia(ctx context.Context, st uploadState) (string, error) {
	for n := 1; ; n++ {
		switch st.state {
		case "", stateSucceeded:
			return st.id, nil
		case stateFailed:
			return "", &MediaError{ID: st.id, Message: st.message}
		case statePending, stateInProgress:
		default:
			c.log.Warn("unknown media state", "id", st.id, "state", st.state)
		}
		if n > c.mediaPolls {
			return "", fmt.Errorf("%w: %s after %d polls", ErrMediaNotReady, st.id, c.mediaPolls)
		}
		if err := c.sleep(ctx, pollDelay(n)); err != nil {
			return "", err
		}
		c.log.Debug("polling media", "id", st.id, "state", st.state, "attempt", n)

		q := url.Values{"command": []string{"STATUS"}, "media_id": []string{st.id}}
		data, err := c.do(ctx, c.user, request{method: http.MethodGet, path: "/2/media/upload", query: q})
		if err != nil {
			return "", fmt.Errorf("twitter: poll media %s: %w", st.id, err)
		}
		if st, err = parseUpload(data); err != nil {
			return "", err
		}
	}
}

// pollDelay is log2(1+n) seconds.
func pollDelay(n int) time.Duration {
	return time.Duration(math.Log2(float64(1+n)) * float64(time.Second))
}

func parseUpload(data []byte) (uploadState, error) {
	var st uploadState
	st.id, _ = jsonparser.GetString(data, "data", "id")
	if st.id == "" {
		return st, errors.New("twitter: upload response has no media id")
	}
	st.state, _ = jsonparser.GetString(data, "data", "processing_info", "state")
	st.message, _ = jsonparser.GetString(data, "data", "processing_info", "error", "message")
	return st, nil
}

// mediaCategory picks the upload category from the content type.
func mediaCategory(contentType string) string {
	switch {
	case contentType == "image/gif":
		return "tweet_gif"
	case strings.HasPrefix(contentType, "video/"):
		return "tweet_video"
	}
	return "tweet_image"
}

func uploadBody(m media.Media) ([]byte, string, error) {
	ct := m.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	filename := m.Filename
	if filename == "" {
		filename = "upload"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("media_category", mediaCategory(ct)); err != nil {
		return nil, "", fmt.Errorf("twitter: multipart: %w", err)
	}
	if err := mw.WriteField("media_type", ct); err != nil {
		return nil, "", fmt.Errorf("twitter: multipart: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("twitter: multipart: %w", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return nil, "", fmt.Errorf("twitter: multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("twitter: multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
