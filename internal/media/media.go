// Package media holds downloaded image bytes on their way from the image API
// to a platform upload endpoint.
package media

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Media is an in-memory image ready for upload.
type Media struct {
	// Data is the raw file content.
	Data []byte
	// ContentType is the best-effort MIME type, e.g. "image/gif".
	ContentType string
	// Filename is the last path segment of the source URL.
	Filename string
	// Source is the URL the bytes were downloaded from.
	Source string
}

// GuessType returns the MIME type implied by the extension of rawURL's path,
// or "" when the extension is unknown. Query strings are ignored.
func GuessType(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	if t := mime.TypeByExtension(ext); t != "" {
		// Drop parameters such as "; charset=utf-8".
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return ""
}

// Filename returns the last path segment of rawURL, falling back to "upload".
func Filename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}
