package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvMastodonBaseURL      = "MASTODON_API_BASE_URL"
	EnvMastodonClientKey    = "MASTODON_CLIENT_KEY"
	EnvMastodonClientSecret = "MASTODON_CLIENT_SECRET"
	EnvMastodonAccessToken  = "MASTODON_ACCESS_TOKEN"
	EnvTwitterBearerToken   = "TWITTER_BEARER_TOKEN"
	EnvTwitterClientID      = "TWITTER_CLIENT_ID"
	EnvTwitterClientSecret  = "TWITTER_CLIENT_SECRET"
	EnvTwitterAccessToken   = "TWITTER_ACCESS_TOKEN"
	EnvTwitterRefreshToken  = "TWITTER_REFRESH_TOKEN"
	EnvGiphyAPIKey          = "GIPHY_API_KEY"
	EnvDebugMode            = "DEBUG_MODE"
)

// ///////////////////////////////////////////////
// Credentials
// ///////////////////////////////////////////////

// Credentials holds the secrets for every platform.
type Credentials struct {
	MastodonBaseURL      string
	MastodonClientKey    string
	MastodonClientSecret string
	MastodonAccessToken  string

	TwitterBearerToken  string
	TwitterClientID     string
	TwitterClientSecret string
	TwitterAccessToken  string
	TwitterRefreshToken string

	GiphyAPIKey string

	// Debug is true when DEBUG_MODE is set, whatever its value.
	Debug bool
}

// MastodonReady reports whether the Mastodon listener has what it needs to
// start. The client key and secret are only needed to mint tokens and are
// not required here.
func (c Credentials) MastodonReady() bool {
	return c.MastodonBaseURL != "" && c.MastodonAccessToken != ""
}

// TwitterReady reports whether the Twitter listener can start: the app
// bearer token for the filtered stream plus a user token for writes.
func (c Credentials) TwitterReady() bool {
	return c.TwitterBearerToken != "" && c.TwitterAccessToken != ""
}

// Missing lists the unset variables a platform needs. Used for startup logs.
func (c Credentials) Missing(platform string) []string {
	var out []string
	check := func(name, v string) {
		if v == "" {
			out = append(out, name)
		}
	}
	switch platform {
	case "mastodon":
		check(EnvMastodonBaseURL, c.MastodonBaseURL)
		check(EnvMastodonAccessToken, c.MastodonAccessToken)
	case "twitter":
		check(EnvTwitterBearerToken, c.TwitterBearerToken)
		check(EnvTwitterAccessToken, c.TwitterAccessToken)
	case "giphy":
		check(EnvGiphyAPIKey, c.GiphyAPIKey)
	}
	return out
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// LoadCredentials reads credentials from the process environment. Values
// from envFile fill in variables the environment does not set; a missing
// envFile is not an error.
func LoadCredentials(envFile string) (Credentials, error) {
	return loadCredentials(envFile, os.LookupEnv)
}

func loadCredentials(envFile string, lookup func(string) (string, bool)) (Credentials, error) {
	file := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Credentials{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	get := func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return strings.TrimSpace(v), true
		}
		v, ok := file[name]
		return strings.TrimSpace(v), ok
	}
	val := func(name string) string {
		v, _ := get(name)
		return v
	}
	_, debug := get(EnvDebugMode)

	return Credentials{
		MastodonBaseURL:      val(EnvMastodonBaseURL),
		MastodonClientKey:    val(EnvMastodonClientKey),
		MastodonClientSecret: val(EnvMastodonClientSecret),
		MastodonAccessToken:  val(EnvMastodonAccessToken),
		TwitterBearerToken:   val(EnvTwitterBearerToken),
		TwitterClientID:      val(EnvTwitterClientID),
		TwitterClientSecret:  val(EnvTwitterClientSecret),
		TwitterAccessToken:   val(EnvTwitterAccessToken),
		TwitterRefreshToken:  val(EnvTwitterRefreshToken),
		GiphyAPIKey:          val(EnvGiphyAPIKey),
		Debug:                debug,
	}, nil
}
