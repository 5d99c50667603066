// Package config loads and validates the catbot TOML configuration and the
// platform credentials read from the environment.
//
// The TOML file only holds behavior. Secrets never live in it: they come from
// the process environment, optionally seeded from a dotenv file in the data
// directory (see [LoadCredentials]).
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/catbot/internal/atomicfile"
	"tools.zach/dev/catbot/internal/paths"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config is the top-level configuration loaded from config.toml.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Bot controls trigger replies and the addict limiter.
	Bot BotConfig `toml:"bot"`
	// Giphy selects the random image query.
	Giphy GiphyConfig `toml:"giphy"`
	// HTTP tunes the REST clients shared by every platform.
	HTTP HTTPConfig `toml:"http"`
	// Mastodon enables and configures the Mastodon listener.
	Mastodon MastodonConfig `toml:"mastodon"`
	// Twitter enables and configures the Twitter listener.
	Twitter TwitterConfig `toml:"twitter"`
	// Supervisor tunes stream liveness checks.
	Supervisor SupervisorConfig `toml:"supervisor"`
	// Cleaner configures the old-post cleanup job.
	Cleaner CleanerConfig `toml:"cleaner"`
	// Log configures log output.
	Log LogConfig `toml:"log"`
}

// BotConfig holds reply behavior shared by all platforms.
type BotConfig struct {
	// Limit is how many image requests a user may make inside the cooldown
	// window before further requests are scolded.
	Limit int `toml:"limit"`
	// CooldownSeconds is the sliding window length.
	CooldownSeconds int `toml:"cooldown_seconds"`
	// ReplyText is the text posted with every cat image.
	ReplyText string `toml:"reply_text"`
	// AddictText is the text posted instead of an image to users over the limit.
	AddictText string `toml:"addict_text"`
	// Ignore is a list of glob patterns for account handles the bot never answers.
	Ignore []string `toml:"ignore"`
}

// GiphyConfig holds the random image query.
type GiphyConfig struct {
	// BaseURL is the Giphy API endpoint.
	BaseURL string `toml:"base_url"`
	// Tag narrows the random query.
	Tag string `toml:"tag"`
	// Rating is the content rating filter. Empty disables filtering.
	Rating string `toml:"rating"`
}

// HTTPConfig holds REST client settings.
type HTTPConfig struct {
	// RetryMax is the retry budget for transient HTTP failures.
	RetryMax int `toml:"retry_max"`
	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// MediaPolls bounds the status polls of an asynchronous media upload.
	MediaPolls int `toml:"media_polls"`
}

// MastodonConfig holds Mastodon listener settings.
type MastodonConfig struct {
	// Enabled starts the Mastodon listener when credentials are present.
	Enabled bool `toml:"enabled"`
	// Stream is the streaming timeline: "user", "public", or "public:local".
	Stream string `toml:"stream"`
}

// TwitterConfig holds Twitter listener settings.
type TwitterConfig struct {
	// Enabled starts the Twitter listener when credentials are present.
	Enabled bool `toml:"enabled"`
	// FollowBack follows every follower the bot does not follow yet, once
	// after the first successful connect.
	FollowBack bool `toml:"follow_back"`
	// StreamRule is the filtered stream rule selecting trigger tweets.
	StreamRule string `toml:"stream_rule"`
	// HeartbeatSeconds is how long the stream may stay silent before it is
	// treated as stalled.
	HeartbeatSeconds int `toml:"heartbeat_seconds"`
}

// SupervisorConfig holds stream supervision settings.
type SupervisorConfig struct {
	// CheckIntervalSeconds is how often a dead stream is restarted.
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// CleanerConfig holds cleanup job settings.
type CleanerConfig struct {
	// AppName is the posting application whose statuses may be deleted.
	AppName string `toml:"app_name"`
	// ThresholdDays is the minimum post age before deletion.
	ThresholdDays int `toml:"threshold_days"`
	// IntervalMinutes is the period between cleanup runs.
	IntervalMinutes int `toml:"interval_minutes"`
	// PageLimit is the number of statuses fetched per page.
	PageLimit int `toml:"page_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, or error.
	Level string `toml:"level"`
	// MaxSizeMB is the log file size that triggers rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Stderr copies log output to standard error.
	Stderr bool `toml:"stderr"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Bot: BotConfig{
			Limit:           2,
			CooldownSeconds: 3600,
			ReplyText:       "nya!",
			AddictText:      "당신은 야짤 중독입니다...",
			Ignore:          []string{},
		},
		Giphy: GiphyConfig{
			BaseURL: "https://api.giphy.com",
			Tag:     "cat",
			Rating:  "",
		},
		HTTP: HTTPConfig{
			RetryMax:       3,
			TimeoutSeconds: 15,
			MediaPolls:     30,
		},
		Mastodon: MastodonConfig{
			Enabled: true,
			Stream:  "user",
		},
		Twitter: TwitterConfig{
			Enabled:          false,
			FollowBack:       true,
			StreamRule:       "(고양이 OR 냐짤 OR 우울해 OR 우울하 OR 우울한) -is:retweet",
			HeartbeatSeconds: 60,
		},
		Supervisor: SupervisorConfig{
			CheckIntervalSeconds: 10,
		},
		Cleaner: CleanerConfig{
			AppName:         "need_nya",
			ThresholdDays:   30,
			IntervalMinutes: 60,
			PageLimit:       40,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// Ignore patterns are shown as commented alternatives instead of being active.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// ErrNewerVersion is returned by [Load] for a file written by a newer build.
var ErrNewerVersion = errors.New("config written by a newer version")

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if v := PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("%w: file has version %d, this build reads %d", ErrNewerVersion, v, CurrentVersion)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String())
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Seed writes defaultTOML to dataDir/config.toml unless a config file is
// already there. It reports whether a file was written.
func Seed(dataDir string, defaultTOML []byte) (bool, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)
	err := atomicfile.Create(path, defaultTOML, 0o644)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	default:
		return false, fmt.Errorf("write default config: %w", err)
	}
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Bot.Limit <= 0 {
		return fmt.Errorf("bot.limit must be > 0, got %d", c.Bot.Limit)
	}
	if c.Bot.CooldownSeconds <= 0 {
		return fmt.Errorf("bot.cooldown_seconds must be > 0, got %d", c.Bot.CooldownSeconds)
	}
	if strings.TrimSpace(c.Bot.ReplyText) == "" {
		return errors.New("bot.reply_text must not be empty")
	}
	if strings.TrimSpace(c.Bot.AddictText) == "" {
		return errors.New("bot.addict_text must not be empty")
	}
	for _, p := range c.Bot.Ignore {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid bot.ignore pattern %q", p)
		}
	}

	switch c.Giphy.Rating {
	case "", "g", "pg", "pg-13", "r":
	default:
		return fmt.Errorf("invalid giphy.rating %q: must be g, pg, pg-13, r, or empty", c.Giphy.Rating)
	}
	if !strings.HasPrefix(c.Giphy.BaseURL, "http://") && !strings.HasPrefix(c.Giphy.BaseURL, "https://") {
		return fmt.Errorf("invalid giphy.base_url %q: must be an http(s) URL", c.Giphy.BaseURL)
	}

	if c.HTTP.RetryMax < 0 {
		return fmt.Errorf("http.retry_max must be >= 0, got %d", c.HTTP.RetryMax)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0, got %d", c.HTTP.TimeoutSeconds)
	}
	if c.HTTP.MediaPolls <= 0 {
		return fmt.Errorf("http.media_polls must be > 0, got %d", c.HTTP.MediaPolls)
	}

	switch c.Mastodon.Stream {
	case "user", "public", "public:local":
	default:
		return fmt.Errorf("invalid mastodon.stream %q: must be user, public, or public:local", c.Mastodon.Stream)
	}

	if c.Twitter.HeartbeatSeconds <= 0 {
		return fmt.Errorf("twitter.heartbeat_seconds must be > 0, got %d", c.Twitter.HeartbeatSeconds)
	}

	if c.Supervisor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("supervisor.check_interval_seconds must be > 0, got %d", c.Supervisor.CheckIntervalSeconds)
	}

	if c.Cleaner.AppName == "" {
		return errors.New("cleaner.app_name must not be empty")
	}
	if c.Cleaner.ThresholdDays <= 0 {
		return fmt.Errorf("cleaner.threshold_days must be > 0, got %d", c.Cleaner.ThresholdDays)
	}
	if c.Cleaner.IntervalMinutes <= 0 {
		return fmt.Errorf("cleaner.interval_minutes must be > 0, got %d", c.Cleaner.IntervalMinutes)
	}
	if c.Cleaner.PageLimit <= 0 || c.Cleaner.PageLimit > 40 {
		return fmt.Errorf("cleaner.page_limit must be between 1 and 40, got %d", c.Cleaner.PageLimit)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	return nil
}

// ///////////////////////////////////////////////
// Duration Helpers
// ///////////////////////////////////////////////

// Cooldown returns the addict window as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Bot.CooldownSeconds) * time.Second
}

// HTTPTimeout returns the per-attempt HTTP timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CheckInterval returns the supervisor liveness period.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Supervisor.CheckIntervalSeconds) * time.Second
}

// Heartbeat returns the Twitter stream stall timeout.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Twitter.HeartbeatSeconds) * time.Second
}

// CleanerThreshold returns the minimum age of a deletable post.
func (c *Config) CleanerThreshold() time.Duration {
	return time.Duration(c.Cleaner.ThresholdDays) * 24 * time.Hour
}

// CleanerInterval returns the period between cleanup runs.
func (c *Config) CleanerInterval() time.Duration {
	return time.Duration(c.Cleaner.IntervalMinutes) * time.Minute
}

// ///////////////////////////////////////////////
// Ignore Helpers
// ///////////////////////////////////////////////

// IsIgnored reports whether acct matches any of the configured ignore
// patterns. Matching is case-insensitive; a leading "@" is ignored.
func (c *Config) IsIgnored(acct string) bool {
	acct = strings.ToLower(strings.TrimPrefix(acct, "@"))
	if acct == "" {
		return false
	}
	for _, pattern := range c.Bot.Ignore {
		matched, err := doublestar.Match(strings.ToLower(pattern), acct)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
