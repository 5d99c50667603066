package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.uber.org/dig"
	"golang.org/x/time/rate"
	rootpkg "tools.zach/dev/catbot"
	"tools.zach/dev/catbot/internal/addict"
	"tools.zach/dev/catbot/internal/catbot"
	"tools.zach/dev/catbot/internal/config"
	"tools.zach/dev/catbot/internal/giphy"
	"tools.zach/dev/catbot/internal/logger"
	"tools.zach/dev/catbot/internal/mastodon"
	"tools.zach/dev/catbot/internal/paths"
	"tools.zach/dev/catbot/internal/supervisor"
	"tools.zach/dev/catbot/internal/twitter"
)

// ErrNoPlatform is returned when no listener is both enabled and credentialed.
var ErrNoPlatform = errors.New("no platform is enabled with credentials")

// Options are the command-line inputs of the daemon.
type Options struct {
	Paths paths.DataDir
	// Debug forces debug logging and dry-run replies.
	Debug bool
	// Stderr copies log output to stderr regardless of config.
	Stderr bool
}

// logCloser flushes the rotating log file.
type logCloser io.Closer

// ///////////////////////////////////////////////
// Providers
// ///////////////////////////////////////////////

// ProvideConfig seeds config.toml on first run and loads it.
func ProvideConfig(opts Options) (*config.Config, error) {
	if _, err := config.Seed(opts.Paths.Root, rootpkg.DefaultConfigTOML); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg, err := config.Load(opts.Paths.Root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// ProvideCredentials reads secrets from the environment and the data
// directory's .env file. DEBUG_MODE there is folded into opts.Debug by
// [ProvideLogLevel] and [ProvideBot].
func ProvideCredentials(opts Options) (config.Credentials, error) {
	return config.LoadCredentials(opts.Paths.Env())
}

// ProvideLogLevel returns the shared level the config watcher updates.
func ProvideLogLevel(cfg *config.Config, creds config.Credentials, opts Options) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(effectiveLevel(cfg, debugMode(creds, opts)))
	return lv
}

// ProvideLogger opens the rotating daemon log.
func ProvideLogger(cfg *config.Config, opts Options, level *slog.LevelVar) (*slog.Logger, logCloser, error) {
	log, closer, err := logger.New(logger.Options{
		File:      opts.Paths.BotLog(),
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Stderr:    cfg.Log.Stderr || opts.Stderr,
		Level:     level,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return log, closer, nil
}

// ProvideChecker returns the addict checker shared by every platform.
func ProvideChecker(cfg *config.Config) *addict.Checker {
	return addict.New(cfg.Bot.Limit, cfg.Cooldown())
}

// ProvideGiphy returns the random image client.
func ProvideGiphy(cfg *config.Config, creds config.Credentials, log *slog.Logger) *giphy.Client {
	if creds.GiphyAPIKey == "" {
		log.Warn("GIPHY_API_KEY is not set, image replies will fail")
	}
	return giphy.New(giphy.Config{
		BaseURL:  cfg.Giphy.BaseURL,
		APIKey:   creds.GiphyAPIKey,
		Tag:      cfg.Giphy.Tag,
		Rating:   cfg.Giphy.Rating,
		RetryMax: cfg.HTTP.RetryMax,
		Timeout:  cfg.HTTPTimeout(),
	}, log.With("component", "giphy"))
}

// ProvideBot returns the platform-independent reply pipeline.
func ProvideBot(cfg *config.Config, creds config.Credentials, opts Options, checker *addict.Checker, images *giphy.Client, log *slog.Logger) *catbot.Bot {
	return catbot.New(checker, images, catbot.Options{
		ReplyText:  cfg.Bot.ReplyText,
		AddictText: cfg.Bot.AddictText,
		Ignore:     cfg.IsIgnored,
		DryRun:     debugMode(creds, opts),
	}, log.With("component", "bot"))
}

// ProvideConns builds one stream connection per enabled platform whose
// credentials are present.
func ProvideConns(cfg *config.Config, creds config.Credentials, bot *catbot.Bot, log *slog.Logger) ([]supervisor.Conn, error) {
	var conns []supervisor.Conn

	switch {
	case !cfg.Mastodon.Enabled:
		log.Info("mastodon disabled in config")
	case !creds.MastodonReady():
		log.Warn("mastodon credentials missing, not starting", "missing", creds.Missing("mastodon"))
	default:
		c, err := mastodon.New(mastodon.Config{
			BaseURL:     creds.MastodonBaseURL,
			AccessToken: creds.MastodonAccessToken,
			RetryMax:    cfg.HTTP.RetryMax,
			Timeout:     cfg.HTTPTimeout(),
			MediaPolls:  cfg.HTTP.MediaPolls,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("mastodon client: %w", err)
		}
		conns = append(conns, mastodon.NewAdapter(c, bot, cfg.Mastodon.Stream, log))
	}

	switch {
	case !cfg.Twitter.Enabled:
		log.Info("twitter disabled in config")
	case !creds.TwitterReady():
		log.Warn("twitter credentials missing, not starting", "missing", creds.Missing("twitter"))
	default:
		c := twitter.New(context.Background(), twitter.Config{
			ClientID:     creds.TwitterClientID,
			ClientSecret: creds.TwitterClientSecret,
			AccessToken:  creds.TwitterAccessToken,
			RefreshToken: creds.TwitterRefreshToken,
			BearerToken:  creds.TwitterBearerToken,
			RetryMax:     cfg.HTTP.RetryMax,
			Timeout:      cfg.HTTPTimeout(),
			MediaPolls:   cfg.HTTP.MediaPolls,
		}, log)
		conns = append(conns, twitter.NewAdapter(c, bot, twitter.Options{
			StreamRule: cfg.Twitter.StreamRule,
			FollowBack: cfg.Twitter.FollowBack,
			Heartbeat:  cfg.Heartbeat(),
			Limiter:    rate.NewLimiter(twitter.DefaultFollowRate, 1),
		}, log))
	}

	if len(conns) == 0 {
		return nil, ErrNoPlatform
	}
	return conns, nil
}

// ///////////////////////////////////////////////
// Container
// ///////////////////////////////////////////////

// BuildContainer registers every provider. opts is supplied as a value.
func BuildContainer(opts Options) (*dig.Container, error) {
	container := dig.New()

	providers := []struct {
		name string
		fn   any
	}{
		{"options", func() Options { return opts }},
		{"config", ProvideConfig},
		{"credentials", ProvideCredentials},
		{"log level", ProvideLogLevel},
		{"logger", ProvideLogger},
		{"addict checker", ProvideChecker},
		{"giphy client", ProvideGiphy},
		{"bot", ProvideBot},
		{"stream connections", ProvideConns},
		{"daemon", newDaemon},
	}
	for _, p := range providers {
		if err := container.Provide(p.fn); err != nil {
			return nil, fmt.Errorf("failed to provide %s: %w", p.name, err)
		}
	}
	return container, nil
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// debugMode is true when --debug is passed or DEBUG_MODE is set.
func debugMode(creds config.Credentials, opts Options) bool {
	return opts.Debug || creds.Debug
}

// effectiveLevel is the configured level, lowered to debug in debug mode.
func effectiveLevel(cfg *config.Config, debug bool) slog.Level {
	level := logger.ParseLevel(cfg.Log.Level)
	if debug && level > logger.LevelDebug {
		return logger.LevelDebug
	}
	return level
}
