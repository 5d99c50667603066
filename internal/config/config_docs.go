package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "bot.cooldown_seconds")
// to their [FieldDoc] entries. The genconfig tool uses this map to annotate the
// generated config.default.toml with inline comments and alternative examples.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version, do not edit.\nCredentials are read from the environment or the .env file next to this one.",
	},

	// ── Bot ──────────────────────────────────────────────────────
	"bot": {
		Comment: "Reply behavior shared by every platform.",
	},
	"bot.limit": {
		Comment: "Image requests allowed per user inside the cooldown window.\nThe request after the limit is answered with addict_text instead of a cat.",
	},
	"bot.cooldown_seconds": {
		Comment: "Length of the sliding window in seconds.",
	},
	"bot.reply_text": {
		Comment: "Text posted with every cat image, after the mentions.",
	},
	"bot.addict_text": {},
	"bot.ignore": {
		Comment: "Glob patterns for account handles the bot never answers (case-insensitive).\nUse this to stop reply loops with other bots.",
		Alternatives: []string{
			`ignore = ["*bot*", "*@bots.example"]`,
		},
	},

	// ── Giphy ────────────────────────────────────────────────────
	"giphy": {
		Comment: "Random image query. The API key is read from GIPHY_API_KEY.",
	},
	"giphy.base_url": {},
	"giphy.tag": {},
	"giphy.rating": {
		Comment: "Content rating filter: g, pg, pg-13, r, or empty for none.",
		Alternatives: []string{
			`rating = "g"`,
		},
	},

	// ── HTTP ─────────────────────────────────────────────────────
	"http": {
		Comment: "REST client settings shared by Giphy, Mastodon and Twitter.",
	},
	"http.retry_max": {
		Comment: "Retries for connection errors and 5xx/429 responses.",
	},
	"http.timeout_seconds": {},
	"http.media_polls": {
		Comment: "Status polls to wait for an uploaded image to finish processing.",
	},

	// ── Mastodon ─────────────────────────────────────────────────
	"mastodon": {
		Comment: "Requires MASTODON_API_BASE_URL and MASTODON_ACCESS_TOKEN.",
	},
	"mastodon.enabled": {},
	"mastodon.stream": {
		Comment: "Streaming timeline to listen on.",
		Alternatives: []string{
			`stream = "public"`,
			`stream = "public:local"`,
		},
	},

	// ── Twitter ──────────────────────────────────────────────────
	"twitter": {
		Comment: "Requires TWITTER_BEARER_TOKEN and TWITTER_ACCESS_TOKEN.\nSet TWITTER_CLIENT_ID, TWITTER_CLIENT_SECRET and TWITTER_REFRESH_TOKEN to refresh the user token.",
	},
	"twitter.enabled": {},
	"twitter.follow_back": {
		Comment: "Follow every follower the bot does not follow yet, once per start.",
	},
	"twitter.stream_rule": {
		Comment: "Filtered stream rule selecting candidate tweets. Mentions of the bot are always included.",
	},
	"twitter.heartbeat_seconds": {
		Comment: "Silence on the stream longer than this counts as a dropped connection.",
	},

	// ── Supervisor ───────────────────────────────────────────────
	"supervisor": {},
	"supervisor.check_interval_seconds": {
		Comment: "How often a dropped stream is reconnected.",
	},

	// ── Cleaner ──────────────────────────────────────────────────
	"cleaner": {
		Comment: "Settings for catcleaner, which deletes old unengaged bot posts.",
	},
	"cleaner.app_name": {
		Comment: "Only posts made through this application are deleted.",
	},
	"cleaner.threshold_days": {},
	"cleaner.interval_minutes": {},
	"cleaner.page_limit": {
		Comment: "Statuses fetched per request (Mastodon allows at most 40).",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {},
	"log.level": {
		Comment: "Minimum log level. DEBUG_MODE forces debug.",
		Alternatives: []string{
			`level = "debug"`,
			`level = "trace"`,
		},
	},
	"log.max_size_mb": {},
	"log.stderr": {
		Comment: "Copy log output to stderr in addition to the log file.",
	},
}
