package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		config  string // config file content
		noFile  bool   // if true, skip writing a config file
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:   "defaults from minimal config",
			config: "version = 1\n",
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Bot.Limit != def.Bot.Limit {
					t.Errorf("Limit = %d, want %d", cfg.Bot.Limit, def.Bot.Limit)
				}
				if cfg.Bot.ReplyText != def.Bot.ReplyText {
					t.Errorf("ReplyText = %q, want %q", cfg.Bot.ReplyText, def.Bot.ReplyText)
				}
			},
		},
		{
			name: "user overrides applied",
			config: `
version = 1

[bot]
limit = 5
cooldown_seconds = 600
ignore = ["*bot*"]

[twitter]
enabled = true
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Bot.Limit != 5 {
					t.Errorf("Limit = %d, want 5", cfg.Bot.Limit)
				}
				if cfg.Cooldown() != 10*time.Minute {
					t.Errorf("Cooldown() = %v, want 10m", cfg.Cooldown())
				}
				if len(cfg.Bot.Ignore) != 1 || cfg.Bot.Ignore[0] != "*bot*" {
					t.Errorf("Ignore = %v, want [*bot*]", cfg.Bot.Ignore)
				}
				if !cfg.Twitter.Enabled {
					t.Error("Twitter.Enabled = false, want true")
				}
			},
		},
		{
			name: "partial override preserves other defaults",
			config: `
[cleaner]
threshold_days = 7
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if cfg.Cleaner.ThresholdDays != 7 {
					t.Errorf("ThresholdDays = %d, want 7", cfg.Cleaner.ThresholdDays)
				}
				if cfg.Cleaner.AppName != def.Cleaner.AppName {
					t.Errorf("AppName = %q, want default %q", cfg.Cleaner.AppName, def.Cleaner.AppName)
				}
				if cfg.Mastodon.Stream != def.Mastodon.Stream {
					t.Errorf("Stream = %q, want default %q", cfg.Mastodon.Stream, def.Mastodon.Stream)
				}
				if cfg.Version != CurrentVersion {
					t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
				}
			},
		},
		{
			name:   "missing file returns defaults",
			noFile: true,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				def := DefaultConfig()
				if !reflect.DeepEqual(cfg, def) {
					t.Errorf("Load() = %+v, want defaults", cfg)
				}
			},
		},
		{
			name:    "malformed TOML returns error",
			config:  "this is not valid toml [[[",
			wantErr: true,
		},
		{
			name:    "invalid value returns error",
			config:  "[mastodon]\nstream = \"home\"\n",
			wantErr: true,
		},
		{
			name: "unknown keys are ignored",
			config: `
[bot]
limit = 3
colour = "orange"
`,
			check: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Bot.Limit != 3 {
					t.Errorf("Limit = %d, want 3", cfg.Bot.Limit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if !tt.noFile {
				writeConfig(t, dir, tt.config)
			}

			cfg, err := Load(dir)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_NewerVersion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version = 99\n")

	_, err := Load(dir)
	if !errors.Is(err, ErrNewerVersion) {
		t.Fatalf("Load() error = %v, want ErrNewerVersion", err)
	}
}

func TestPeekVersion(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"explicit version", "version = 1\n", 1},
		{"missing version", "[bot]\nlimit = 2\n", 1},
		{"zero version", "version = 0\n", 1},
		{"future version", "version = 3\n", 3},
		{"malformed", "[[[", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeekVersion([]byte(tt.data)); got != tt.want {
				t.Errorf("PeekVersion(%q) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Seed
// ///////////////////////////////////////////////

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	defaults := []byte("version = 1\n")

	wrote, err := Seed(dir, defaults)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if !wrote {
		t.Fatal("Seed() = false on an empty dir")
	}

	writeConfig(t, dir, "version = 1\n[bot]\nlimit = 9\n")
	wrote, err = Seed(dir, defaults)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if wrote {
		t.Error("Seed() overwrote an existing config")
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Limit != 9 {
		t.Errorf("Limit = %d, want 9", cfg.Bot.Limit)
	}
}

// ///////////////////////////////////////////////
// IsIgnored
// ///////////////////////////////////////////////

func TestConfig_IsIgnored(t *testing.T) {
	tests := []struct {
		name   string
		ignore []string
		acct   string
		want   bool
	}{
		{
			name:   "exact match",
			ignore: []string{"spam@example.social"},
			acct:   "spam@example.social",
			want:   true,
		},
		{
			name:   "glob pattern match",
			ignore: []string{"*bot*"},
			acct:   "catbot@bots.example",
			want:   true,
		},
		{
			name:   "case insensitive",
			ignore: []string{"*Bot"},
			acct:   "HelperBOT",
			want:   true,
		},
		{
			name:   "leading at sign",
			ignore: []string{"alice"},
			acct:   "@alice",
			want:   true,
		},
		{
			name:   "domain wildcard",
			ignore: []string{"*@bots.example"},
			acct:   "alice@bots.example",
			want:   true,
		},
		{
			name:   "no match",
			ignore: []string{"*bot*"},
			acct:   "alice",
			want:   false,
		},
		{
			name:   "empty list",
			ignore: nil,
			acct:   "anyone",
			want:   false,
		},
		{
			name:   "empty handle",
			ignore: []string{"*"},
			acct:   "",
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Bot.Ignore = tt.ignore
			if got := cfg.IsIgnored(tt.acct); got != tt.want {
				t.Errorf("IsIgnored(%q) = %v, want %v", tt.acct, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Duration helpers
// ///////////////////////////////////////////////

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"cooldown", cfg.Cooldown(), time.Hour},
		{"http timeout", cfg.HTTPTimeout(), 15 * time.Second},
		{"check interval", cfg.CheckInterval(), 10 * time.Second},
		{"heartbeat", cfg.Heartbeat(), time.Minute},
		{"cleaner threshold", cfg.CleanerThreshold(), 30 * 24 * time.Hour},
		{"cleaner interval", cfg.CleanerInterval(), time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// ExampleConfig
// ///////////////////////////////////////////////

func TestExampleConfig(t *testing.T) {
	cfg := ExampleConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ExampleConfig() does not validate: %v", err)
	}
	if len(cfg.Bot.Ignore) != 0 {
		t.Errorf("ExampleConfig() ignores %v by default", cfg.Bot.Ignore)
	}
}

// ///////////////////////////////////////////////
// ConfigDocs completeness
// ///////////////////////////////////////////////

func TestConfigDocsComplete(t *testing.T) {
	for _, key := range encodedKeys(t) {
		if _, ok := ConfigDocs[key]; !ok {
			t.Errorf("ConfigDocs has no entry for %q", key)
		}
	}
}

func TestConfigDocsNoStale(t *testing.T) {
	known := map[string]bool{}
	for _, key := range encodedKeys(t) {
		known[key] = true
	}
	for key := range ConfigDocs {
		if !known[key] {
			t.Errorf("ConfigDocs documents %q, which config.toml does not have", key)
		}
	}
}

// encodedKeys returns every table and key path of the encoded defaults,
// such as "bot" and "bot.limit".
func encodedKeys(t *testing.T) []string {
	t.Helper()
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(DefaultConfig()); err != nil {
		t.Fatalf("encode defaults: %v", err)
	}
	var discard map[string]any
	md, err := toml.Decode(buf.String(), &discard)
	if err != nil {
		t.Fatalf("decode defaults: %v", err)
	}
	keys := make([]string, 0, len(md.Keys()))
	for _, k := range md.Keys() {
		keys = append(keys, k.String())
	}
	return keys
}

// ///////////////////////////////////////////////
// Marshal field order
// ///////////////////////////////////////////////

func TestConfigMarshalFieldOrder(t *testing.T) {
	cfg := DefaultConfig()
	var buf strings.Builder
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := buf.String()

	tests := []struct {
		before string
		after  string
	}{
		{"version", "[bot]"},
		{"[bot]", "[giphy]"},
		{"[mastodon]", "[twitter]"},
		{"[cleaner]", "[log]"},
	}

	for _, tt := range tests {
		t.Run(tt.before+" before "+tt.after, func(t *testing.T) {
			bIdx := strings.Index(out, tt.before)
			aIdx := strings.Index(out, tt.after)
			if bIdx < 0 || aIdx < 0 || bIdx > aIdx {
				t.Errorf("expected %q before %q in marshaled output", tt.before, tt.after)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Save
// ///////////////////////////////////////////////

func TestConfig_Save_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	orig := DefaultConfig()
	orig.Bot.AddictText = "그만!"
	orig.Bot.Ignore = []string{"*bot*", "spam@*"}
	orig.Cleaner.PageLimit = 20

	if err := orig.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(loaded, orig) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, orig)
	}
}

// ///////////////////////////////////////////////
// Validate
// ///////////////////////////////////////////////

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(cfg *Config)
		wantErr bool
	}{
		{name: "default config passes", setup: func(cfg *Config) {}},
		{name: "example config passes", setup: func(cfg *Config) { *cfg = *ExampleConfig() }},
		{name: "limit = 0", setup: func(cfg *Config) { cfg.Bot.Limit = 0 }, wantErr: true},
		{name: "negative cooldown", setup: func(cfg *Config) { cfg.Bot.CooldownSeconds = -1 }, wantErr: true},
		{name: "blank reply_text", setup: func(cfg *Config) { cfg.Bot.ReplyText = "  " }, wantErr: true},
		{name: "empty addict_text", setup: func(cfg *Config) { cfg.Bot.AddictText = "" }, wantErr: true},
		{name: "bad ignore glob", setup: func(cfg *Config) { cfg.Bot.Ignore = []string{"[bot"} }, wantErr: true},
		{name: "invalid rating", setup: func(cfg *Config) { cfg.Giphy.Rating = "nc-17" }, wantErr: true},
		{name: "rating pg-13", setup: func(cfg *Config) { cfg.Giphy.Rating = "pg-13" }},
		{name: "giphy base_url without scheme", setup: func(cfg *Config) { cfg.Giphy.BaseURL = "api.giphy.com" }, wantErr: true},
		{name: "negative retry_max", setup: func(cfg *Config) { cfg.HTTP.RetryMax = -1 }, wantErr: true},
		{name: "retry_max = 0", setup: func(cfg *Config) { cfg.HTTP.RetryMax = 0 }},
		{name: "timeout_seconds = 0", setup: func(cfg *Config) { cfg.HTTP.TimeoutSeconds = 0 }, wantErr: true},
		{name: "media_polls = 0", setup: func(cfg *Config) { cfg.HTTP.MediaPolls = 0 }, wantErr: true},
		{name: "stream public", setup: func(cfg *Config) { cfg.Mastodon.Stream = "public" }},
		{name: "stream public:local", setup: func(cfg *Config) { cfg.Mastodon.Stream = "public:local" }},
		{name: "invalid stream", setup: func(cfg *Config) { cfg.Mastodon.Stream = "hashtag" }, wantErr: true},
		{name: "heartbeat = 0", setup: func(cfg *Config) { cfg.Twitter.HeartbeatSeconds = 0 }, wantErr: true},
		{name: "check_interval = 0", setup: func(cfg *Config) { cfg.Supervisor.CheckIntervalSeconds = 0 }, wantErr: true},
		{name: "empty app_name", setup: func(cfg *Config) { cfg.Cleaner.AppName = "" }, wantErr: true},
		{name: "threshold_days = 0", setup: func(cfg *Config) { cfg.Cleaner.ThresholdDays = 0 }, wantErr: true},
		{name: "interval_minutes = 0", setup: func(cfg *Config) { cfg.Cleaner.IntervalMinutes = 0 }, wantErr: true},
		{name: "page_limit too large", setup: func(cfg *Config) { cfg.Cleaner.PageLimit = 80 }, wantErr: true},
		{name: "invalid log.level", setup: func(cfg *Config) { cfg.Log.Level = "verbose" }, wantErr: true},
		{name: "upper-case log.level", setup: func(cfg *Config) { cfg.Log.Level = "DEBUG" }},
		{name: "max_size_mb = 0", setup: func(cfg *Config) { cfg.Log.MaxSizeMB = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// writeConfig writes a TOML config string to config.toml in dir for use
// by [Load] in test cases.
func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}
