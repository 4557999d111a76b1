package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts/stylebert"
)

// ValidBackendNames lists the synthesis backends shipped with the bot.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"style-bert-vits2"}

// Defaults returns the configuration used for every field a file leaves out.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			LogLevel:   LogInfo,
		},
		Discord: DiscordConfig{
			AutoJoin:    true,
			StartupScan: true,
		},
		Synthesis: SynthesisConfig{
			Backend:    "style-bert-vits2",
			BaseURL:    "http://127.0.0.1:5000",
			Timeout:    15 * time.Second,
			MaxRetries: 1,
			Breaker:    BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
		},
		Voice: tts.DefaultVoice(),
		Cache: CacheConfig{
			Root:             "./cache",
			MaxBytes:         500 * 1000 * 1000,
			MaxEntries:       5000,
			MaxAge:           24 * time.Hour,
			TargetRatio:      0.8,
			SweepInterval:    10 * time.Minute,
			CompressionLevel: 3,
		},
		Queue: QueueConfig{
			Depth:    queue.DefaultDepth,
			Overflow: queue.RejectNewest.String(),
		},
		Playback: PlaybackConfig{
			Timeout:      30 * time.Second,
			Grace:        10 * time.Second,
			PollInterval: 100 * time.Millisecond,
			Gap:          500 * time.Millisecond,
		},
		Greetings: GreetingsConfig{
			Enabled: true,
			Join:    "{name}さん、こんちゃ！",
			Leave:   "{name}さん、またね！",
		},
		Text: TextConfig{
			MaxLength:      stylebert.MaxTextRunes,
			URLWord:        "URL",
			AttachmentWord: "ファイル",
		},
	}
}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. It ignores the environment, which makes it useful
// in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, false)
}

func parse(data []byte, withEnv bool) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment: DISCORD_TOKEN,
// YOMIAGE_SYNTH_URL, YOMIAGE_CACHE_ROOT and YOMIAGE_LOG_LEVEL. Unset
// variables leave the field alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills zero-valued numeric and string fields that have no
// meaningful zero. Booleans are left alone; [Defaults] covers them for files.
func ApplyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = d.Server.LogLevel
	}
	if cfg.Synthesis.Backend == "" {
		cfg.Synthesis.Backend = d.Synthesis.Backend
	}
	if cfg.Synthesis.Timeout == 0 {
		cfg.Synthesis.Timeout = d.Synthesis.Timeout
	}
	if cfg.Voice == (tts.VoiceParams{}) {
		cfg.Voice = d.Voice
	}
	if cfg.Cache.Root == "" {
		cfg.Cache.Root = d.Cache.Root
	}
	if cfg.Cache.TargetRatio == 0 {
		cfg.Cache.TargetRatio = d.Cache.TargetRatio
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = d.Cache.SweepInterval
	}
	if cfg.Queue.Depth == 0 {
		cfg.Queue.Depth = d.Queue.Depth
	}
	if cfg.Queue.Overflow == "" {
		cfg.Queue.Overflow = d.Queue.Overflow
	}
	if cfg.Playback.Timeout == 0 {
		cfg.Playback.Timeout = d.Playback.Timeout
	}
	if cfg.Playback.PollInterval == 0 {
		cfg.Playback.PollInterval = d.Playback.PollInterval
	}
	if cfg.Text.MaxLength == 0 {
		cfg.Text.MaxLength = d.Text.MaxLength
	}
	if cfg.Text.URLWord == "" {
		cfg.Text.URLWord = d.Text.URLWord
	}
	if cfg.Text.AttachmentWord == "" {
		cfg.Text.AttachmentWord = d.Text.AttachmentWord
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Discord
	seen := make(map[string]int, len(cfg.Discord.GuildIDs))
	for i, id := range cfg.Discord.GuildIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("discord.guild_ids[%d] is empty", i))
			continue
		}
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("discord.guild_ids[%d] %q is a duplicate of guild_ids[%d]", i, id, prev))
		}
		seen[id] = i
	}

	// Synthesis
	s := cfg.Synthesis
	validateBackendName(s.Backend)
	if u, err := url.Parse(s.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("synthesis.base_url %q must be an absolute http(s) URL", s.BaseURL))
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("synthesis.timeout %s must not be negative", s.Timeout))
	}
	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("synthesis.max_retries %d is out of range [0, 10]", s.MaxRetries))
	}
	if s.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("synthesis.requests_per_second %.2f must not be negative", s.RequestsPerSecond))
	}
	if s.Breaker.MaxFailures < 0 || s.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("synthesis.breaker values must not be negative"))
	}

	// Voice
	if err := cfg.Voice.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}

	// Cache
	c := cfg.Cache
	if c.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes %d must not be negative", c.MaxBytes))
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", c.MaxEntries))
	}
	if c.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cache.max_age %s must not be negative", c.MaxAge))
	}
	if c.TargetRatio < 0 || c.TargetRatio > 1 {
		errs = append(errs, fmt.Errorf("cache.target_ratio %.2f is out of range (0, 1]", c.TargetRatio))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("cache.compression_level %d is out of range [0, 22]", c.CompressionLevel))
	}
	if c.MaxBytes == 0 && c.MaxEntries == 0 && c.MaxAge == 0 {
		slog.Warn("cache has no size, count or age limit; it will grow without bound", "root", c.Root)
	}

	// Queue
	if cfg.Queue.Depth < 1 {
		errs = append(errs, fmt.Errorf("queue.depth %d must be at least 1", cfg.Queue.Depth))
	}
	if _, err := queue.ParsePolicy(cfg.Queue.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("queue.overflow: %w", err))
	}

	// Playback
	p := cfg.Playback
	if p.Timeout < 0 || p.Grace < 0 || p.PollInterval < 0 {
		errs = append(errs, errors.New("playback.timeout, grace and poll_interval must not be negative"))
	}
	if p.PollInterval > 0 && p.Timeout > 0 && p.PollInterval >= p.Timeout {
		errs = append(errs, fmt.Errorf("playback.poll_interval %s must be shorter than playback.timeout %s", p.PollInterval, p.Timeout))
	}

	// Greetings
	if g := cfg.Greetings; g.Enabled {
		for field, tmpl := range map[string]string{"join": g.Join, "leave": g.Leave} {
			if tmpl != "" && !strings.Contains(tmpl, "{name}") {
				slog.Warn("greeting template does not mention {name}", "template", "greetings."+field)
			}
		}
	}

	// Text
	if cfg.Text.MaxLength < 1 || cfg.Text.MaxLength > stylebert.MaxTextRunes {
		errs = append(errs, fmt.Errorf("text.max_length %d is out of range [1, %d]", cfg.Text.MaxLength, stylebert.MaxTextRunes))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not one of
// [ValidBackendNames]. Third-party backends can still be registered.
func validateBackendName(name string) {
	if name == "" || slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown synthesis backend; may be a typo or third-party backend",
		"name", name,
		"known", ValidBackendNames,
	)
}
