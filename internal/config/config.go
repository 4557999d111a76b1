// Package config provides the configuration schema, loader, hot-reload
// watcher and synthesis backend registry for the read-aloud bot.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ByteSize is a size in bytes. In YAML it accepts a plain integer or a human
// string such as "500MB" or "1.5GiB".
type ByteSize int64

// UnmarshalYAML implements [yaml.Unmarshaler].
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: byte size must be a number or a string", node.Line)
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("line %d: parse byte size %q: %w", node.Line, s, err)
	}
	*b = ByteSize(v)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.Bytes(uint64(max(b, 0))), nil
}

// String formats b the way it is written in YAML.
func (b ByteSize) String() string {
	return humanize.Bytes(uint64(max(b, 0)))
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// Voice is the default voice for guilds without an override.
	Voice tts.VoiceParams `yaml:"voice"`

	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Greetings GreetingsConfig `yaml:"greetings"`
	Text      TextConfig      `yaml:"text"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics listener
	// (e.g. ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"YOMIAGE_LOG_LEVEL"`

	// TLS configures TLS for the listener. When nil, it serves plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DiscordConfig configures the bot account and which events it reacts to.
type DiscordConfig struct {
	Token string `yaml:"token" env:"DISCORD_TOKEN"`

	// GuildIDs restricts the bot to these guilds. Empty means every guild
	// the bot is a member of.
	GuildIDs []string `yaml:"guild_ids"`

	// ReadBotMessages also reads messages from other bots. Webhook
	// messages are always read.
	ReadBotMessages bool `yaml:"read_bot_messages"`

	// AutoJoin connects when a member enters a voice channel of a guild
	// without a session.
	AutoJoin bool `yaml:"auto_join"`

	// StartupScan joins the busiest voice channel of each guild on start.
	StartupScan bool `yaml:"startup_scan"`

	// AdminRoleID is the role allowed to run guild-wide commands such as
	// /voice set and /cache purge. Members with Manage Server may always
	// run them. Empty allows everyone.
	AdminRoleID string `yaml:"admin_role_id"`
}

// SynthesisConfig selects and tunes the speech backend.
type SynthesisConfig struct {
	// Backend names a factory in the [Registry].
	Backend string `yaml:"backend"`
	BaseURL string `yaml:"base_url" env:"YOMIAGE_SYNTH_URL"`

	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the backend.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CacheConfig controls the on-disk clip cache.
type CacheConfig struct {
	Root       string        `yaml:"root" env:"YOMIAGE_CACHE_ROOT"`
	MaxBytes   ByteSize      `yaml:"max_bytes"`
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`

	// TargetRatio is the fraction of each ceiling a sweep evicts down to.
	TargetRatio   float64       `yaml:"target_ratio"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CompressionLevel is the zstd level for stored clips. Zero stores plain
	// WAV files.
	CompressionLevel int `yaml:"compression_level"`
}

// QueueConfig bounds each session's utterance queue.
type QueueConfig struct {
	Depth int `yaml:"depth"`

	// Overflow is "reject-newest" or "drop-oldest". Reloadable.
	Overflow string `yaml:"overflow"`
}

// PlaybackConfig tunes the per-session playback loop.
type PlaybackConfig struct {
	// Timeout bounds a clip whose duration is unknown.
	Timeout time.Duration `yaml:"timeout"`

	// Grace is added to a known clip duration to form the guard.
	Grace        time.Duration `yaml:"grace"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Gap is the pause between consecutive clips.
	Gap time.Duration `yaml:"gap"`
}

// GreetingsConfig holds the join and leave templates. "{name}" is replaced
// by the member's display name. Reloadable.
type GreetingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Join    string `yaml:"join"`
	Leave   string `yaml:"leave"`
}

// TextConfig controls how chat messages are turned into speech text.
type TextConfig struct {
	MaxLength      int    `yaml:"max_length"`
	URLWord        string `yaml:"url_word"`
	AttachmentWord string `yaml:"attachment_word"`
}
