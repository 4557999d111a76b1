package app

import (
	"github.com/jinwktk/YomiageBotAlpha/internal/cache"
	"github.com/jinwktk/YomiageBotAlpha/internal/config"
	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/playback"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
	"github.com/jinwktk/YomiageBotAlpha/internal/synth"
	"github.com/jinwktk/YomiageBotAlpha/internal/textnorm"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts/stylebert"
)

// ─── Backends ────────────────────────────────────────────────────────────────

// NewBackendRegistry returns a registry with every built-in synthesis
// backend registered.
func NewBackendRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend("style-bert-vits2", func(sc config.SynthesisConfig) (tts.Provider, error) {
		return stylebert.New(sc.BaseURL, stylebert.WithTimeout(sc.Timeout))
	})
	return reg
}

// ─── Config conversion ───────────────────────────────────────────────────────

// CacheConfig converts the cache section to a [cache.Config].
func CacheConfig(c config.CacheConfig) cache.Config {
	return cache.Config{
		Root:             c.Root,
		MaxBytes:         int64(c.MaxBytes),
		MaxEntries:       c.MaxEntries,
		MaxAge:           c.MaxAge,
		TargetRatio:      c.TargetRatio,
		SweepInterval:    c.SweepInterval,
		CompressionLevel: c.CompressionLevel,
	}
}

func synthConfig(c config.SynthesisConfig) synth.Config {
	return synth.Config{
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
		Breaker: resilience.BreakerConfig{
			MaxFailures:  c.Breaker.MaxFailures,
			ResetTimeout: c.Breaker.ResetTimeout,
		},
	}
}

func textOptions(c config.TextConfig) textnorm.Options {
	return textnorm.Options{
		MaxLength:      c.MaxLength,
		URLWord:        c.URLWord,
		AttachmentWord: c.AttachmentWord,
	}
}

func discordConfig(c config.DiscordConfig) discord.Config {
	return discord.Config{
		Token:           c.Token,
		GuildIDs:        c.GuildIDs,
		ReadBotMessages: c.ReadBotMessages,
		StartupScan:     c.StartupScan,
		AdminRoleID:     c.AdminRoleID,
	}
}

func greetings(c config.GreetingsConfig) lifecycle.Greetings {
	return lifecycle.Greetings{Enabled: c.Enabled, Join: c.Join, Leave: c.Leave}
}

func lifecycleConfig(cfg *config.Config) (lifecycle.Config, error) {
	policy, err := queue.ParsePolicy(cfg.Queue.Overflow)
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{
		AutoJoin:   cfg.Discord.AutoJoin,
		QueueDepth: cfg.Queue.Depth,
		Overflow:   policy,
		Playback: playback.Config{
			Timeout:      cfg.Playback.Timeout,
			Grace:        cfg.Playback.Grace,
			PollInterval: cfg.Playback.PollInterval,
			Gap:          cfg.Playback.Gap,
		},
		Greetings:    greetings(cfg.Greetings),
		DefaultVoice: cfg.Voice,
	}, nil
}

func reloadable(cfg *config.Config) (lifecycle.Reloadable, error) {
	policy, err := queue.ParsePolicy(cfg.Queue.Overflow)
	if err != nil {
		return lifecycle.Reloadable{}, err
	}
	return lifecycle.Reloadable{
		Greetings:    greetings(cfg.Greetings),
		DefaultVoice: cfg.Voice,
		Overflow:     policy,
	}, nil
}
