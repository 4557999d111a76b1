package config_test

import (
	"slices"
	"testing"

	"github.com/jinwktk/YomiageBotAlpha/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	d := config.Diff(cfg, cfg)
	if d.HasReloadable() {
		t.Errorf("expected no reloadable changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Defaults()
	new := config.Defaults()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_Reloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "voice",
			mutate: func(c *config.Config) { c.Voice.SpeakerID = 9 },
			check:  func(d config.ConfigDiff) bool { return d.VoiceChanged },
		},
		{
			name:   "greeting template",
			mutate: func(c *config.Config) { c.Greetings.Join = "hi {name}" },
			check:  func(d config.ConfigDiff) bool { return d.GreetingsChanged },
		},
		{
			name:   "greetings disabled",
			mutate: func(c *config.Config) { c.Greetings.Enabled = false },
			check:  func(d config.ConfigDiff) bool { return d.GreetingsChanged },
		},
		{
			name:   "overflow policy",
			mutate: func(c *config.Config) { c.Queue.Overflow = "drop-oldest" },
			check:  func(d config.ConfigDiff) bool { return d.OverflowChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Defaults()
			new := config.Defaults()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !tt.check(d) || !d.HasReloadable() {
				t.Errorf("change not reported: %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("reloadable change flagged for restart: %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"tls", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"} }, "server"},
		{"token", func(c *config.Config) { c.Discord.Token = "other" }, "discord"},
		{"guild ids", func(c *config.Config) { c.Discord.GuildIDs = []string{"1"} }, "discord"},
		{"backend url", func(c *config.Config) { c.Synthesis.BaseURL = "http://other:5000" }, "synthesis"},
		{"cache size", func(c *config.Config) { c.Cache.MaxEntries = 1 }, "cache"},
		{"queue depth", func(c *config.Config) { c.Queue.Depth = 3 }, "queue"},
		{"playback gap", func(c *config.Config) { c.Playback.Gap = 0 }, "playback"},
		{"text", func(c *config.Config) { c.Text.URLWord = "リンク" }, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Defaults()
			new := config.Defaults()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tt.section) {
				t.Errorf("RestartRequired = %v, want %q", d.RestartRequired, tt.section)
			}
			if d.HasReloadable() {
				t.Errorf("unexpected reloadable change: %+v", d)
			}
		})
	}
}
