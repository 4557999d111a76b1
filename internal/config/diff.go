package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Reloadable fields are reported individually; any other change is listed
// in RestartRequired by section name.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged     bool
	GreetingsChanged bool
	OverflowChanged  bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart (e.g. "discord", "cache").
	RestartRequired []string
}

// HasReloadable reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasReloadable() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.GreetingsChanged || d.OverflowChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VoiceChanged = old.Voice != new.Voice
	d.GreetingsChanged = old.Greetings != new.Greetings
	d.OverflowChanged = old.Queue.Overflow != new.Queue.Overflow

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalDiscord(old.Discord, new.Discord) {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if old.Synthesis != new.Synthesis {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Queue.Depth != new.Queue.Depth {
		d.RestartRequired = append(d.RestartRequired, "queue")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Text != new.Text {
		d.RestartRequired = append(d.RestartRequired, "text")
	}
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDiscord(a, b DiscordConfig) bool {
	return a.Token == b.Token &&
		a.ReadBotMessages == b.ReadBotMessages &&
		a.AutoJoin == b.AutoJoin &&
		a.StartupScan == b.StartupScan &&
		a.AdminRoleID == b.AdminRoleID &&
		slices.Equal(a.GuildIDs, b.GuildIDs)
}
