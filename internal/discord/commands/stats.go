package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
)

// StatsCommands holds the dependencies for /stats.
type StatsCommands struct {
	stats    *discord.PlaybackStats
	sessions *lifecycle.Manager
	breaker  func() resilience.State
	started  time.Time
}

// NewStatsCommands creates a StatsCommands. breaker reports the synthesis
// circuit breaker state and may be nil.
func NewStatsCommands(stats *discord.PlaybackStats, sessions *lifecycle.Manager, breaker func() resilience.State) *StatsCommands {
	return &StatsCommands{stats: stats, sessions: sessions, breaker: breaker, started: time.Now()}
}

// Register registers /stats with the router.
func (sc *StatsCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("stats", sc.Definition(), sc.handleStats)
}

// Definition returns the /stats ApplicationCommand for Discord registration.
func (sc *StatsCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "stats",
		Description: "読み上げの統計を表示します",
	}
}

// handleStats handles /stats.
func (sc *StatsCommands) handleStats(r discord.Responder, i *discordgo.InteractionCreate) {
	snap := sc.stats.Snapshot()
	sessions := sc.sessions.Sessions()

	breaker := "-"
	if sc.breaker != nil {
		breaker = sc.breaker().String()
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "稼働時間", Value: formatDuration(time.Since(sc.started)), Inline: true},
		{Name: "接続中", Value: fmt.Sprintf("%d", len(sessions)), Inline: true},
		{Name: "合成バックエンド", Value: breaker, Inline: true},
		{Name: "再生", Value: fmt.Sprintf("%d", snap.Played), Inline: true},
		{Name: "スキップ", Value: fmt.Sprintf("%d", snap.Skipped), Inline: true},
		{Name: "タイムアウト", Value: fmt.Sprintf("%d", snap.TimedOut), Inline: true},
		{Name: "失敗", Value: fmt.Sprintf("%d", snap.Failed), Inline: true},
	}
	if latency := formatLatencyField(snap); latency != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "読み上げ遅延",
			Value: latency,
		})
	}

	color := embedColorGreen
	if sc.breaker != nil && sc.breaker() == resilience.StateOpen {
		color = embedColorRed
	}
	discord.RespondEmbed(r, i, &discordgo.MessageEmbed{
		Title:     "読み上げ統計",
		Color:     color,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// formatLatencyField builds a compact multi-line string showing latencies
// from enqueue to end of playback. Returns empty string if no latency data
// is available.
func formatLatencyField(snap discord.StatsSnapshot) string {
	var lines []string
	if snap.Chat.P50 > 0 || snap.Chat.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Chat:     p50=%s p95=%s", formatMs(snap.Chat.P50), formatMs(snap.Chat.P95)))
	}
	if snap.Greeting.P50 > 0 || snap.Greeting.P95 > 0 {
		lines = append(lines, fmt.Sprintf("Greeting: p50=%s p95=%s", formatMs(snap.Greeting.P50), formatMs(snap.Greeting.P95)))
	}
	if len(lines) == 0 {
		return ""
	}
	return "```\n" + strings.Join(lines, "\n") + "\n```"
}
