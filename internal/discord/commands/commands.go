// Package commands implements the bot's Discord slash command handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
)

// Embed sidebar colors.
const (
	embedColorBlue  = 0x5865F2
	embedColorGreen = 0x2ECC71
	embedColorRed   = 0xE74C3C
)

// commandTimeout bounds work a handler starts on behalf of an interaction.
const commandTimeout = 15 * time.Second

const (
	msgNotConnected = "ボイスチャンネルに接続していません。"
	msgNotAdmin     = "このコマンドを実行する権限がありません。"
)

// VoiceLocator finds the voice channel a member is connected to and the
// number of humans there.
type VoiceLocator func(guildID, userID string) (channelID string, occupants int, ok bool)

// StateLocator returns a VoiceLocator backed by the gateway state cache.
func StateLocator(state func() *discordgo.State) VoiceLocator {
	return func(guildID, userID string) (string, int, bool) {
		return discord.MemberChannel(state(), guildID, userID)
	}
}

// respondSessionError maps lifecycle errors to user-facing messages.
func respondSessionError(r discord.Responder, i *discordgo.InteractionCreate, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNoSession):
		discord.RespondEphemeral(r, i, msgNotConnected)
	case errors.Is(err, lifecycle.ErrGuildBusy):
		discord.RespondEphemeral(r, i, "既に別のボイスチャンネルで読み上げ中です。")
	case errors.Is(err, queue.ErrQueueFull):
		discord.RespondEphemeral(r, i, "読み上げキューがいっぱいです。しばらく待ってから再度お試しください。")
	default:
		discord.RespondError(r, i, err)
	}
}

// subOptions returns the options of the invoked subcommand, or the
// top-level options when the command has no subcommands.
func subOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	data := i.ApplicationCommandData()
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return data.Options
}

// option returns the named option, or nil.
func option(i *discordgo.InteractionCreate, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range subOptions(i) {
		if opt.Name == name {
			return opt
		}
	}
	return nil
}

// focusedOption returns the option being typed during autocomplete.
func focusedOption(i *discordgo.InteractionCreate) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range subOptions(i) {
		if opt.Focused {
			return opt
		}
	}
	return nil
}

// preview shortens s to n runes for display, marking the cut with "...".
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	var b strings.Builder
	for i, r := range []rune(s) {
		if i == n {
			break
		}
		b.WriteRune(r)
	}
	b.WriteString("...")
	return b.String()
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.1fms", ms)
}

// formatDuration formats a duration as "Xh Ym Zs".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}
