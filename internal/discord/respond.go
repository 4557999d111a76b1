package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder is the part of [discordgo.Session] that command handlers use to
// answer interactions.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Responder = (*discordgo.Session)(nil)

// Replies are best effort: an interaction token that expired or a channel the
// bot lost access to is logged and otherwise ignored.
func reply(r Responder, i *discordgo.InteractionCreate, typ discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	if err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: typ, Data: data}); err != nil {
		slog.Warn("discord: interaction reply failed", "guild_id", i.GuildID, "type", typ, "err", err)
	}
}

// RespondEphemeral replies with text only the invoking member sees.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	reply(r, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// Respond replies with text visible to the channel.
func Respond(r Responder, i *discordgo.InteractionCreate, content string) {
	reply(r, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{Content: content})
}

// RespondEmbed replies with an embed and optional buttons.
func RespondEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components ...discordgo.MessageComponent) {
	reply(r, i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	})
}

func RespondError(r Responder, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(r, i, fmt.Sprintf("エラー: %v", err))
}

// RespondChoices answers an autocomplete request. nil sends an empty list.
func RespondChoices(r Responder, i *discordgo.InteractionCreate, choices []*discordgo.ApplicationCommandOptionChoice) {
	reply(r, i, discordgo.InteractionApplicationCommandAutocompleteResult, &discordgo.InteractionResponseData{Choices: choices})
}

// DeferReply acknowledges i so the handler may answer later with [FollowUp].
// Discord drops replies that arrive more than three seconds after the
// interaction unless it was deferred.
func DeferReply(r Responder, i *discordgo.InteractionCreate) {
	reply(r, i, discordgo.InteractionResponseDeferredChannelMessageWithSource, nil)
}

// FollowUp answers a deferred interaction.
func FollowUp(r Responder, i *discordgo.InteractionCreate, content string) {
	if _, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content}); err != nil {
		slog.Warn("discord: follow-up failed", "guild_id", i.GuildID, "err", err)
	}
}

// InteractionUserID returns the invoking user's ID from the member in a
// guild or the user in a DM.
func InteractionUserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}
