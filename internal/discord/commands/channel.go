package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
)

// defaultTestText is read by /test when no text is given.
const defaultTestText = "テスト音声合成です"

// ChannelCommands holds the dependencies for /join, /leave and /test.
type ChannelCommands struct {
	sessions *lifecycle.Manager
	locate   VoiceLocator
}

// NewChannelCommands creates a ChannelCommands.
func NewChannelCommands(sessions *lifecycle.Manager, locate VoiceLocator) *ChannelCommands {
	return &ChannelCommands{sessions: sessions, locate: locate}
}

// Register registers /join, /leave and /test with the router.
func (cc *ChannelCommands) Register(router *discord.CommandRouter) {
	for _, def := range cc.Definitions() {
		switch def.Name {
		case "join":
			router.RegisterCommand(def.Name, def, cc.handleJoin)
		case "leave":
			router.RegisterCommand(def.Name, def, cc.handleLeave)
		case "test":
			router.RegisterCommand(def.Name, def, cc.handleTest)
		}
	}
}

// Definitions returns the ApplicationCommand definitions for Discord.
func (cc *ChannelCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "join",
			Description: "あなたのいるボイスチャンネルに参加して読み上げを始めます",
		},
		{
			Name:        "leave",
			Description: "ボイスチャンネルから切断します",
		},
		{
			Name:        "test",
			Description: "音声合成をテストします",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "読み上げるテキスト",
					MaxLength:   100,
				},
			},
		},
	}
}

// handleJoin handles /join.
func (cc *ChannelCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	channelID, occupants, ok := cc.locate(i.GuildID, discord.InteractionUserID(i))
	if !ok {
		discord.RespondEphemeral(r, i, "ボイスチャンネルに参加してから実行してください。")
		return
	}

	// Connecting may take a few seconds.
	discord.DeferReply(r, i)

	ctx, cancel := commandContext()
	defer cancel()
	if err := cc.sessions.Connect(ctx, i.GuildID, channelID, occupants); err != nil {
		discord.FollowUp(r, i, fmt.Sprintf("接続に失敗しました: %v", err))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("<#%s> に接続しました。", channelID))
}

// handleLeave handles /leave.
func (cc *ChannelCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := commandContext()
	defer cancel()
	if err := cc.sessions.Leave(ctx, i.GuildID); err != nil {
		respondSessionError(r, i, err)
		return
	}
	discord.Respond(r, i, "ボイスチャンネルから切断しました。")
}

// handleTest handles /test [text].
func (cc *ChannelCommands) handleTest(r discord.Responder, i *discordgo.InteractionCreate) {
	text := defaultTestText
	if opt := option(i, "text"); opt != nil && opt.StringValue() != "" {
		text = opt.StringValue()
	}

	ctx, cancel := commandContext()
	defer cancel()
	if err := cc.sessions.Say(ctx, i.GuildID, discord.InteractionUserID(i), text); err != nil {
		respondSessionError(r, i, err)
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("「%s」を読み上げキューに追加しました。", text))
}
