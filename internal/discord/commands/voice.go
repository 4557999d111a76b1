package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// autocompleteTimeout leaves headroom under Discord's three second limit.
const autocompleteTimeout = 2 * time.Second

// maxChoices is Discord's limit on autocomplete choices.
const maxChoices = 25

// VoiceCommands holds the dependencies for /voice.
type VoiceCommands struct {
	sessions *lifecycle.Manager
	perms    *discord.PermissionChecker

	// models lists backend models for style autocomplete. May be nil.
	models tts.Checker
}

// NewVoiceCommands creates a VoiceCommands. models may be nil when the
// backend cannot list its models.
func NewVoiceCommands(sessions *lifecycle.Manager, perms *discord.PermissionChecker, models tts.Checker) *VoiceCommands {
	return &VoiceCommands{sessions: sessions, perms: perms, models: models}
}

// Register registers the /voice command group with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	def := vc.Definition()
	router.RegisterCommand("voice", def, func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "サブコマンドを指定してください: `/voice show` または `/voice set`")
	})
	router.RegisterHandler("voice/show", vc.handleShow)
	router.RegisterHandler("voice/set", vc.handleSet)
	router.RegisterAutocomplete("voice/set", vc.handleAutocomplete)
}

// Definition returns the /voice ApplicationCommand for Discord registration.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	minSpeed, minID := 0.1, 0.0
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "読み上げ音声の設定",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "現在の音声設定を表示します",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "このサーバーの音声設定を変更します",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "speaker_id",
						Description: "話者 ID",
						MinValue:    &minID,
					},
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "style",
						Description:  "スタイル",
						Autocomplete: true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "model_id",
						Description: "モデル ID",
						MinValue:    &minID,
					},
					{
						Type:        discordgo.ApplicationCommandOptionNumber,
						Name:        "speed",
						Description: "話速 (length)。大きいほどゆっくり",
						MinValue:    &minSpeed,
						MaxValue:    5,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "language",
						Description: "言語",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "日本語", Value: string(tts.LanguageJP)},
							{Name: "English", Value: string(tts.LanguageEN)},
							{Name: "中文", Value: string(tts.LanguageZH)},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "reset",
						Description: "既定の設定に戻します",
					},
				},
			},
		},
	}
}

// handleShow handles /voice show.
func (vc *VoiceCommands) handleShow(r discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(r, i, buildVoiceEmbed("現在の音声設定", vc.sessions.Voice(i.GuildID)))
}

// handleSet handles /voice set.
func (vc *VoiceCommands) handleSet(r discord.Responder, i *discordgo.InteractionCreate) {
	if !vc.perms.IsAdmin(i) {
		discord.RespondEphemeral(r, i, msgNotAdmin)
		return
	}

	if opt := option(i, "reset"); opt != nil && opt.BoolValue() {
		vc.sessions.ResetVoice(i.GuildID)
		discord.RespondEmbed(r, i, buildVoiceEmbed("音声設定を既定に戻しました", vc.sessions.Voice(i.GuildID)))
		return
	}

	v, changed := applyVoiceOptions(vc.sessions.Voice(i.GuildID), subOptions(i))
	if !changed {
		discord.RespondEphemeral(r, i, "変更する項目を指定してください。")
		return
	}
	if err := vc.sessions.SetVoice(i.GuildID, v); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	slog.Info("voice settings changed", "guild_id", i.GuildID, "user_id", discord.InteractionUserID(i),
		"model_id", v.ModelID, "speaker_id", v.SpeakerID, "style", v.Style, "length", v.Length)
	discord.RespondEmbed(r, i, buildVoiceEmbed("音声設定を変更しました", v))
}

// applyVoiceOptions overlays the given command options on v.
func applyVoiceOptions(v tts.VoiceParams, opts []*discordgo.ApplicationCommandInteractionDataOption) (tts.VoiceParams, bool) {
	changed := false
	for _, opt := range opts {
		switch opt.Name {
		case "speaker_id":
			v.SpeakerID = int(opt.IntValue())
		case "model_id":
			v.ModelID = int(opt.IntValue())
		case "style":
			v.Style = strings.TrimSpace(opt.StringValue())
		case "speed":
			v.Length = opt.FloatValue()
		case "language":
			v.Language = tts.Language(strings.ToUpper(opt.StringValue()))
		default:
			continue
		}
		changed = true
	}
	return v, changed
}

// handleAutocomplete suggests styles of the selected (or current) model.
func (vc *VoiceCommands) handleAutocomplete(r discord.Responder, i *discordgo.InteractionCreate) {
	focused := focusedOption(i)
	if focused == nil || focused.Name != "style" || vc.models == nil {
		discord.RespondChoices(r, i, nil)
		return
	}

	modelID := vc.sessions.Voice(i.GuildID).ModelID
	if opt := option(i, "model_id"); opt != nil {
		modelID = int(opt.IntValue())
	}

	ctx, cancel := context.WithTimeout(context.Background(), autocompleteTimeout)
	defer cancel()
	models, err := vc.models.Check(ctx)
	if err != nil {
		slog.Debug("voice: model list unavailable for autocomplete", "err", err)
		discord.RespondChoices(r, i, nil)
		return
	}
	discord.RespondChoices(r, i, styleChoices(models, modelID, focused.StringValue()))
}

// styleChoices returns the styles of modelID that contain partial.
func styleChoices(models []tts.ModelInfo, modelID int, partial string) []*discordgo.ApplicationCommandOptionChoice {
	i := slices.IndexFunc(models, func(m tts.ModelInfo) bool { return m.ID == modelID })
	if i < 0 {
		return nil
	}
	partial = strings.ToLower(partial)
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, style := range models[i].Styles {
		if partial != "" && !strings.Contains(strings.ToLower(style), partial) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: style, Value: style})
		if len(choices) == maxChoices {
			break
		}
	}
	return choices
}

func buildVoiceEmbed(title string, v tts.VoiceParams) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: title,
		Color: embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Model ID", Value: strconv.Itoa(v.ModelID), Inline: true},
			{Name: "Speaker ID", Value: strconv.Itoa(v.SpeakerID), Inline: true},
			{Name: "Style", Value: v.Style, Inline: true},
			{Name: "Speed", Value: fmt.Sprintf("%.2f", v.Length), Inline: true},
			{Name: "Language", Value: string(v.Language), Inline: true},
		},
	}
}
