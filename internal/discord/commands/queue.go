package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
)

const (
	// queuePreviewLen is how many entries /queue lists.
	queuePreviewLen = 5
	// queueTextLen is how many runes of each entry /queue shows.
	queueTextLen = 30

	skipButtonID  = "queue_skip"
	clearButtonID = "queue_clear"
)

// QueueCommands holds the dependencies for /skip, /queue and /clear.
type QueueCommands struct {
	sessions *lifecycle.Manager
}

// NewQueueCommands creates a QueueCommands.
func NewQueueCommands(sessions *lifecycle.Manager) *QueueCommands {
	return &QueueCommands{sessions: sessions}
}

// Register registers /skip, /queue, /clear and the queue buttons with the
// router.
func (qc *QueueCommands) Register(router *discord.CommandRouter) {
	defs := qc.Definitions()
	router.RegisterCommand("skip", defs[0], qc.handleSkip)
	router.RegisterCommand("queue", defs[1], qc.handleQueue)
	router.RegisterCommand("clear", defs[2], qc.handleClear)
	router.RegisterComponent(skipButtonID, qc.handleSkip)
	router.RegisterComponent(clearButtonID, qc.handleClear)
}

// Definitions returns the ApplicationCommand definitions for Discord.
func (qc *QueueCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "skip", Description: "再生中の読み上げをスキップします"},
		{Name: "queue", Description: "読み上げキューを表示します"},
		{Name: "clear", Description: "読み上げキューを空にします"},
	}
}

// handleSkip handles /skip and the skip button.
func (qc *QueueCommands) handleSkip(r discord.Responder, i *discordgo.InteractionCreate) {
	playing, err := qc.sessions.Skip(i.GuildID)
	if err != nil {
		respondSessionError(r, i, err)
		return
	}
	if !playing {
		discord.RespondEphemeral(r, i, "再生中の音声はありません。")
		return
	}
	discord.Respond(r, i, "スキップしました。")
}

// handleClear handles /clear and the clear button.
func (qc *QueueCommands) handleClear(r discord.Responder, i *discordgo.InteractionCreate) {
	n, err := qc.sessions.Clear(i.GuildID)
	if err != nil {
		respondSessionError(r, i, err)
		return
	}
	discord.Respond(r, i, fmt.Sprintf("キューから %d 件を削除しました。", n))
}

// handleQueue handles /queue.
func (qc *QueueCommands) handleQueue(r discord.Responder, i *discordgo.InteractionCreate) {
	view, err := qc.sessions.Queue(i.GuildID, queuePreviewLen)
	if err != nil {
		respondSessionError(r, i, err)
		return
	}
	if view.Current == nil && view.Total == 0 {
		discord.RespondEphemeral(r, i, "読み上げキューは空です。")
		return
	}
	discord.RespondEmbed(r, i, buildQueueEmbed(view), discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "スキップ", Style: discordgo.PrimaryButton, CustomID: skipButtonID},
			discordgo.Button{Label: "クリア", Style: discordgo.DangerButton, CustomID: clearButtonID},
		},
	})
}

func buildQueueEmbed(view lifecycle.QueueView) *discordgo.MessageEmbed {
	var lines []string
	if view.Current != nil {
		lines = append(lines, "▶ "+queueLine(*view.Current))
	}
	for n, u := range view.Next {
		lines = append(lines, fmt.Sprintf("%d. %s", n+1, queueLine(u)))
	}
	if rest := view.Total - len(view.Next); rest > 0 {
		lines = append(lines, fmt.Sprintf("... 他 %d 件", rest))
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("読み上げキュー (%d 件)", view.Total),
		Description: strings.Join(lines, "\n"),
		Color:       embedColorBlue,
	}
}

func queueLine(u queue.Utterance) string {
	text := preview(u.RenderedText, queueTextLen)
	if u.MemberID == "" {
		return text
	}
	return fmt.Sprintf("<@%s>: %s", u.MemberID, text)
}
