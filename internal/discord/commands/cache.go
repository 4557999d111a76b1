package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/jinwktk/YomiageBotAlpha/internal/cache"
	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
)

// CacheStore is the part of the audio cache the /cache commands use.
type CacheStore interface {
	Stats() cache.Stats
	Purge(ctx context.Context) (int, error)
	PurgeExpired(ctx context.Context) int
}

// CacheCommands holds the dependencies for /cache.
type CacheCommands struct {
	store CacheStore
	perms *discord.PermissionChecker
}

// NewCacheCommands creates a CacheCommands.
func NewCacheCommands(store CacheStore, perms *discord.PermissionChecker) *CacheCommands {
	return &CacheCommands{store: store, perms: perms}
}

// Register registers the /cache command group with the router.
func (cc *CacheCommands) Register(router *discord.CommandRouter) {
	def := cc.Definition()
	router.RegisterCommand("cache", def, func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "サブコマンドを指定してください: `/cache stats` または `/cache purge`")
	})
	router.RegisterHandler("cache/stats", cc.handleStats)
	router.RegisterHandler("cache/purge", cc.handlePurge)
}

// Definition returns the /cache ApplicationCommand for Discord registration.
func (cc *CacheCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "cache",
		Description: "音声キャッシュの管理",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stats",
				Description: "キャッシュの使用状況を表示します",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "purge",
				Description: "キャッシュを削除します",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "expired",
						Description: "有効期限切れのものだけを削除します",
					},
				},
			},
		},
	}
}

// handleStats handles /cache stats.
func (cc *CacheCommands) handleStats(r discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(r, i, buildCacheEmbed(cc.store.Stats()))
}

// handlePurge handles /cache purge [expired].
func (cc *CacheCommands) handlePurge(r discord.Responder, i *discordgo.InteractionCreate) {
	if !cc.perms.IsAdmin(i) {
		discord.RespondEphemeral(r, i, msgNotAdmin)
		return
	}

	ctx, cancel := commandContext()
	defer cancel()

	if opt := option(i, "expired"); opt != nil && opt.BoolValue() {
		n := cc.store.PurgeExpired(ctx)
		discord.RespondEphemeral(r, i, fmt.Sprintf("期限切れのキャッシュを %d 件削除しました。", n))
		return
	}

	n, err := cc.store.Purge(ctx)
	if err != nil {
		slog.Warn("cache purge incomplete", "removed", n, "err", err)
		discord.RespondError(r, i, fmt.Errorf("%d 件削除しましたが、一部のファイルを削除できませんでした: %w", n, err))
		return
	}
	slog.Info("cache purged by command", "guild_id", i.GuildID, "user_id", discord.InteractionUserID(i), "removed", n)
	discord.RespondEphemeral(r, i, fmt.Sprintf("キャッシュを %d 件削除しました。", n))
}

func buildCacheEmbed(st cache.Stats) *discordgo.MessageEmbed {
	maxBytes, maxAge, usage := "無制限", "無制限", "-"
	if st.MaxBytes > 0 {
		maxBytes = humanize.Bytes(uint64(st.MaxBytes))
		usage = fmt.Sprintf("%.1f%%", float64(st.Bytes)/float64(st.MaxBytes)*100)
	}
	if st.MaxAge > 0 {
		maxAge = formatDuration(st.MaxAge)
	}
	files := humanize.Comma(int64(st.Entries))
	if st.MaxEntries > 0 {
		files += " / " + humanize.Comma(int64(st.MaxEntries))
	}

	color := embedColorGreen
	if !st.IndexAvailable {
		color = embedColorRed
	}
	return &discordgo.MessageEmbed{
		Title: "音声キャッシュ",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "ファイル数", Value: files, Inline: true},
			{Name: "使用容量", Value: humanize.Bytes(uint64(max(st.Bytes, 0))), Inline: true},
			{Name: "最大容量", Value: maxBytes, Inline: true},
			{Name: "有効期限", Value: maxAge, Inline: true},
			{Name: "使用率", Value: usage, Inline: true},
			{Name: "ヒット率", Value: fmt.Sprintf("%.1f%%", st.HitRate()*100), Inline: true},
		},
	}
}
