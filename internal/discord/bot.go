// Package discord provides the Discord bot layer. It owns the
// discordgo.Session lifecycle, turns gateway events into lifecycle calls,
// routes slash command interactions to registered handlers and checks admin
// permissions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
	discordaudio "github.com/jinwktk/YomiageBotAlpha/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildIDs restricts the bot to these guilds. Empty means all.
	GuildIDs []string

	// ReadBotMessages also reads messages from other bots. Webhook messages
	// are always read.
	ReadBotMessages bool

	// StartupScan joins the busiest voice channel of each guild when the
	// guild becomes available.
	StartupScan bool

	// AdminRoleID gates guild-wide commands. See [PermissionChecker].
	AdminRoleID string
}

// Sessions is the part of the lifecycle manager the bot drives.
type Sessions interface {
	HandleJoin(ctx context.Context, ev lifecycle.JoinEvent) error
	HandleLeave(ctx context.Context, ev lifecycle.LeaveEvent) error
	HandleMessage(ctx context.Context, msg lifecycle.Message) error
	Connect(ctx context.Context, guildID, channelID string, occupants int) error
	Leave(ctx context.Context, guildID string) error
	RemoveGuild(ctx context.Context, guildID string)
	Session(guildID string) (lifecycle.SessionInfo, bool)
}

var _ Sessions = (*lifecycle.Manager)(nil)

// Bot owns the Discord gateway connection, forwards presence and chat
// events to [Sessions] and routes interactions to command handlers.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	router   *CommandRouter
	perms    *PermissionChecker
	cfg      Config
	guilds   map[string]struct{}

	sessions Sessions

	// ctx bounds work started from gateway events; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool

	mu         sync.Mutex
	registered map[string][]*discordgo.ApplicationCommand // guild ID ("" = global) → commands
	closeOnce  sync.Once
}

// New creates a Bot and registers its gateway handlers. The gateway is not
// opened until [Bot.Run].
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := newBot(cfg)
	b.session = session
	b.platform = discordaudio.New(session)

	session.AddHandler(b.onReady)
	session.AddHandler(b.onResumed)
	session.AddHandler(b.onDisconnect)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

func newBot(cfg Config) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		router:     NewCommandRouter(),
		perms:      NewPermissionChecker(cfg.AdminRoleID),
		cfg:        cfg,
		guilds:     make(map[string]struct{}, len(cfg.GuildIDs)),
		ctx:        ctx,
		cancel:     cancel,
		registered: make(map[string][]*discordgo.ApplicationCommand),
	}
	for _, id := range cfg.GuildIDs {
		b.guilds[id] = struct{}{}
	}
	return b
}

// Bind sets the session manager that receives gateway events. It must be
// called before [Bot.Run].
func (b *Bot) Bind(s Sessions) {
	b.sessions = s
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// State returns the gateway state cache.
func (b *Bot) State() *discordgo.State {
	if b.session == nil {
		return nil
	}
	return b.session.State
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Ready reports whether the gateway connection is up.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Allowed reports whether events from guildID are handled.
func (b *Bot) Allowed(guildID string) bool {
	if len(b.guilds) == 0 {
		return true
	}
	_, ok := b.guilds[guildID]
	return ok
}

// Run opens the gateway, registers slash commands and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.sessions == nil {
		return errors.New("discord: no session manager bound")
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		scopes := b.cfg.GuildIDs
		if len(scopes) == 0 {
			scopes = []string{""}
		}
		for _, guildID := range scopes {
			registered, err := b.session.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
			if err != nil {
				return fmt.Errorf("discord: register commands in %q: %w", guildID, err)
			}
			b.mu.Lock()
			b.registered[guildID] = registered
			b.mu.Unlock()
			slog.Info("discord commands registered", "guild_id", guildID, "count", len(registered))
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters guild-scoped commands and disconnects from Discord.
// Global commands stay registered; Discord takes up to an hour to propagate
// them again.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.cancel()
		b.ready.Store(false)
		if b.session == nil {
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if u := b.session.State.User; u != nil {
			for guildID, cmds := range b.registered {
				if guildID == "" {
					continue
				}
				for _, cmd := range cmds {
					if err := b.session.ApplicationCommandDelete(u.ID, guildID, cmd.ID); err != nil {
						slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
					}
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// ─── gateway handlers ────────────────────────────────────────────────────────

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	slog.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	b.ready.Store(true)
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.ready.Store(false)
	slog.Warn("discord gateway disconnected")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.handleGuildCreate(b.ctx, s.State, g.Guild)
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	b.handleGuildDelete(b.ctx, g.Guild)
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	b.handleVoiceState(b.ctx, s.State, v)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.handleMessage(b.ctx, s.State, m.Message)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.handleInteraction(s, i)
}

// ─── event logic ─────────────────────────────────────────────────────────────

// handleGuildCreate runs the startup scan for a guild that just became
// available.
func (b *Bot) handleGuildCreate(ctx context.Context, st *discordgo.State, g *discordgo.Guild) {
	if g == nil || !b.cfg.StartupScan || !b.Allowed(g.ID) {
		return
	}
	if _, ok := b.sessions.Session(g.ID); ok {
		return
	}
	channelID, n := busiestChannel(st, g.ID)
	if channelID == "" {
		return
	}
	slog.Info("discord: startup scan joining busiest channel",
		"guild_id", g.ID, "channel_id", channelID, "occupants", n)
	if err := b.sessions.Connect(ctx, g.ID, channelID, n); err != nil && !errors.Is(err, lifecycle.ErrGuildBusy) {
		slog.Warn("discord: startup scan connect failed", "guild_id", g.ID, "err", err)
	}
}

// handleGuildDelete drops the guild's session when the bot is removed.
// Outages are reported with Unavailable set and are ignored.
func (b *Bot) handleGuildDelete(ctx context.Context, g *discordgo.Guild) {
	if g == nil || g.Unavailable || !b.Allowed(g.ID) {
		return
	}
	slog.Info("discord: removed from guild", "guild_id", g.ID)
	b.sessions.RemoveGuild(ctx, g.ID)
}

// handleVoiceState turns a voice state change into leave and join events.
// A move is a leave from the old channel followed by a join to the new one.
func (b *Bot) handleVoiceState(ctx context.Context, st *discordgo.State, v *discordgo.VoiceStateUpdate) {
	if v == nil || v.VoiceState == nil || v.GuildID == "" || !b.Allowed(v.GuildID) {
		return
	}
	var before string
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	after := v.ChannelID
	if before == after {
		// Mute, deafen or stream toggles.
		return
	}

	if v.UserID == selfID(st) {
		b.handleSelfMoved(ctx, v.GuildID, before, after)
		return
	}
	if isBot(st, v.GuildID, v.UserID, v.Member) {
		return
	}

	name := displayName(st, v.GuildID, v.UserID, v.Member)
	if before != "" {
		err := b.sessions.HandleLeave(ctx, lifecycle.LeaveEvent{
			GuildID:     v.GuildID,
			ChannelID:   before,
			MemberID:    v.UserID,
			DisplayName: name,
			Remaining:   humanOccupants(st, v.GuildID, before),
		})
		logEventErr("leave", v.GuildID, err)
	}
	if after != "" {
		err := b.sessions.HandleJoin(ctx, lifecycle.JoinEvent{
			GuildID:     v.GuildID,
			ChannelID:   after,
			MemberID:    v.UserID,
			DisplayName: name,
			Occupants:   humanOccupants(st, v.GuildID, after),
		})
		logEventErr("join", v.GuildID, err)
	}
}

// handleSelfMoved ends the session when someone else disconnects or moves
// the bot out of its channel.
func (b *Bot) handleSelfMoved(ctx context.Context, guildID, before, after string) {
	if before == "" {
		return
	}
	info, ok := b.sessions.Session(guildID)
	if !ok || info.State != lifecycle.Connected || info.ChannelID != before || after == before {
		return
	}
	slog.Info("discord: bot was removed from its voice channel",
		"guild_id", guildID, "channel_id", before, "new_channel_id", after)
	if err := b.sessions.Leave(ctx, guildID); err != nil && !errors.Is(err, lifecycle.ErrNoSession) {
		slog.Warn("discord: leave after forced move failed", "guild_id", guildID, "err", err)
	}
}

// handleMessage forwards a guild chat message to the guild's session.
func (b *Bot) handleMessage(ctx context.Context, st *discordgo.State, m *discordgo.Message) {
	if m == nil || m.GuildID == "" || m.Author == nil || !b.Allowed(m.GuildID) {
		return
	}
	if m.Author.ID == selfID(st) {
		return
	}
	if m.Author.Bot && m.WebhookID == "" && !b.cfg.ReadBotMessages {
		return
	}
	err := b.sessions.HandleMessage(ctx, lifecycle.Message{
		GuildID:     m.GuildID,
		AuthorID:    m.Author.ID,
		Text:        m.Content,
		Attachments: len(m.Attachments),
	})
	logEventErr("message", m.GuildID, err)
}

func (b *Bot) handleInteraction(r Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		RespondEphemeral(r, i, "このコマンドはサーバー内でのみ使えます。")
		return
	}
	if !b.Allowed(i.GuildID) {
		RespondEphemeral(r, i, "このサーバーでは利用できません。")
		return
	}
	b.router.Handle(r, i)
}

// logEventErr logs a failed event at a level matching how expected the
// failure is.
func logEventErr(event, guildID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrNoSession), errors.Is(err, lifecycle.ErrGuildBusy), errors.Is(err, lifecycle.ErrClosed):
		slog.Debug("discord: event ignored", "event", event, "guild_id", guildID, "reason", err)
	case errors.Is(err, queue.ErrQueueFull):
		slog.Warn("discord: queue full, message dropped", "guild_id", guildID)
	default:
		slog.Warn("discord: event failed", "event", event, "guild_id", guildID, "err", err)
	}
}
