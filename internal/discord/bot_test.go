package discord

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/internal/discord/mock"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
)

// fakeSessions records every call the bot makes.
type fakeSessions struct {
	mu       sync.Mutex
	calls    []string
	joins    []lifecycle.JoinEvent
	leaves   []lifecycle.LeaveEvent
	messages []lifecycle.Message
	info     map[string]lifecycle.SessionInfo
	err      error
}

func (f *fakeSessions) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSessions) HandleJoin(_ context.Context, ev lifecycle.JoinEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("join " + ev.ChannelID)
	f.joins = append(f.joins, ev)
	return f.err
}

func (f *fakeSessions) HandleLeave(_ context.Context, ev lifecycle.LeaveEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("leave " + ev.ChannelID)
	f.leaves = append(f.leaves, ev)
	return f.err
}

func (f *fakeSessions) HandleMessage(_ context.Context, msg lifecycle.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("message " + msg.Text)
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakeSessions) Connect(_ context.Context, guildID, channelID string, occupants int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("connect %s/%s %d", guildID, channelID, occupants))
	return f.err
}

func (f *fakeSessions) Leave(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disconnect " + guildID)
	return f.err
}

func (f *fakeSessions) RemoveGuild(_ context.Context, guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove " + guildID)
}

func (f *fakeSessions) Session(guildID string) (lifecycle.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.info[guildID]
	return info, ok
}

func (f *fakeSessions) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// newTestState builds a state cache for guild "g1" with the given voice
// states. Users whose ID starts with "bot" are bot accounts.
func newTestState(t *testing.T, voice ...*discordgo.VoiceState) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	st.User = &discordgo.User{ID: "self", Username: "yomiage", Bot: true}
	for _, g := range []string{"g1", "g2"} {
		guild := &discordgo.Guild{ID: g}
		if g == "g1" {
			for _, vs := range voice {
				vs.GuildID = g
				guild.VoiceStates = append(guild.VoiceStates, vs)
			}
		}
		if err := st.GuildAdd(guild); err != nil {
			t.Fatalf("GuildAdd: %v", err)
		}
	}
	members := []*discordgo.Member{
		{User: &discordgo.User{ID: "alice", Username: "alice", GlobalName: "Alice"}, Nick: "アリス"},
		{User: &discordgo.User{ID: "bob", Username: "bob"}},
		{User: &discordgo.User{ID: "carol", Username: "carol"}},
		{User: &discordgo.User{ID: "bot-music", Username: "music", Bot: true}},
		{User: &discordgo.User{ID: "self", Username: "yomiage", Bot: true}},
	}
	for _, m := range members {
		m.GuildID = "g1"
		if err := st.MemberAdd(m); err != nil {
			t.Fatalf("MemberAdd: %v", err)
		}
	}
	return st
}

func voiceState(user, channel string) *discordgo.VoiceState {
	return &discordgo.VoiceState{UserID: user, ChannelID: channel}
}

func voiceUpdate(user, before, after string) *discordgo.VoiceStateUpdate {
	v := &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{GuildID: "g1", UserID: user, ChannelID: after}}
	if before != "" {
		v.BeforeUpdate = &discordgo.VoiceState{GuildID: "g1", UserID: user, ChannelID: before}
	}
	return v
}

func newTestBot(cfg Config) (*Bot, *fakeSessions) {
	fs := &fakeSessions{info: make(map[string]lifecycle.SessionInfo)}
	b := newBot(cfg)
	b.Bind(fs)
	return b, fs
}

func TestHandleVoiceState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   Config
		state []*discordgo.VoiceState
		ev    *discordgo.VoiceStateUpdate
		want  []string
	}{
		{
			name:  "join",
			state: []*discordgo.VoiceState{voiceState("alice", "vc1"), voiceState("bob", "vc1")},
			ev:    voiceUpdate("alice", "", "vc1"),
			want:  []string{"join vc1"},
		},
		{
			name:  "leave",
			state: []*discordgo.VoiceState{voiceState("bob", "vc1")},
			ev:    voiceUpdate("alice", "vc1", ""),
			want:  []string{"leave vc1"},
		},
		{
			name:  "move is leave then join",
			state: []*discordgo.VoiceState{voiceState("alice", "vc2")},
			ev:    voiceUpdate("alice", "vc1", "vc2"),
			want:  []string{"leave vc1", "join vc2"},
		},
		{
			name:  "mute toggle ignored",
			state: []*discordgo.VoiceState{voiceState("alice", "vc1")},
			ev:    voiceUpdate("alice", "vc1", "vc1"),
		},
		{
			name:  "bot member ignored",
			state: []*discordgo.VoiceState{voiceState("bot-music", "vc1")},
			ev:    voiceUpdate("bot-music", "", "vc1"),
		},
		{
			name: "guild outside allow list ignored",
			cfg:  Config{GuildIDs: []string{"g2"}},
			ev:   voiceUpdate("alice", "", "vc1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, fs := newTestBot(tt.cfg)
			st := newTestState(t, tt.state...)
			b.handleVoiceState(context.Background(), st, tt.ev)
			if got := fs.Calls(); !slices.Equal(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleVoiceState_Counts(t *testing.T) {
	t.Parallel()
	b, fs := newTestBot(Config{})
	// After alice moved, vc1 holds bob and a music bot; vc2 holds alice,
	// carol and the reading bot itself.
	st := newTestState(t,
		voiceState("bob", "vc1"),
		voiceState("bot-music", "vc1"),
		voiceState("alice", "vc2"),
		voiceState("carol", "vc2"),
		voiceState("self", "vc2"),
	)
	b.handleVoiceState(context.Background(), st, voiceUpdate("alice", "vc1", "vc2"))

	if len(fs.leaves) != 1 || len(fs.joins) != 1 {
		t.Fatalf("leaves=%d joins=%d, want 1 each", len(fs.leaves), len(fs.joins))
	}
	if got := fs.leaves[0].Remaining; got != 1 {
		t.Errorf("Remaining = %d, want 1 (bots excluded)", got)
	}
	if got := fs.joins[0].Occupants; got != 2 {
		t.Errorf("Occupants = %d, want 2 (self excluded)", got)
	}
	if got := fs.joins[0].DisplayName; got != "アリス" {
		t.Errorf("DisplayName = %q, want nickname", got)
	}
}

func TestHandleVoiceState_DisplayNameFallback(t *testing.T) {
	t.Parallel()
	b, fs := newTestBot(Config{})
	st := newTestState(t, voiceState("bob", "vc1"))

	ev := voiceUpdate("bob", "", "vc1")
	b.handleVoiceState(context.Background(), st, ev)

	ev = voiceUpdate("dave", "", "vc1")
	ev.Member = &discordgo.Member{User: &discordgo.User{ID: "dave", Username: "dave", GlobalName: "Dave"}}
	b.handleVoiceState(context.Background(), st, ev)

	if len(fs.joins) != 2 {
		t.Fatalf("joins = %d, want 2", len(fs.joins))
	}
	if got := fs.joins[0].DisplayName; got != "bob" {
		t.Errorf("cached member name = %q, want %q", got, "bob")
	}
	if got := fs.joins[1].DisplayName; got != "Dave" {
		t.Errorf("event member name = %q, want %q", got, "Dave")
	}
}

func TestHandleVoiceState_SelfRemoved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		info  *lifecycle.SessionInfo
		after string
		want  []string
	}{
		{
			name:  "kicked from connected session",
			info:  &lifecycle.SessionInfo{GuildID: "g1", ChannelID: "vc1", State: lifecycle.Connected},
			after: "",
			want:  []string{"disconnect g1"},
		},
		{
			name:  "moved by a moderator",
			info:  &lifecycle.SessionInfo{GuildID: "g1", ChannelID: "vc1", State: lifecycle.Connected},
			after: "vc2",
			want:  []string{"disconnect g1"},
		},
		{
			name:  "own graceful disconnect",
			info:  &lifecycle.SessionInfo{GuildID: "g1", ChannelID: "vc1", State: lifecycle.Disconnecting},
			after: "",
		},
		{
			name:  "no session",
			after: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, fs := newTestBot(Config{})
			if tt.info != nil {
				fs.info["g1"] = *tt.info
			}
			st := newTestState(t)
			b.handleVoiceState(context.Background(), st, voiceUpdate("self", "vc1", tt.after))
			if got := fs.Calls(); !slices.Equal(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	human := &discordgo.User{ID: "alice"}
	otherBot := &discordgo.User{ID: "bot-music", Bot: true}

	tests := []struct {
		name string
		cfg  Config
		msg  *discordgo.Message
		want []string
	}{
		{
			name: "guild message",
			msg:  &discordgo.Message{GuildID: "g1", Author: human, Content: "hello"},
			want: []string{"message hello"},
		},
		{
			name: "direct message ignored",
			msg:  &discordgo.Message{Author: human, Content: "hello"},
		},
		{
			name: "own message ignored",
			msg:  &discordgo.Message{GuildID: "g1", Author: &discordgo.User{ID: "self", Bot: true}, Content: "hi"},
		},
		{
			name: "bot ignored",
			msg:  &discordgo.Message{GuildID: "g1", Author: otherBot, Content: "now playing"},
		},
		{
			name: "webhook read",
			msg:  &discordgo.Message{GuildID: "g1", Author: otherBot, WebhookID: "wh", Content: "alert"},
			want: []string{"message alert"},
		},
		{
			name: "bot read when enabled",
			cfg:  Config{ReadBotMessages: true},
			msg:  &discordgo.Message{GuildID: "g1", Author: otherBot, Content: "now playing"},
			want: []string{"message now playing"},
		},
		{
			name: "guild outside allow list",
			cfg:  Config{GuildIDs: []string{"g2"}},
			msg:  &discordgo.Message{GuildID: "g1", Author: human, Content: "hello"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, fs := newTestBot(tt.cfg)
			b.handleMessage(context.Background(), newTestState(t), tt.msg)
			if got := fs.Calls(); !slices.Equal(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleMessage_Attachments(t *testing.T) {
	t.Parallel()
	b, fs := newTestBot(Config{})
	b.handleMessage(context.Background(), newTestState(t), &discordgo.Message{
		GuildID:     "g1",
		Author:      &discordgo.User{ID: "alice"},
		Content:     "見て",
		Attachments: []*discordgo.MessageAttachment{{ID: "a1"}, {ID: "a2"}},
	})
	if len(fs.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(fs.messages))
	}
	m := fs.messages[0]
	if m.Attachments != 2 || m.AuthorID != "alice" || m.GuildID != "g1" {
		t.Errorf("message = %+v", m)
	}
}

func TestHandleGuildCreate(t *testing.T) {
	t.Parallel()

	busy := []*discordgo.VoiceState{
		voiceState("alice", "vc1"),
		voiceState("bob", "vc2"),
		voiceState("carol", "vc2"),
		voiceState("bot-music", "vc1"),
	}

	tests := []struct {
		name    string
		cfg     Config
		state   []*discordgo.VoiceState
		session bool
		want    []string
	}{
		{
			name:  "joins busiest channel",
			cfg:   Config{StartupScan: true},
			state: busy,
			want:  []string{"connect g1/vc2 2"},
		},
		{
			name:  "bots do not count",
			cfg:   Config{StartupScan: true},
			state: []*discordgo.VoiceState{voiceState("bot-music", "vc1")},
		},
		{
			name:  "scan disabled",
			cfg:   Config{},
			state: busy,
		},
		{
			name:    "existing session kept",
			cfg:     Config{StartupScan: true},
			state:   busy,
			session: true,
		},
		{
			name:  "tie goes to lower channel ID",
			cfg:   Config{StartupScan: true},
			state: []*discordgo.VoiceState{voiceState("alice", "vc9"), voiceState("bob", "vc3")},
			want:  []string{"connect g1/vc3 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, fs := newTestBot(tt.cfg)
			if tt.session {
				fs.info["g1"] = lifecycle.SessionInfo{GuildID: "g1", ChannelID: "vc1"}
			}
			st := newTestState(t, tt.state...)
			b.handleGuildCreate(context.Background(), st, &discordgo.Guild{ID: "g1"})
			if got := fs.Calls(); !slices.Equal(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleGuildDelete(t *testing.T) {
	t.Parallel()
	b, fs := newTestBot(Config{})

	b.handleGuildDelete(context.Background(), &discordgo.Guild{ID: "g1", Unavailable: true})
	b.handleGuildDelete(context.Background(), &discordgo.Guild{ID: "g2"})

	if got, want := fs.Calls(), []string{"remove g2"}; !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestHandleInteraction(t *testing.T) {
	t.Parallel()

	b, _ := newTestBot(Config{GuildIDs: []string{"g1"}})
	called := 0
	b.Router().RegisterCommand("skip", &discordgo.ApplicationCommand{Name: "skip"}, func(Responder, *discordgo.InteractionCreate) {
		called++
	})

	cmd := func(guildID string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Data:    discordgo.ApplicationCommandInteractionData{Name: "skip"},
		}}
	}

	resp := &mock.InteractionResponder{}
	b.handleInteraction(resp, cmd(""))
	b.handleInteraction(resp, cmd("g2"))
	if called != 0 {
		t.Fatalf("handler called %d times for rejected interactions", called)
	}
	if len(resp.Responses) != 2 {
		t.Fatalf("responses = %d, want 2 rejections", len(resp.Responses))
	}
	for _, r := range resp.Responses {
		if r.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
			t.Error("rejection should be ephemeral")
		}
	}

	b.handleInteraction(resp, cmd("g1"))
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestBot_Allowed(t *testing.T) {
	t.Parallel()
	open := newBot(Config{})
	if !open.Allowed("anything") {
		t.Error("empty allow list should allow every guild")
	}
	scoped := newBot(Config{GuildIDs: []string{"g1"}})
	if !scoped.Allowed("g1") || scoped.Allowed("g2") {
		t.Error("allow list not applied")
	}
}

func TestBot_ReadyAndClose(t *testing.T) {
	t.Parallel()
	b := newBot(Config{})
	if b.Ready() {
		t.Fatal("new bot should not be ready")
	}
	b.onReady(nil, &discordgo.Ready{User: &discordgo.User{Username: "yomiage"}})
	if !b.Ready() {
		t.Fatal("bot should be ready after Ready event")
	}
	b.onDisconnect(nil, &discordgo.Disconnect{})
	if b.Ready() {
		t.Fatal("bot should not be ready after Disconnect")
	}
	b.onResumed(nil, &discordgo.Resumed{})
	if !b.Ready() {
		t.Fatal("bot should be ready after Resumed")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.Ready() {
		t.Error("closed bot should not be ready")
	}
	if b.ctx.Err() == nil {
		t.Error("Close should cancel the event context")
	}
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestRun_RequiresSessions(t *testing.T) {
	t.Parallel()
	b, err := New(Config{Token: "test-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(context.Background()); err == nil {
		t.Fatal("expected error when no session manager is bound")
	}
	if b.Platform() == nil || b.State() == nil {
		t.Error("Platform and State should be available before Run")
	}
}
