// Package lifecycle owns the voice sessions of the bot.
//
// A [Manager] keeps one session per voice channel, at most one per guild.
// Presence events drive each session through
//
//	Disconnected → Connecting → Connected → Disconnecting → Disconnected
//
// and chat messages are routed into the session's queue. When the last
// member leaves, the manager enqueues the farewell, waits until the
// session's playback coordinator is idle (bounded by the playback guard) and
// only then disconnects. A join during that wait cancels the departure.
//
// All exported methods are safe for concurrent use. Discord handlers may call
// them from many goroutines at once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/internal/observe"
	"github.com/jinwktk/YomiageBotAlpha/internal/playback"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/internal/textnorm"
	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// DefaultConnectTimeout bounds a voice connect.
const DefaultConnectTimeout = 10 * time.Second

// Greetings configures the join and leave announcements. Templates use
// "{name}" for the member's display name.
type Greetings struct {
	Enabled bool
	Join    string
	Leave   string
}

// Config holds the manager's settings.
type Config struct {
	// AutoJoin connects to a channel when a member joins it and the guild
	// has no session.
	AutoJoin bool

	QueueDepth int
	Overflow   queue.Policy

	Playback     playback.Config
	Greetings    Greetings
	DefaultVoice tts.VoiceParams

	ConnectTimeout time.Duration

	// LeaveWait bounds the wait for the farewell before disconnecting. Zero
	// uses the coordinator's guard (playback timeout plus grace).
	LeaveWait time.Duration
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithTransitionHook registers fn to be called on every state change. fn
// runs with the manager's lock held and must not call back into the
// Manager.
func WithTransitionHook(fn func(Transition)) Option {
	return func(mgr *Manager) { mgr.onTransition = fn }
}

// WithPlaybackOptions passes extra options to every coordinator the manager
// creates.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(mgr *Manager) { mgr.playbackOpts = append(mgr.playbackOpts, opts...) }
}

// Manager is the session registry and lifecycle state machine.
type Manager struct {
	platform     audio.Platform
	resolver     playback.Resolver
	norm         *textnorm.Normalizer
	metrics      *observe.Metrics
	onTransition func(Transition)
	playbackOpts []playback.Option

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*session // by session ID (voice channel ID)
	byGuild  map[string]string   // guild ID → session ID
	voices   map[string]tts.VoiceParams
	closed   bool
}

// New creates a Manager. resolver is shared by every session.
func New(platform audio.Platform, resolver playback.Resolver, norm *textnorm.Normalizer, cfg Config, opts ...Option) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = queue.DefaultDepth
	}
	if cfg.DefaultVoice == (tts.VoiceParams{}) {
		cfg.DefaultVoice = tts.DefaultVoice()
	}
	if norm == nil {
		norm = textnorm.New(textnorm.Options{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		platform:   platform,
		resolver:   resolver,
		norm:       norm,
		baseCtx:    ctx,
		cancelBase: cancel,
		cfg:        cfg,
		sessions:   make(map[string]*session),
		byGuild:    make(map[string]string),
		voices:     make(map[string]tts.VoiceParams),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// ─── presence events ─────────────────────────────────────────────────────────

// JoinEvent reports a member entering a voice channel.
type JoinEvent struct {
	GuildID     string
	ChannelID   string
	MemberID    string
	DisplayName string

	// Occupants is the number of non-bot members in the channel after the
	// join.
	Occupants int
}

// LeaveEvent reports a member leaving a voice channel.
type LeaveEvent struct {
	GuildID     string
	ChannelID   string
	MemberID    string
	DisplayName string

	// Remaining is the number of non-bot members still in the channel.
	Remaining int
}

// HandleJoin greets the member in the guild's session, connecting first when
// the guild has none and AutoJoin is set. The member that triggers the
// connection is greeted too. A join to a different channel of a guild that
// already has a session returns [ErrGuildBusy].
func (m *Manager) HandleJoin(ctx context.Context, ev JoinEvent) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if s := m.guildSessionLocked(ev.GuildID); s != nil {
		defer m.mu.Unlock()
		if s.channelID != ev.ChannelID || s.state == Disconnecting {
			return ErrGuildBusy
		}
		s.occupants = max(ev.Occupants, 1)
		if m.cancelDepartureLocked(s) {
			observe.Logger(ctx).Info("lifecycle: member rejoined, staying connected",
				"session_id", s.id, "member_id", ev.MemberID)
		}
		m.greetLocked(ctx, s, queue.KindJoinGreeting, ev.MemberID, ev.DisplayName)
		return nil
	}

	if !m.cfg.AutoJoin {
		m.mu.Unlock()
		return nil
	}
	s := m.openLocked(ev.GuildID, ev.ChannelID, max(ev.Occupants, 1))
	m.greetLocked(ctx, s, queue.KindJoinGreeting, ev.MemberID, ev.DisplayName)
	m.mu.Unlock()

	return m.dial(ctx, s)
}

// HandleLeave says goodbye to the member and, when the channel is left
// empty, disconnects once the farewell has played.
func (m *Manager) HandleLeave(ctx context.Context, ev LeaveEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[ev.ChannelID]
	if s == nil || s.guildID != ev.GuildID {
		return nil
	}
	s.occupants = max(ev.Remaining, 0)
	if s.state != Connected {
		// dial notices an empty channel once the connect completes.
		return nil
	}
	m.greetLocked(ctx, s, queue.KindLeaveGreeting, ev.MemberID, ev.DisplayName)
	if s.occupants == 0 {
		m.beginDepartureLocked(ctx, s)
	}
	return nil
}

// Connect opens a session in channelID without greeting anyone. It is used
// by the join command and the startup scan. Connecting to the channel the
// guild is already in is a no-op.
func (m *Manager) Connect(ctx context.Context, guildID, channelID string, occupants int) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if s := m.guildSessionLocked(guildID); s != nil {
		defer m.mu.Unlock()
		if s.channelID == channelID && s.state != Disconnecting {
			s.occupants = max(s.occupants, occupants)
			m.cancelDepartureLocked(s)
			return nil
		}
		return ErrGuildBusy
	}
	s := m.openLocked(guildID, channelID, occupants)
	m.mu.Unlock()

	return m.dial(ctx, s)
}

// Leave disconnects the guild's session immediately, interrupting any clip.
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	m.mu.Lock()
	s := m.guildSessionLocked(guildID)
	if s == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	stop := m.stopLocked(ctx, s)
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}

// RemoveGuild tears down the guild's session, if any, and forgets its voice
// settings. It is called when the bot is removed from a guild.
func (m *Manager) RemoveGuild(ctx context.Context, guildID string) {
	m.mu.Lock()
	delete(m.voices, guildID)
	var stop func()
	if s := m.guildSessionLocked(guildID); s != nil {
		stop = m.stopLocked(ctx, s)
	}
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Shutdown force-closes every session and waits for background work to
// finish or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var stops []func()
	for _, s := range m.sessions {
		if stop := m.stopLocked(ctx, s); stop != nil {
			stops = append(stops, stop)
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, stop := range stops {
		wg.Go(stop)
	}
	wg.Wait()
	m.cancelBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lifecycle: shutdown: %w", ctx.Err())
	}
}

// ─── chat ────────────────────────────────────────────────────────────────────

// Message is a chat message to be read aloud.
type Message struct {
	GuildID     string
	AuthorID    string
	Text        string
	Attachments int
}

// HandleMessage normalizes msg and enqueues it in the guild's session.
// Messages that normalize to nothing are ignored. A full queue yields an
// error wrapping [queue.ErrQueueFull].
func (m *Manager) HandleMessage(ctx context.Context, msg Message) error {
	rendered := m.norm.Normalize(msg.Text, msg.Attachments)

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.guildSessionLocked(msg.GuildID)
	if s == nil || (s.state != Connecting && s.state != Connected) {
		return ErrNoSession
	}
	if rendered == "" {
		return nil
	}
	u := queue.NewUtterance(s.id, msg.AuthorID, queue.KindChat, msg.Text, rendered, m.voiceLocked(msg.GuildID))
	return m.enqueueLocked(ctx, s, u)
}

// ─── internals ───────────────────────────────────────────────────────────────

func (m *Manager) guildSessionLocked(guildID string) *session {
	id, ok := m.byGuild[guildID]
	if !ok {
		return nil
	}
	return m.sessions[id]
}

// openLocked registers a new session in Connecting.
func (m *Manager) openLocked(guildID, channelID string, occupants int) *session {
	ctx, cancel := context.WithCancel(observe.WithSession(m.baseCtx, channelID, guildID))
	s := &session{
		id:           channelID,
		guildID:      guildID,
		channelID:    channelID,
		state:        Disconnected,
		occupants:    occupants,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		runDone:      make(chan struct{}),
	}
	s.q = queue.New(m.cfg.QueueDepth,
		queue.WithPolicy(m.cfg.Overflow),
		queue.WithDropHook(func(u queue.Utterance) {
			m.metrics.RecordQueueOverflow(ctx, u.Kind.String(), true)
			observe.Logger(ctx).Warn("lifecycle: queue full, dropped utterance",
				"utterance_id", u.ID, "kind", u.Kind.String())
		}),
	)
	m.sessions[s.id] = s
	m.byGuild[guildID] = s.id
	m.transitionLocked(s, Connecting)
	return s
}

// dial connects the sink of a Connecting session and starts its coordinator.
func (m *Manager) dial(ctx context.Context, s *session) error {
	log := observe.Logger(ctx).With("session_id", s.id, "guild_id", s.guildID)

	m.mu.Lock()
	timeout := m.cfg.ConnectTimeout
	m.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(s.ctx, timeout)
	sink, err := m.platform.Connect(connectCtx, s.guildID, s.channelID)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[s.id] != s || s.state != Connecting {
		if sink != nil {
			go func() { _ = sink.Disconnect() }()
		}
		return ErrSessionRemoved
	}
	if err != nil {
		m.transitionLocked(s, Disconnected)
		m.dropLocked(s)
		s.q.Close()
		s.cancel()
		close(s.runDone)
		log.Error("lifecycle: voice connect failed", "channel_id", s.channelID, "error", err)
		return fmt.Errorf("lifecycle: connect %s: %w", s.channelID, err)
	}

	s.sink = sink
	opts := append([]playback.Option{playback.WithMetrics(m.metrics)}, m.playbackOpts...)
	s.coord = playback.New(s.id, s.q, m.resolver, sink, m.cfg.Playback, opts...)
	m.transitionLocked(s, Connected)
	log.Info("lifecycle: connected", "channel_id", s.channelID, "occupants", s.occupants)

	m.wg.Go(func() {
		defer close(s.runDone)
		if err := s.coord.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("lifecycle: playback loop ended", "session_id", s.id, "error", err)
		}
	})

	// Everyone may have left while the connect was in flight.
	if s.occupants == 0 {
		m.beginDepartureLocked(ctx, s)
	}
	return nil
}

// greetLocked enqueues a join or leave greeting when greetings are enabled.
func (m *Manager) greetLocked(ctx context.Context, s *session, kind queue.Kind, memberID, name string) {
	g := m.cfg.Greetings
	if !g.Enabled {
		return
	}
	tmpl := g.Join
	if kind == queue.KindLeaveGreeting {
		tmpl = g.Leave
	}
	if tmpl == "" || name == "" {
		return
	}
	text := m.norm.Greeting(tmpl, name)
	u := queue.NewUtterance(s.id, memberID, kind, name, text, m.voiceLocked(s.guildID))
	if err := m.enqueueLocked(ctx, s, u); err != nil {
		observe.Logger(ctx).Warn("lifecycle: greeting not queued",
			"session_id", s.id, "kind", kind.String(), "error", err)
	}
}

func (m *Manager) enqueueLocked(ctx context.Context, s *session, u queue.Utterance) error {
	if err := s.q.Enqueue(u); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			m.metrics.RecordQueueOverflow(ctx, u.Kind.String(), false)
		}
		return fmt.Errorf("lifecycle: enqueue in %s: %w", s.id, err)
	}
	s.lastActivity = time.Now()
	return nil
}

// beginDepartureLocked starts the wait-then-disconnect sequence once.
func (m *Manager) beginDepartureLocked(ctx context.Context, s *session) {
	if s.departCancel != nil || s.coord == nil {
		return
	}
	dctx, cancel := context.WithCancel(s.ctx)
	s.departCancel = cancel
	s.departSeq++
	seq := s.departSeq
	wait := m.cfg.LeaveWait
	if wait <= 0 {
		wait = s.coord.Guard()
	}
	log := observe.Logger(ctx).With("session_id", s.id)
	log.Info("lifecycle: channel empty, leaving after playback", "max_wait", wait)

	m.wg.Go(func() {
		idle := s.coord.WaitIdle(dctx, wait)
		if dctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if s.departSeq != seq || s.state != Connected || s.occupants > 0 {
			m.mu.Unlock()
			return
		}
		s.departCancel = nil
		cancel()
		if !idle {
			log.Warn("lifecycle: playback still busy at leave deadline, disconnecting anyway")
		}
		m.transitionLocked(s, Disconnecting)
		m.mu.Unlock()

		m.teardown(s, !idle)
	})
}

// cancelDepartureLocked aborts a pending departure. It reports whether one
// was pending.
func (m *Manager) cancelDepartureLocked(s *session) bool {
	if s.departCancel == nil {
		return false
	}
	s.departCancel()
	s.departCancel = nil
	s.departSeq++
	return true
}

// stopLocked starts a forced teardown of s and returns the blocking part,
// which the caller runs after releasing the lock. It returns nil when there
// is nothing left to wait for.
func (m *Manager) stopLocked(ctx context.Context, s *session) func() {
	m.cancelDepartureLocked(s)
	switch s.state {
	case Connecting:
		m.transitionLocked(s, Disconnected)
		m.dropLocked(s)
		s.q.Close()
		s.cancel()
		return nil
	case Connected:
		observe.Logger(ctx).Info("lifecycle: disconnecting", "session_id", s.id)
		m.transitionLocked(s, Disconnecting)
		return func() { m.teardown(s, true) }
	default:
		// Already disconnecting; the departure goroutine finishes it.
		return nil
	}
}

// teardown stops playback, disconnects the sink and forgets the session.
// With force the current clip is interrupted; otherwise the coordinator is
// expected to be idle.
func (m *Manager) teardown(s *session, force bool) {
	s.q.Close()
	if force {
		s.cancel()
	}
	<-s.runDone
	s.cancel()
	if err := s.sink.Disconnect(); err != nil {
		slog.Warn("lifecycle: voice disconnect error", "session_id", s.id, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(s, Disconnected)
	m.dropLocked(s)
	slog.Info("lifecycle: disconnected", "session_id", s.id, "guild_id", s.guildID)
}

func (m *Manager) dropLocked(s *session) {
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	if m.byGuild[s.guildID] == s.id {
		delete(m.byGuild, s.guildID)
	}
}

// transitionLocked moves s to the given state, recording metrics and calling
// the hook. Invalid edges are refused and logged; it reports whether the
// state changed.
func (m *Manager) transitionLocked(s *session, to State) bool {
	from := s.state
	if !from.CanTransition(to) {
		slog.Error("lifecycle: refused state transition",
			"session_id", s.id, "error", fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to))
		return false
	}
	s.state = to
	s.lastActivity = time.Now()

	ctx := context.Background()
	m.metrics.RecordTransition(ctx, from.String(), to.String())
	switch {
	case to == Connected:
		m.metrics.ActiveSessions.Add(ctx, 1)
	case from == Connected:
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	if m.onTransition != nil {
		m.onTransition(Transition{
			SessionID: s.id,
			GuildID:   s.guildID,
			ChannelID: s.channelID,
			From:      from,
			To:        to,
			At:        s.lastActivity,
		})
	}
	return true
}
