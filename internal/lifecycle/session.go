package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/internal/playback"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// session is one voice channel the bot is in (or joining). Fields other than
// the immutable IDs are guarded by Manager.mu.
type session struct {
	id        string
	guildID   string
	channelID string

	state        State
	occupants    int
	lastActivity time.Time

	q     *queue.Queue
	coord *playback.Coordinator
	sink  audio.Sink

	// ctx is cancelled on teardown; it bounds the connect, the playback
	// loop and any pending departure.
	ctx     context.Context
	cancel  context.CancelFunc
	runDone chan struct{}

	departCancel context.CancelFunc
	departSeq    uint64
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	SessionID      string
	GuildID        string
	ChannelID      string
	State          State
	Occupants      int
	LastActivityAt time.Time

	Queued  int
	Busy    bool
	Leaving bool
}

func (s *session) infoLocked() SessionInfo {
	info := SessionInfo{
		SessionID:      s.id,
		GuildID:        s.guildID,
		ChannelID:      s.channelID,
		State:          s.state,
		Occupants:      s.occupants,
		LastActivityAt: s.lastActivity,
		Queued:         s.q.Len(),
		Leaving:        s.departCancel != nil,
	}
	if s.coord != nil {
		info.Busy = s.coord.IsBusy()
	}
	return info
}

// Session returns a snapshot of the guild's session.
func (m *Manager) Session(guildID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.guildSessionLocked(guildID)
	if s == nil {
		return SessionInfo{}, false
	}
	return s.infoLocked(), true
}

// Sessions returns snapshots of every session, ordered by guild ID.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.infoLocked())
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.GuildID, b.GuildID) })
	return out
}

// connectedLocked returns the guild's session if it is Connected.
func (m *Manager) connectedLocked(guildID string) (*session, error) {
	s := m.guildSessionLocked(guildID)
	if s == nil || s.state != Connected {
		return nil, ErrNoSession
	}
	return s, nil
}

// ─── commands ────────────────────────────────────────────────────────────────

// Say enqueues text in the guild's session as if it were a chat line from
// memberID. It backs the test command.
func (m *Manager) Say(ctx context.Context, guildID, memberID, text string) error {
	rendered := m.norm.Normalize(text, 0)
	if rendered == "" {
		return fmt.Errorf("lifecycle: nothing to say in %q", text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.connectedLocked(guildID)
	if err != nil {
		return err
	}
	u := queue.NewUtterance(s.id, memberID, queue.KindChat, text, rendered, m.voiceLocked(guildID))
	return m.enqueueLocked(ctx, s, u)
}

// Skip stops the clip playing in the guild. It reports whether one was
// playing.
func (m *Manager) Skip(guildID string) (bool, error) {
	m.mu.Lock()
	s, err := m.connectedLocked(guildID)
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.coord.Skip(), nil
}

// QueueView is what the queue command shows.
type QueueView struct {
	Current *queue.Utterance
	Next    []queue.Utterance
	Total   int
}

// Queue returns the utterance in progress and up to n queued ones.
func (m *Manager) Queue(guildID string, n int) (QueueView, error) {
	m.mu.Lock()
	s, err := m.connectedLocked(guildID)
	m.mu.Unlock()
	if err != nil {
		return QueueView{}, err
	}
	v := QueueView{Next: s.q.Snapshot(n), Total: s.q.Len()}
	if cur, ok := s.coord.Current(); ok {
		v.Current = &cur
	}
	return v, nil
}

// Clear discards every queued utterance in the guild, greetings included.
// The clip in progress keeps playing.
func (m *Manager) Clear(guildID string) (int, error) {
	m.mu.Lock()
	s, err := m.connectedLocked(guildID)
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.q.Clear(), nil
}

// ─── voice settings ──────────────────────────────────────────────────────────

// Voice returns the voice used for new utterances in the guild.
func (m *Manager) Voice(guildID string) tts.VoiceParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiceLocked(guildID)
}

// SetVoice replaces the guild's voice after validating it. Utterances that
// are already queued keep the voice they were created with.
func (m *Manager) SetVoice(guildID string, v tts.VoiceParams) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("lifecycle: invalid voice: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices[guildID] = v
	return nil
}

// ResetVoice drops the guild's override so the default applies again.
func (m *Manager) ResetVoice(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.voices, guildID)
}

func (m *Manager) voiceLocked(guildID string) tts.VoiceParams {
	if v, ok := m.voices[guildID]; ok {
		return v
	}
	return m.cfg.DefaultVoice
}

// ─── reload ──────────────────────────────────────────────────────────────────

// Reloadable is the part of [Config] that can change at runtime.
type Reloadable struct {
	Greetings    Greetings
	DefaultVoice tts.VoiceParams
	Overflow     queue.Policy
}

// Reload applies new greeting templates, default voice and overflow policy.
// The policy takes effect on existing queues immediately.
func (m *Manager) Reload(r Reloadable) error {
	if err := r.DefaultVoice.Validate(); err != nil {
		return fmt.Errorf("lifecycle: reload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Greetings = r.Greetings
	m.cfg.DefaultVoice = r.DefaultVoice
	m.cfg.Overflow = r.Overflow
	for _, s := range m.sessions {
		s.q.SetPolicy(r.Overflow)
	}
	return nil
}
