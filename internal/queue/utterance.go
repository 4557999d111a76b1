package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Kind distinguishes chat lines from greetings.
type Kind int

const (
	KindChat Kind = iota
	KindJoinGreeting
	KindLeaveGreeting
)

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoinGreeting:
		return "join_greeting"
	case KindLeaveGreeting:
		return "leave_greeting"
	default:
		return "unknown"
	}
}

// IsGreeting reports whether k is a join or leave greeting.
func (k Kind) IsGreeting() bool { return k == KindJoinGreeting || k == KindLeaveGreeting }

// Utterance is one request to speak. It is immutable once created.
type Utterance struct {
	ID        string
	SessionID string
	MemberID  string

	// SourceText is the raw chat text or member name; RenderedText is what
	// is sent to the synthesis backend.
	SourceText   string
	RenderedText string

	Voice      tts.VoiceParams
	Kind       Kind
	EnqueuedAt time.Time
}

// NewUtterance stamps a fresh ID and enqueue time.
func NewUtterance(sessionID, memberID string, kind Kind, source, rendered string, voice tts.VoiceParams) Utterance {
	return Utterance{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		MemberID:     memberID,
		SourceText:   source,
		RenderedText: rendered,
		Voice:        voice,
		Kind:         kind,
		EnqueuedAt:   time.Now(),
	}
}
