// Package audio defines the output side of a voice session: a [Platform]
// that joins a voice channel and the [Sink] it returns, which plays complete
// audio clips one at a time.
//
// The sink contract is deliberately small. Callers hand over an encoded clip
// (WAV bytes as returned by a synthesis backend), receive a [Handle], and poll
// [Sink.IsPlaying] until the clip is done. Nothing here queues: ordering is
// the caller's concern.
//
// Implementations:
//   - [github.com/jinwktk/YomiageBotAlpha/pkg/audio/discord] over discordgo voice
//   - [github.com/jinwktk/YomiageBotAlpha/pkg/audio/mock] for tests
package audio

import (
	"context"
	"errors"
)

// ErrSinkClosed is returned by [Sink.Play] after [Sink.Disconnect].
var ErrSinkClosed = errors.New("audio: sink closed")

// Handle identifies one clip handed to [Sink.Play]. Handles are unique per
// sink and never reused; the zero Handle never refers to a clip.
type Handle uint64

// Platform connects to voice channels.
type Platform interface {
	// Connect joins channelID in guildID. ctx bounds the connection setup
	// only; the returned Sink lives until Disconnect is called.
	Connect(ctx context.Context, guildID, channelID string) (Sink, error)
}

// Sink plays audio clips into one connected voice channel.
//
// A sink is used by exactly one playback loop but Stop and IsPlaying may be
// called from other goroutines.
type Sink interface {
	// Play starts playing clip and returns immediately. A clip that is still
	// playing is stopped first. ctx bounds the decode step, not playback.
	Play(ctx context.Context, clip []byte) (Handle, error)

	// IsPlaying reports whether the clip identified by h is still playing.
	IsPlaying(h Handle) bool

	// Stop interrupts the current clip, if any.
	Stop()

	// Disconnect leaves the voice channel. It is safe to call more than once.
	Disconnect() error
}
