// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library.
//
// The platform requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Platform.Connect] joins the specified voice channel
// and returns a [Sink] that decodes WAV clips, resamples them to 48 kHz
// stereo, encodes 20 ms Opus frames and feeds them to the voice connection.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// joinFunc joins a voice channel. It matches the shape of
// (*discordgo.Session).ChannelVoiceJoin with the mute/deaf flags fixed.
type joinFunc func(guildID, channelID string) (*discordgo.VoiceConnection, error)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	join    joinFunc
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		join: func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
			// mute=false (we send audio), deaf=true (nothing listens to input).
			return session.ChannelVoiceJoin(guildID, channelID, false, true)
		},
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins channelID in guildID and returns a [Sink] for it. discordgo
// does not accept a context for the join, so when ctx ends first the join is
// left to finish in the background and its connection is torn down.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Sink, error) {
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := p.join(guildID, channelID)
		ch <- joinResult{vc: vc, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		sink, err := newSink(r.vc)
		if err != nil {
			_ = r.vc.Disconnect()
			return nil, fmt.Errorf("discord: create sink: %w", err)
		}
		return sink, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
}
