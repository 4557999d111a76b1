package discord

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// Sink plays clips into one discordgo voice connection. At most one clip is
// in flight; starting another stops the previous one first.
//
// Sink is safe for concurrent use.
type Sink struct {
	send chan<- []byte
	enc  *opusEncoder

	// speaking and disconnectVC default to the voice connection's methods;
	// overridden in tests.
	speaking     func(bool) error
	disconnectVC func() error

	// playMu serialises Play so only one goroutine ever uses enc.
	playMu sync.Mutex

	mu       sync.Mutex
	next     audio.Handle
	current  audio.Handle
	stop     context.CancelFunc
	finished chan struct{}
	closed   bool

	closeOnce sync.Once
}

func newSink(vc *discordgo.VoiceConnection) (*Sink, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &Sink{
		send:         vc.OpusSend,
		enc:          enc,
		speaking:     vc.Speaking,
		disconnectVC: vc.Disconnect,
	}, nil
}

// Play decodes clip and starts sending it. It returns once the clip is
// decoded; playback continues in the background.
func (s *Sink) Play(ctx context.Context, clip []byte) (audio.Handle, error) {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	if s.isClosed() {
		return 0, audio.ErrSinkClosed
	}
	pcm, err := audio.DecodeStereo(clip, opusSampleRate)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrSinkClosed
	}
	s.next++
	h := s.next
	playCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.current, s.stop, s.finished = h, cancel, done

	go s.play(playCtx, cancel, h, frames(pcm), done)
	return h, nil
}

// IsPlaying reports whether h is the clip currently being sent.
func (s *Sink) IsPlaying(h audio.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h != 0 && h == s.current
}

// Stop interrupts the current clip and waits for its sender to exit.
func (s *Sink) Stop() {
	s.mu.Lock()
	cancel, done := s.stop, s.finished
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Disconnect stops playback and leaves the voice channel. Subsequent calls
// return nil.
func (s *Sink) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.Stop()
		if s.disconnectVC != nil {
			err = s.disconnectVC()
		}
	})
	return err
}

func (s *Sink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) play(ctx context.Context, cancel context.CancelFunc, h audio.Handle, pcm [][]int16, done chan struct{}) {
	defer close(done)
	defer s.finish(h)
	defer cancel()

	s.setSpeaking(true)
	defer s.setSpeaking(false)

	for _, frame := range pcm {
		packet, err := s.enc.encode(frame)
		if err != nil {
			slog.Warn("discord: opus encode error", "handle", h, "error", err)
			return
		}
		if !s.sendPacket(ctx, packet) {
			return
		}
	}
	for range trailingSilence {
		if !s.sendPacket(ctx, silenceFrame) {
			return
		}
	}
}

func (s *Sink) sendPacket(ctx context.Context, packet []byte) bool {
	select {
	case s.send <- packet:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish clears the playing state if h is still the current clip.
func (s *Sink) finish(h audio.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == h {
		s.current = 0
		s.stop = nil
		s.finished = nil
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (s *Sink) setSpeaking(b bool) {
	if s.speaking == nil {
		return
	}
	if err := s.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
