package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// frameSamples is the interleaved sample count of one frame.
	frameSamples = opusFrameSize * opusChannels

	// maxPacketBytes bounds one encoded packet, as recommended by libopus.
	maxPacketBytes = 4000
)

// silenceFrame is the Opus encoding of 20 ms of silence. Discord asks senders
// to emit a few of these after speaking so receivers do not interpolate.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// trailingSilence is the number of silence frames sent after each clip.
const trailingSilence = 5

// opusEncoder wraps a gopus Opus encoder for the output stream.
// It is not safe for concurrent use; a sink plays one clip at a time.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates a new Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved stereo PCM.
func (e *opusEncoder) encode(pcm []int16) ([]byte, error) {
	if len(pcm) != frameSamples {
		return nil, fmt.Errorf("discord: opus encode: got %d samples, want %d", len(pcm), frameSamples)
	}
	opus, err := e.enc.Encode(pcm, opusFrameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}

// frames splits interleaved stereo PCM into frame-sized chunks, padding the
// last one with silence.
func frames(pcm []int16) [][]int16 {
	out := make([][]int16, 0, (len(pcm)+frameSamples-1)/frameSamples)
	for off := 0; off < len(pcm); off += frameSamples {
		end := off + frameSamples
		if end <= len(pcm) {
			out = append(out, pcm[off:end])
			continue
		}
		last := make([]int16, frameSamples)
		copy(last, pcm[off:])
		out = append(out, last)
	}
	return out
}
