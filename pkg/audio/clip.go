package audio

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// resampleQuality is passed to beep.Resample. Speech does not benefit from
// the higher settings, which cost noticeably more CPU per clip.
const resampleQuality = 4

// ClipInfo describes an encoded clip as read from its header.
type ClipInfo struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Probe reads the WAV header of clip without decoding the samples.
func Probe(clip []byte) (ClipInfo, error) {
	s, format, err := wav.Decode(bytes.NewReader(clip))
	if err != nil {
		return ClipInfo{}, fmt.Errorf("audio: decode wav header: %w", err)
	}
	defer s.Close()
	if format.SampleRate <= 0 {
		return ClipInfo{}, fmt.Errorf("audio: invalid sample rate %d", format.SampleRate)
	}
	return ClipInfo{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Duration:   format.SampleRate.D(s.Len()),
	}, nil
}

// Duration returns the playing time of clip, or 0 when the header cannot be
// read.
func Duration(clip []byte) time.Duration {
	info, err := Probe(clip)
	if err != nil {
		return 0
	}
	return info.Duration
}

// DecodeStereo decodes a WAV clip into interleaved stereo int16 samples at
// sampleRate. Mono input is duplicated into both channels.
func DecodeStereo(clip []byte, sampleRate int) ([]int16, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid target sample rate %d", sampleRate)
	}
	s, format, err := wav.Decode(bytes.NewReader(clip))
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	defer s.Close()
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", format.SampleRate)
	}

	target := beep.SampleRate(sampleRate)
	var src beep.Streamer = s
	if format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, s)
	}

	frames := target.N(format.SampleRate.D(s.Len()))
	out := make([]int16, 0, 2*(frames+1))
	buf := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(buf)
		for _, f := range buf[:n] {
			out = append(out, toInt16(f[0]), toInt16(f[1]))
		}
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("audio: stream wav: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("audio: clip has no samples")
	}
	return out, nil
}

func toInt16(v float64) int16 {
	v = max(-1, min(1, v))
	return int16(v * 32767)
}
