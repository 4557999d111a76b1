// Package audiotest provides helpers for building audio fixtures in tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// WAV returns a PCM16 little-endian RIFF/WAVE clip of the given length
// containing a quiet 440 Hz tone.
func WAV(sampleRate, channels int, length time.Duration) []byte {
	frames := int(int64(sampleRate) * int64(length) / int64(time.Second))
	pcm := make([]byte, 0, frames*channels*2)
	for i := range frames {
		v := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for range channels {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(v))
		}
	}
	return Encode(pcm, sampleRate, channels)
}

// Encode wraps raw PCM16 little-endian samples in a 44-byte WAV header.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(channels))
	_ = binary.Write(&buf, le, uint32(sampleRate))
	_ = binary.Write(&buf, le, uint32(byteRate))
	_ = binary.Write(&buf, le, uint16(blockAlign))
	_ = binary.Write(&buf, le, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
