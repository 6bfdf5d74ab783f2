// Package audio holds the PCM primitives shared by every stage of a practice
// conversation: fixed-size capture frames, sample conversion, encoded clip
// decoding and resampling.
//
// Samples are signed 16-bit mono throughout. Encoded payloads returned by
// synthesis providers travel as [Clip] values until they are decoded into a
// [Buffer] for playback.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// AudioFrame is a fixed-length block of signed 16-bit mono samples emitted by
// a [Capturer]. A frame is immutable once emitted; the receiver owns it.
type AudioFrame struct {
	// Samples holds exactly the capturer's buffer size worth of PCM samples.
	Samples []int16

	// SampleRate in Hz of the captured stream (e.g., 16000, 48000).
	SampleRate int

	// Seq is the zero-based emission index of this frame within its stream.
	Seq uint64

	// Timestamp marks the start of this frame relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// Bytes returns the frame as little-endian PCM16 bytes.
func (f AudioFrame) Bytes() []byte {
	return EncodePCM16LE(f.Samples)
}

// SamplesDuration converts a mono sample count at rate Hz to a duration.
// Returns zero for a non-positive rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// EncodePCM16LE serialises samples as little-endian 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples, the wire
// format browsers produce from an AudioWorklet. Trailing bytes that do not
// form a complete sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
