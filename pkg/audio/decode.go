package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// ErrUnsupportedFormat is returned by [Decode] for MIME types it cannot decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// resampleQuality is the beep resampler quality (1–64). 4 is beep's
// recommended speed/quality trade-off for speech.
const resampleQuality = 4

// Clip is an encoded audio payload as returned by a synthesis provider or
// uploaded by a client. MIMEType identifies the encoding.
type Clip struct {
	Data     []byte
	MIMEType string
}

// MediaType returns the lower-cased MIME type without parameters.
func (c Clip) MediaType() string {
	mt, _, err := mime.ParseMediaType(c.MIMEType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(c.MIMEType))
	}
	return mt
}

// IsAudio reports whether the clip carries a non-empty audio/* payload.
func (c Clip) IsAudio() bool {
	return len(c.Data) > 0 && strings.HasPrefix(c.MediaType(), "audio/")
}

// Buffer is decoded mono PCM16 audio ready for playback.
type Buffer struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return SamplesDuration(len(b.Samples), b.SampleRate)
}

// Chunks splits the buffer into consecutive slices of at most n samples. The
// slices share the buffer's backing array.
func (b *Buffer) Chunks(n int) [][]int16 {
	if n <= 0 || len(b.Samples) == 0 {
		return nil
	}
	out := make([][]int16, 0, (len(b.Samples)+n-1)/n)
	for off := 0; off < len(b.Samples); off += n {
		end := min(off+n, len(b.Samples))
		out = append(out, b.Samples[off:end])
	}
	return out
}

// Decode decodes clip into mono PCM16 at targetRate.
//
// Supported types: audio/wav (and aliases), audio/mpeg, and raw little-endian
// PCM as audio/pcm or audio/L16 (sample rate from the "rate" parameter,
// defaulting to targetRate). Multi-channel input is averaged to mono.
func Decode(clip Clip, targetRate int) (*Buffer, error) {
	if len(clip.Data) == 0 {
		return nil, errors.New("audio: decode: empty clip")
	}
	if targetRate <= 0 {
		return nil, fmt.Errorf("audio: decode: invalid target rate %d", targetRate)
	}

	mt, params, err := mime.ParseMediaType(clip.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, clip.MIMEType)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		stream, format, err = wav.Decode(bytes.NewReader(clip.Data))
	case "audio/mpeg", "audio/mp3":
		stream, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
	case "audio/pcm", "audio/l16":
		return decodeRawPCM(clip.Data, params, targetRate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mt)
	}
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", mt, err)
	}
	defer stream.Close()

	var s beep.Streamer = stream
	if int(format.SampleRate) != targetRate {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(targetRate), s)
	}

	samples, err := drainStreamer(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", mt, err)
	}
	return &Buffer{Samples: samples, SampleRate: targetRate}, nil
}

// drainStreamer reads s to completion and folds its stereo output to mono.
func drainStreamer(s beep.Streamer) ([]int16, error) {
	var out []int16
	block := make([][2]float64, 512)
	for {
		n, ok := s.Stream(block)
		for i := range n {
			out = append(out, FloatToPCM16(float32((block[i][0]+block[i][1])/2)))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeRawPCM handles headerless PCM16LE payloads.
func decodeRawPCM(data []byte, params map[string]string, targetRate int) (*Buffer, error) {
	rate := targetRate
	if r, ok := params["rate"]; ok {
		v, err := strconv.Atoi(r)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("audio: decode pcm: invalid rate %q", r)
		}
		rate = v
	}
	samples := DecodePCM16LE(data)
	if ch := params["channels"]; ch == "2" {
		samples = StereoToMono(samples)
	}
	return &Buffer{
		Samples:    ResampleMono(samples, rate, targetRate),
		SampleRate: targetRate,
	}, nil
}

// EncodeWAV wraps mono PCM16 samples in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataLen := len(samples) * 2
	byteRate := sampleRate * channels * bitsPerSample / 8

	var b bytes.Buffer
	b.Grow(44 + dataLen)
	b.WriteString("RIFF")
	writeLE32(&b, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	writeLE32(&b, 16)
	writeLE16(&b, 1) // PCM
	writeLE16(&b, channels)
	writeLE32(&b, uint32(sampleRate))
	writeLE32(&b, uint32(byteRate))
	writeLE16(&b, channels*bitsPerSample/8)
	writeLE16(&b, bitsPerSample)
	b.WriteString("data")
	writeLE32(&b, uint32(dataLen))
	b.Write(EncodePCM16LE(samples))
	return b.Bytes()
}

func writeLE16(b *bytes.Buffer, v uint16) {
	b.WriteByte(byte(v))
	b.WriteByte(byte(v >> 8))
}

func writeLE32(b *bytes.Buffer, v uint32) {
	b.WriteByte(byte(v))
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v >> 16))
	b.WriteByte(byte(v >> 24))
}
