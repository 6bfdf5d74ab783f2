// Package stt defines the Provider interface for the speech recognition
// service that turns a learner's utterance into text.
//
// Recognition is request/response: the conversation driver submits one
// complete utterance (or the proxy route forwards one uploaded recording) and
// receives the final transcript. An empty transcript is a valid result and
// means nothing intelligible was said.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"mime"
	"strconv"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrNoAudio is returned when a request carries no audio payload.
var ErrNoAudio = errors.New("stt: no audio")

// Request describes one utterance to transcribe.
type Request struct {
	// Audio is the encoded recording (audio/wav, audio/webm, audio/L16, ...).
	Audio audio.Clip

	// Language is the expected spoken language as an ISO-639-1 code. Empty
	// lets the provider auto-detect.
	Language string

	// Keywords are lesson vocabulary terms the recogniser should favour.
	// Providers without keyword boosting pass them as a prompt hint.
	Keywords []string
}

// Validate returns [ErrNoAudio] for an empty payload.
func (r Request) Validate() error {
	if len(r.Audio.Data) == 0 {
		return ErrNoAudio
	}
	return nil
}

// Result is the final transcript of one utterance.
type Result struct {
	// Text is the recognised text, trimmed. Empty when nothing was recognised.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Confidence in [0, 1], or 0 if the provider does not report it.
	Confidence float64

	// Duration is the length of the processed audio, when reported.
	Duration time.Duration
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Transcribe recognises req.Audio. It returns [ErrNoAudio] (possibly
	// wrapped) for an empty payload without contacting the backend.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Filename returns an upload filename whose extension matches the clip's
// MIME type. Multipart endpoints sniff the container from it.
func Filename(c audio.Clip) string {
	switch c.MediaType() {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return "audio.wav"
	case "audio/webm":
		return "audio.webm"
	case "audio/ogg", "audio/opus":
		return "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/flac":
		return "audio.flac"
	default:
		return "audio.bin"
	}
}

// AsUploadable converts raw PCM clips (audio/L16, audio/pcm) into WAV so
// that services accepting only container formats can read them. Other clips
// are returned unchanged.
func AsUploadable(c audio.Clip) (audio.Clip, error) {
	switch c.MediaType() {
	case "audio/l16", "audio/pcm":
		buf, err := audio.Decode(c, sampleRateOf(c))
		if err != nil {
			return audio.Clip{}, err
		}
		return audio.Clip{Data: audio.EncodeWAV(buf.Samples, buf.SampleRate), MIMEType: "audio/wav"}, nil
	default:
		return c, nil
	}
}

// sampleRateOf reads the rate parameter of a raw PCM clip, defaulting to
// [audio.DefaultCaptureRate].
func sampleRateOf(c audio.Clip) int {
	_, params, err := mime.ParseMediaType(c.MIMEType)
	if err != nil {
		return audio.DefaultCaptureRate
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return audio.DefaultCaptureRate
}
