// Package tts defines the Provider interface for the remote speech synthesis
// service that voices the tutor's replies and the filler phrases.
//
// A synthesis call is request/response: one utterance in, one encoded audio
// clip out. Success is signalled by an audio/* MIME type on the result; any
// other payload (typically a JSON error body) is a failure that callers answer
// with local fallback speech.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrNotAudio is returned when a synthesis service answers with a payload
// whose MIME type is not audio/*.
var ErrNotAudio = errors.New("tts: response is not audio")

// Request describes one utterance to synthesize.
type Request struct {
	// Text is the utterance. Callers trim it and never send an empty string.
	Text string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider default.
	Voice string

	// Language is an optional BCP-47 hint for multilingual voices.
	Language string
}

// Result is an encoded audio clip returned by a provider.
type Result struct {
	Audio    []byte
	MIMEType string
}

// Clip returns the result as an [audio.Clip] ready for decoding.
func (r Result) Clip() audio.Clip {
	return audio.Clip{Data: r.Audio, MIMEType: r.MIMEType}
}

// Validate returns an error wrapping [ErrNotAudio] unless r carries a
// non-empty audio/* payload.
func (r Result) Validate() error {
	if !r.Clip().IsAudio() {
		return fmt.Errorf("%w: content-type %q, %d bytes", ErrNotAudio, r.MIMEType, len(r.Audio))
	}
	return nil
}

// Voice describes a voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier passed in [Request.Voice].
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider"`

	// Metadata holds provider-specific attributes (accent, gender, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text to an encoded audio clip. Implementations
	// return an error for transport failures and non-2xx responses; a 2xx
	// response with a non-audio content type yields [ErrNotAudio].
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}
