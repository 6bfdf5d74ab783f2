// Package localtts defines the Engine interface for on-device speech
// synthesis. A local engine is the fallback voice used when the remote TTS
// provider fails: it needs no network and speaks directly on the host (or,
// for server deployments, renders audio that the caller forwards itself).
package localtts

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Speak when the engine cannot run on this host
// (binary missing, no audio device).
var ErrUnavailable = errors.New("localtts: engine unavailable")

// Engine speaks text locally.
//
// Speak blocks until the utterance finished, ctx is cancelled, or Cancel is
// called; cancellation is not an error and returns ctx.Err() or nil.
// Implementations must be safe for concurrent use; a new Speak while another
// is in progress cancels the earlier one.
type Engine interface {
	Speak(ctx context.Context, text string) error

	// Cancel stops any utterance in progress. It is idempotent and safe to
	// call when nothing is speaking.
	Cancel()
}
