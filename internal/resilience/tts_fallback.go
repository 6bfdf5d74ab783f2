package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrNoVoiceList is returned by [TTSFallback.ListVoices] when no provider in
// the chain can enumerate voices.
var ErrNoVoiceList = errors.New("resilience: no provider lists voices")

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// synthesis backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize renders req on the first healthy provider. A 2xx answer that is
// not audio counts as that provider's failure.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (tts.Result, error) {
		res, err := p.Synthesize(ctx, req)
		if err != nil {
			return tts.Result{}, err
		}
		if err := res.Validate(); err != nil {
			return tts.Result{}, err
		}
		return res, nil
	})
}

// ListVoices returns the voices of the first provider that can list them and
// whose circuit is not open. Listing does not count towards breaker state.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var errs []error
	for i := range f.group.entries {
		e := &f.group.entries[i]
		vl, ok := e.value.(tts.VoiceLister)
		if !ok || e.breaker.State() == StateOpen {
			continue
		}
		voices, err := vl.ListVoices(ctx)
		if err == nil {
			return voices, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	if len(errs) == 0 {
		return nil, ErrNoVoiceList
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
