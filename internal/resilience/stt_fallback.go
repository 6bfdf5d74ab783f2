package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// speech recognition backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for health reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe validates req once, then asks each healthy provider in turn.
// An empty transcript is a valid answer and does not fail over.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := req.Validate(); err != nil {
		return stt.Result{}, err
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}
