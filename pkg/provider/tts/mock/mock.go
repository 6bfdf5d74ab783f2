// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: mock.WAVResult(200*time.Millisecond, 16000)}
//	res, err := p.Synthesize(ctx, tts.Request{Text: "Hola"})
package mock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize when Err is nil.
	Result tts.Result

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeFunc, if set, replaces Result/Err. Use it to block until ctx
	// is cancelled or to vary results per text.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (tts.Result, error)

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err or the SynthesizeFunc result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// CallCount returns the number of Synthesize calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the text of every Synthesize call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// WAVResult returns a valid audio/wav result of silence lasting d at rate Hz.
func WAVResult(d time.Duration, rate int) tts.Result {
	n := int(int64(d) * int64(rate) / int64(time.Second))
	return tts.Result{
		Audio:    audio.EncodeWAV(make([]int16, n), rate),
		MIMEType: "audio/wav",
	}
}

// PCMResult returns an audio/L16 result of silence lasting d at rate Hz.
// Decoding it needs no container parsing.
func PCMResult(d time.Duration, rate int) tts.Result {
	n := int(int64(d) * int64(rate) / int64(time.Second))
	return tts.Result{
		Audio:    audio.EncodePCM16LE(make([]int16, n)),
		MIMEType: "audio/L16; rate=" + strconv.Itoa(rate),
	}
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
