// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Result{Text: "hola"}}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: clip})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, replaces Result/Err.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call. Like real providers it rejects an empty
// payload with stt.ErrNoAudio before consulting Result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if verr := req.Validate(); verr != nil {
		return stt.Result{}, verr
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request and whether there was one.
func (p *Provider) LastRequest() (stt.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return stt.Request{}, false
	}
	return p.Calls[len(p.Calls)-1].Req, true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
