// Package mock provides a test double for the localtts.Engine interface.
//
// By default Speak returns immediately. Set Block to make Speak wait until
// Cancel is called or ctx is done, which simulates a long utterance.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/localtts"
)

// Engine is a mock implementation of localtts.Engine.
type Engine struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Speak.
	Err error

	// Block makes Speak wait for Cancel or ctx cancellation.
	Block bool

	// Spoken records the text of every Speak call in order.
	Spoken []string

	// CancelCount is the number of times Cancel was called.
	CancelCount int

	stop chan struct{}
}

// Speak records text and returns Err, optionally blocking first.
func (e *Engine) Speak(ctx context.Context, text string) error {
	e.mu.Lock()
	e.Spoken = append(e.Spoken, text)
	err, block := e.Err, e.Block
	stop := make(chan struct{})
	e.stop = stop
	e.mu.Unlock()

	if err != nil || !block {
		return err
	}
	select {
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel records the call and releases a blocked Speak.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CancelCount++
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Texts returns a copy of the spoken texts. Thread-safe.
func (e *Engine) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Spoken...)
}

// Cancels returns CancelCount. Thread-safe.
func (e *Engine) Cancels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CancelCount
}

var _ localtts.Engine = (*Engine)(nil)
