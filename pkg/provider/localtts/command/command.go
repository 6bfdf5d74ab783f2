// Package command provides a localtts.Engine that shells out to a speech
// synthesiser such as espeak-ng (Linux) or say (macOS).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/localtts"
)

// TextPlaceholder in an argument is replaced by the utterance. When no
// argument contains it, the text is appended as the final argument.
const TextPlaceholder = "{text}"

var _ localtts.Engine = (*Engine)(nil)

// Engine runs one subprocess per utterance.
type Engine struct {
	bin  string
	args []string

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Option configures an [Engine].
type Option func(*Engine)

// WithArgs sets the argument template passed to the binary.
func WithArgs(args ...string) Option {
	return func(e *Engine) { e.args = args }
}

// WithLanguage is a convenience for espeak-ng style "-v <lang>" voices.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		if lang != "" {
			e.args = append(e.args, "-v", lang)
		}
	}
}

// New returns an Engine running bin. An empty bin selects the platform
// default: "say" on darwin, "espeak-ng" elsewhere.
func New(bin string, opts ...Option) *Engine {
	if bin == "" {
		bin = DefaultBinary()
	}
	e := &Engine{bin: bin}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DefaultBinary returns the platform's usual speech command.
func DefaultBinary() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak-ng"
}

// Available reports whether the configured binary can be found in PATH.
func (e *Engine) Available() bool {
	_, err := exec.LookPath(e.bin)
	return err == nil
}

// Speak implements [localtts.Engine].
func (e *Engine) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	gen := e.gen
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.gen == gen {
			e.cancel = nil
		}
		e.mu.Unlock()
		cancel()
	}()

	//nolint:gosec // G204: the binary is operator configured.
	cmd := exec.CommandContext(runCtx, e.bin, e.buildArgs(text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s not found", localtts.ErrUnavailable, e.bin)
		}
		return fmt.Errorf("localtts command: %s: %w (stderr: %s)", e.bin, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Cancel implements [localtts.Engine].
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) buildArgs(text string) []string {
	out := make([]string, 0, len(e.args)+1)
	replaced := false
	for _, a := range e.args {
		if strings.Contains(a, TextPlaceholder) {
			a = strings.ReplaceAll(a, TextPlaceholder, text)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, text)
	}
	return out
}
