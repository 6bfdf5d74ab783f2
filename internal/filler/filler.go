// Package filler masks the latency of remote calls with short pre-synthesised
// utterances ("Hmm...", "Let me think").
//
// A [Bank] synthesises and decodes the phrases once and is shared read-only
// by every session. Each session owns a [Player] that plays one random bank
// entry at a time.
package filler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// maxConcurrentSynth bounds parallel synthesis requests during Init.
const maxConcurrentSynth = 4

// DefaultPhrases are used when a bank is configured without phrases.
var DefaultPhrases = []string{"Hmm...", "Let me think.", "Okay...", "Right..."}

// BankConfig configures a [Bank].
type BankConfig struct {
	Provider   tts.Provider
	Phrases    []string
	Voice      string
	Language   string
	SampleRate int

	// SynthesisTimeout bounds each phrase's synthesis.
	// Default: [playback.DefaultSynthesisTimeout].
	SynthesisTimeout time.Duration
}

// Bank holds decoded filler buffers. Readers never wait for Init: until it
// publishes its buffers the bank is simply not ready.
type Bank struct {
	cfg BankConfig

	// initMu serialises Init calls.
	initMu sync.Mutex

	mu      sync.RWMutex
	ready   bool
	buffers []*audio.Buffer
}

// NewBank returns an uninitialised bank. Non-positive SampleRate and
// SynthesisTimeout select the playback defaults.
func NewBank(cfg BankConfig) *Bank {
	if len(cfg.Phrases) == 0 {
		cfg.Phrases = DefaultPhrases
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = playback.DefaultSampleRate
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = playback.DefaultSynthesisTimeout
	}
	return &Bank{cfg: cfg}
}

// Init synthesises and decodes every phrase concurrently. Phrases that fail
// are logged and skipped. Init runs once; later calls return nil without
// doing anything. It returns an error only if ctx ends first.
func (b *Bank) Init(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	if b.Ready() {
		return nil
	}

	results := make([]*audio.Buffer, len(b.cfg.Phrases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSynth)
	for i, phrase := range b.cfg.Phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		g.Go(func() error {
			buf, err := b.synth(gctx, phrase)
			if err != nil {
				slog.Warn("filler phrase skipped", "phrase", phrase, "error", err)
				return nil
			}
			results[i] = buf
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("filler: init: %w", err)
	}

	var buffers []*audio.Buffer
	for _, buf := range results {
		if buf != nil && len(buf.Samples) > 0 {
			buffers = append(buffers, buf)
		}
	}

	b.mu.Lock()
	b.buffers = buffers
	b.ready = true
	b.mu.Unlock()
	slog.Info("filler bank ready", "phrases", len(b.cfg.Phrases), "decoded", len(buffers))
	return nil
}

func (b *Bank) synth(ctx context.Context, phrase string) (*audio.Buffer, error) {
	if b.cfg.Provider == nil {
		return nil, errors.New("no tts provider")
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SynthesisTimeout)
	defer cancel()
	res, err := b.cfg.Provider.Synthesize(ctx, tts.Request{Text: phrase, Voice: b.cfg.Voice, Language: b.cfg.Language})
	if err != nil {
		return nil, err
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return audio.Decode(res.Clip(), b.cfg.SampleRate)
}

// Ready reports whether Init has completed.
func (b *Bank) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Len returns the number of usable buffers.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buffers)
}

// pick returns a uniformly random buffer, or nil when the bank is not ready
// or empty.
func (b *Bank) pick(intn func(int) int) *audio.Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready || len(b.buffers) == 0 {
		return nil
	}
	return b.buffers[intn(len(b.buffers))]
}

// Option configures a [Player].
type Option func(*Player)

// WithRand replaces the random index source. Used by tests.
func WithRand(intn func(int) int) Option {
	return func(p *Player) { p.intn = intn }
}

// WithMetrics records filler plays.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player plays bank entries one at a time. All methods are safe for
// concurrent use.
type Player struct {
	bank    *Bank
	sink    playback.Sink
	intn    func(int) int
	metrics *observe.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer returns a Player rendering bank entries to sink.
func NewPlayer(bank *Bank, sink playback.Sink, opts ...Option) *Player {
	p := &Player{bank: bank, sink: sink, intn: rand.IntN}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlayRandom starts one random filler in the background. It is a no-op,
// returning false, when the bank is not initialised or empty, or a filler is
// already playing.
func (p *Player) PlayRandom() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return false
	}
	buf := p.bank.pick(p.intn)
	if buf == nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	if p.metrics != nil {
		p.metrics.FillerPlays.Add(ctx, 1)
	}

	go func() {
		if err := p.sink.Play(ctx, buf); err != nil && ctx.Err() == nil {
			slog.Debug("filler playback failed", "error", err)
		}
		cancel()
		close(done)

		p.mu.Lock()
		if p.done == done {
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
	}()
	return true
}

// Playing reports whether a filler is currently playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// Stop halts the current filler and waits for it to wind down. It is
// idempotent and safe to call when nothing plays.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return
	}
	p.cancel()
	if f, ok := p.sink.(playback.Flusher); ok {
		f.Flush()
	}
	<-p.done
	p.cancel, p.done = nil, nil
}
