// Package playback implements the reply voice of a conversation: a player
// that keeps at most one utterance alive, synthesises text through a remote
// TTS provider with a deadline, degrades to a local speech engine when the
// provider fails, and can be interrupted by the learner (barge-in).
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/localtts"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Defaults for [Config].
const (
	DefaultSynthesisTimeout = 10 * time.Second
	DefaultSampleRate       = 24000
)

// ErrTimedOut is returned when the remote synthesis call exceeds its deadline
// and no local engine could speak the text instead.
var ErrTimedOut = errors.New("playback: synthesis timed out")

// ErrInterrupted is returned by [Player.Speak] when the utterance was cut
// short by [Player.TriggerBargeIn].
var ErrInterrupted = errors.New("playback: interrupted by barge-in")

// Config configures a [Player].
type Config struct {
	// Provider is the remote synthesiser. Required.
	Provider tts.Provider

	// ProviderName labels metrics and logs. Default: "tts".
	ProviderName string

	// Sink renders decoded audio. Required.
	Sink Sink

	// Local speaks text when the remote path fails. May be nil.
	Local localtts.Engine

	// SampleRate is the rate remote audio is decoded to before it reaches
	// the sink. Default: 24000.
	SampleRate int

	// Voice and Language are forwarded with every synthesis request.
	Voice    string
	Language string

	// SynthesisTimeout bounds each remote call. Default: 10s.
	SynthesisTimeout time.Duration

	// OnBargeIn runs after [Player.TriggerBargeIn] has stopped playback.
	OnBargeIn func()

	// OnSpeaking is notified when the speaking state flips. It runs with the
	// player's lock held and must not call back into the player.
	OnSpeaking func(speaking bool)

	// Metrics records synthesis latency and fallback use. May be nil.
	Metrics *observe.Metrics
}

// handle is a live utterance: either remote audio on the sink or local
// speech. Cancelling it stops the utterance; done is closed once the
// goroutine rendering it has returned.
type handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	local    bool
	bargedIn bool
}

// Player serialises utterances so that at most one plays at a time. A new
// [Player.Speak] supersedes whatever is playing or still being synthesised;
// there is no queue.
//
// All methods are safe for concurrent use.
type Player struct {
	cfg Config

	mu       sync.Mutex
	gen      uint64
	cur      *handle
	speaking bool
}

// New creates a Player. It returns an error if a required collaborator is
// missing.
func New(cfg Config) (*Player, error) {
	if cfg.Provider == nil {
		return nil, errors.New("playback: provider is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("playback: sink is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "tts"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}
	return &Player{cfg: cfg}, nil
}

// Speaking reports whether an utterance is currently playing.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Speak synthesises text and plays it, blocking until the utterance ends:
// naturally, through [Player.Stop] or barge-in, or because a later Speak
// superseded it. Empty text is a no-op and never reaches the provider.
// An utterance cut short by barge-in yields [ErrInterrupted].
//
// If the remote path fails (error, deadline, non-audio payload, undecodable
// audio) the text is spoken by the local engine instead. Speak returns an
// error only when nothing could be spoken; a timed-out synthesis without a
// usable local engine yields [ErrTimedOut].
func (p *Player) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.teardownLocked()
	p.mu.Unlock()

	buf, remoteErr := p.synthesise(ctx, text)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if remoteErr == nil {
		h, playCtx, ok := p.start(ctx, gen, false)
		if !ok {
			return nil
		}
		err := p.cfg.Sink.Play(playCtx, buf)
		p.finish(h)
		if h.bargedIn {
			return ErrInterrupted
		}
		if err != nil && playCtx.Err() == nil {
			return fmt.Errorf("playback: sink: %w", err)
		}
		return nil
	}

	reason := "provider_error"
	if errors.Is(remoteErr, ErrTimedOut) {
		reason = "timeout"
	}
	slog.Warn("remote synthesis failed, falling back to local speech",
		"provider", p.cfg.ProviderName,
		"reason", reason,
		"error", remoteErr,
	)

	if p.cfg.Local == nil {
		return remoteErr
	}
	p.cfg.Local.Cancel()
	h, playCtx, ok := p.start(ctx, gen, true)
	if !ok {
		return nil
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordFallbackSpeech(ctx, reason)
	}
	err := p.cfg.Local.Speak(playCtx, text)
	p.finish(h)
	if h.bargedIn {
		return ErrInterrupted
	}
	if err != nil && playCtx.Err() == nil {
		return errors.Join(remoteErr, fmt.Errorf("playback: local speech: %w", err))
	}
	return nil
}

// Stop tears down the current utterance, if any. It is idempotent and always
// leaves the player not speaking. An in-flight synthesis is discarded when
// it returns.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.teardownLocked()
	if p.cfg.Local != nil {
		p.cfg.Local.Cancel()
	}
}

// TriggerBargeIn stops playback and runs the barge-in callback. It is a
// no-op when nothing is speaking, so spurious VAD triggers are harmless.
// It reports whether a barge-in happened. The interrupted Speak returns
// [ErrInterrupted].
func (p *Player) TriggerBargeIn() bool {
	p.mu.Lock()
	if !p.speaking {
		p.mu.Unlock()
		return false
	}
	p.gen++
	if p.cur != nil {
		p.cur.bargedIn = true
	}
	p.teardownLocked()
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.BargeIns.Add(context.Background(), 1)
	}
	if p.cfg.OnBargeIn != nil {
		p.cfg.OnBargeIn()
	}
	return true
}

// synthesise runs the remote call under the synthesis deadline and decodes
// the payload.
func (p *Player) synthesise(ctx context.Context, text string) (*audio.Buffer, error) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.cfg.Provider.Synthesize(sctx, tts.Request{
		Text:     text,
		Voice:    p.cfg.Voice,
		Language: p.cfg.Language,
	})
	p.observe(ctx, start, err)
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimedOut, p.cfg.SynthesisTimeout)
		}
		return nil, fmt.Errorf("playback: synthesise: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("playback: synthesise: %w", err)
	}
	buf, err := audio.Decode(res.Clip(), p.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("playback: decode: %w", err)
	}
	return buf, nil
}

func (p *Player) observe(ctx context.Context, start time.Time, err error) {
	m := p.cfg.Metrics
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, p.cfg.ProviderName, "tts")
	}
	m.RecordProviderRequest(ctx, p.cfg.ProviderName, "tts", status)
}

// start installs a new handle for generation gen. It returns false when a
// later Speak or Stop has superseded gen.
func (p *Player) start(parent context.Context, gen uint64, local bool) (*handle, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return nil, nil, false
	}
	p.teardownLocked()
	ctx, cancel := context.WithCancel(parent)
	h := &handle{cancel: cancel, done: make(chan struct{}), local: local}
	p.cur = h
	p.setSpeakingLocked(true)
	return h, ctx, true
}

// finish marks h as rendered. If h is still current the player returns to
// not speaking.
func (p *Player) finish(h *handle) {
	h.cancel()
	close(h.done)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == h {
		p.cur = nil
		p.setSpeakingLocked(false)
	}
}

// teardownLocked cancels the current handle and waits for its renderer to
// return. Must be called with p.mu held.
func (p *Player) teardownLocked() {
	h := p.cur
	if h == nil {
		return
	}
	p.cur = nil
	h.cancel()
	if h.local && p.cfg.Local != nil {
		p.cfg.Local.Cancel()
	} else if f, ok := p.cfg.Sink.(Flusher); ok {
		f.Flush()
	}
	<-h.done
	p.setSpeakingLocked(false)
}

// setSpeakingLocked updates the speaking flag. Must be called with p.mu held.
func (p *Player) setSpeakingLocked(v bool) {
	if p.speaking == v {
		return
	}
	p.speaking = v
	if p.cfg.OnSpeaking != nil {
		p.cfg.OnSpeaking(v)
	}
}
