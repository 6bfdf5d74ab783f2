// Package app wires all parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithSummaryCache, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/filler"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/transcript/llmcorrect"
	"github.com/MrWong99/parley/internal/transcript/phonetic"
	"github.com/MrWong99/parley/internal/web"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/localtts"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Named pairs a provider with the registry name it was built from.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM      llm.Provider
	STT      stt.Provider
	TTS      tts.Provider
	LocalTTS localtts.Engine
	VAD      vad.Engine

	// Fallbacks are tried in order when the primary of the same kind fails
	// or its circuit is open.
	LLMFallbacks []Named[llm.Provider]
	STTFallbacks []Named[stt.Provider]
	TTSFallbacks []Named[tts.Provider]
}

// App owns all subsystem lifetimes of the practice server.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	metrics    *observe.Metrics
	logLevel   *slog.LevelVar
	breakers   resilience.CircuitBreakerConfig
	health     *health.Handler
	checkers   []health.Checker
	summaries  *summary.Cache
	fillers    *filler.Bank
	correctors map[config.CorrectionMode]transcript.Corrector
	sessions   *Sessions
	web        *web.Server

	mu     sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level of the default logger so a config reload
// can change it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithSummaryCache injects the summary cache instead of creating one from
// config.
func WithSummaryCache(c *summary.Cache) Option {
	return func(a *App) { a.summaries = c }
}

// WithFillerBank injects the filler bank instead of creating one from config.
func WithFillerBank(b *filler.Bank) Option {
	return func(a *App) { a.fillers = b }
}

// WithCircuitBreaker overrides the breaker settings of the fallback chains.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(a *App) { a.breakers = cfg }
}

// WithHealthChecker adds a readiness check.
func WithHealthChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). cfg must already
// have its defaults applied.
//
// New does no network I/O: the filler bank is synthesised by Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	var errs []error
	if providers.STT == nil {
		errs = append(errs, errors.New("app: providers.stt is required"))
	}
	if providers.LLM == nil {
		errs = append(errs, errors.New("app: providers.llm is required"))
	}
	if providers.TTS == nil {
		errs = append(errs, errors.New("app: providers.tts is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := *providers
	a := &App{providers: &p}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Fallback chains ───────────────────────────────────────────────
	a.initFallbacks()

	// ── 2. Transcript correctors ─────────────────────────────────────────
	a.initCorrectors()

	// ── 3. Summary cache ─────────────────────────────────────────────────
	if a.summaries == nil {
		a.summaries = summary.NewCache(cfg.Summary.CacheSize, cfg.Summary.TTL)
	}

	// ── 4. Filler bank ───────────────────────────────────────────────────
	if a.fillers == nil && !cfg.Filler.Disabled {
		a.fillers = filler.NewBank(filler.BankConfig{
			Provider:   a.providers.TTS,
			Phrases:    cfg.Filler.Phrases,
			Voice:      cfg.Playback.Voice,
			Language:   cfg.Conversation.TargetLanguage,
			SampleRate: cfg.Playback.SampleRate,

			SynthesisTimeout: cfg.Playback.SynthesisTimeout,
		})
	}

	// ── 5. Session registry ──────────────────────────────────────────────
	a.sessions = NewSessions(SessionsConfig{
		Config:     a.Config,
		Providers:  a.providers,
		Corrector:  a.corrector,
		Fillers:    a.fillers,
		Summaries:  a.summaries,
		Summariser: summary.NewLLMSummariser(a.providers.LLM),
		Metrics:    a.metrics,
	})

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.health = health.New(a.checkers...)
	var voices tts.VoiceLister
	if vl, ok := a.providers.TTS.(tts.VoiceLister); ok {
		voices = vl
	}
	srv, err := web.New(web.Config{
		STT:            a.providers.STT,
		LLM:            a.providers.LLM,
		TTS:            a.providers.TTS,
		Voices:         voices,
		Summaries:      a.summaries,
		Sessions:       a.sessions,
		Health:         a.health,
		Metrics:        a.metrics,
		Language:       cfg.Conversation.TargetLanguage,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PlaybackRate:   cfg.Playback.SampleRate,
		Chunk:          time.Duration(cfg.Playback.ChunkMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init web: %w", err)
	}
	a.web = srv

	_ = ctx // reserved for initialisation that needs I/O
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initFallbacks wraps each provider kind that has fallbacks in a circuit
// breaking chain and registers a readiness check for it.
func (a *App) initFallbacks() {
	cfg := a.Config()
	bcfg := a.breakers
	bcfg.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state changed", "provider", name, "from", from, "to", to)
	}
	fcfg := resilience.FallbackConfig{CircuitBreaker: bcfg}

	if fbs := a.providers.LLMFallbacks; len(fbs) > 0 {
		chain := resilience.NewLLMFallback(a.providers.LLM, cfg.Providers.LLM.Name, fcfg)
		for _, fb := range fbs {
			chain.AddFallback(fb.Name, fb.Provider)
		}
		a.providers.LLM = chain
		a.checkers = append(a.checkers, health.Func("llm", chain.Group().Healthy, "every llm circuit is open"))
		slog.Info("fallback chain ready", "kind", "llm", "entries", len(fbs)+1)
	}
	if fbs := a.providers.STTFallbacks; len(fbs) > 0 {
		chain := resilience.NewSTTFallback(a.providers.STT, cfg.Providers.STT.Name, fcfg)
		for _, fb := range fbs {
			chain.AddFallback(fb.Name, fb.Provider)
		}
		a.providers.STT = chain
		a.checkers = append(a.checkers, health.Func("stt", chain.Group().Healthy, "every stt circuit is open"))
		slog.Info("fallback chain ready", "kind", "stt", "entries", len(fbs)+1)
	}
	if fbs := a.providers.TTSFallbacks; len(fbs) > 0 {
		chain := resilience.NewTTSFallback(a.providers.TTS, cfg.Providers.TTS.Name, fcfg)
		for _, fb := range fbs {
			chain.AddFallback(fb.Name, fb.Provider)
		}
		a.providers.TTS = chain
		a.checkers = append(a.checkers, health.Func("tts", chain.Group().Healthy, "every tts circuit is open"))
		slog.Info("fallback chain ready", "kind", "tts", "entries", len(fbs)+1)
	}
}

// initCorrectors builds one shared corrector per correction mode. Both are
// stateless, so a reload that switches modes only picks another entry.
func (a *App) initCorrectors() {
	matcher := phonetic.New()
	a.correctors = map[config.CorrectionMode]transcript.Corrector{
		config.CorrectionPhonetic: transcript.NewPipeline(
			transcript.WithPhoneticMatcher(matcher),
		),
		config.CorrectionLLM: transcript.NewPipeline(
			transcript.WithPhoneticMatcher(matcher),
			transcript.WithLLMCorrector(llmcorrect.New(a.providers.LLM)),
		),
	}
}

func (a *App) corrector(mode config.CorrectionMode) transcript.Corrector {
	return a.correctors[mode]
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration new sessions are built from.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Sessions returns the live session registry.
func (a *App) Sessions() *Sessions { return a.sessions }

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.web.Handler() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next: the log level, and the
// conversation and silence sections, which take effect for sessions opened
// afterwards. Other changes are logged as needing a restart. Reload matches
// the [config.Watcher] callback signature.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.IsEmpty() {
		return
	}

	cur := *a.Config()
	if d.LogLevelChanged {
		cur.Server.LogLevel = d.NewLogLevel
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.Level())
		}
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ConversationChanged {
		cur.Conversation = next.Conversation
		slog.Info("conversation settings reloaded; applies to new sessions",
			"language", next.Conversation.TargetLanguage,
			"vocabulary", len(next.Conversation.Vocabulary),
			"correction", next.Conversation.Correction,
		)
	}
	if d.SilencePromptsChanged {
		cur.Silence = next.Silence
		slog.Info("silence settings reloaded; applies to new sessions")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
	a.cfg.Store(&cur)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run synthesises the filler bank in the background and serves HTTP until
// ctx is done, then returns ctx's error. A listener failure is returned
// immediately.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	if a.fillers != nil {
		go func() {
			if err := a.fillers.Init(ctx); err != nil {
				slog.Warn("filler synthesis interrupted", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("app running", "listen_addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, closes every session, stops the
// HTTP server and runs the registered closers. It respects the context
// deadline: if ctx expires first, remaining steps are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.sessions.CloseAll(ctx); err != nil {
			slog.Warn("closing sessions", "err", err)
			if ctx.Err() != nil {
				shutdownErr = ctx.Err()
				return
			}
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown", "err", err)
				shutdownErr = err
				return
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// OnShutdown registers fn to run at the end of Shutdown.
func (a *App) OnShutdown(fn func() error) {
	a.closers = append(a.closers, fn)
}
