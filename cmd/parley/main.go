// Command parley is the main entry point for the parley voice-practice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/localtts"
	"github.com/MrWong99/parley/pkg/provider/localtts/command"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/parley/pkg/provider/tts/openai"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload conversation and silence settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	application.OnShutdown(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, application.Reload,
			config.WithWatchLogger(slog.Default().With("component", "config")))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			application.OnShutdown(func() error { w.Stop(); return nil })
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	lang := cfg.Conversation.TargetLanguage

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted vendors share the any-llm-go pattern: optional
	// APIKey + optional BaseURL.
	for _, backend := range anyllm.Backends {
		if backend == "openai" || backend == "ollama" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oaistt.Option{oaistt.WithLanguage(optStringOr(entry.Options, "language", lang))}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithLanguage(optStringOr(entry.Options, "language", lang))}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithLanguage(optStringOr(entry.Options, "language", lang))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaitts.WithDefaultVoice(v))
		}
		if f := optString(entry.Options, "response_format"); f != "" {
			opts = append(opts, oaitts.WithResponseFormat(f))
		}
		if s := optFloat(entry.Options, "speed"); s > 0 {
			opts = append(opts, oaitts.WithSpeed(s))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithLanguage(optStringOr(entry.Options, "language", lang))}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Local speech ──────────────────────────────────────────────────────────

	reg.RegisterLocalTTS("command", func(entry config.ProviderEntry) (localtts.Engine, error) {
		var opts []command.Option
		if args := optStrings(entry.Options, "args"); len(args) > 0 {
			opts = append(opts, command.WithArgs(args...))
		}
		opts = append(opts, command.WithLanguage(optStringOr(entry.Options, "language", lang)))
		bin := optStringOr(entry.Options, "binary", command.DefaultBinary())
		e := command.New(bin, opts...)
		if !e.Available() {
			slog.Warn("local speech binary not found in PATH; fallback speech will fail", "binary", bin)
		}
		return e, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if lo, hi := optFloat(entry.Options, "rms_low"), optFloat(entry.Options, "rms_high"); hi > 0 {
			opts = append(opts, energy.WithRMSRange(lo, hi))
		}
		if a := optFloat(entry.Options, "smoothing"); a > 0 {
			opts = append(opts, energy.WithSmoothing(a))
		}
		start, stop := optFloat(entry.Options, "start_ms"), optFloat(entry.Options, "stop_ms")
		if start > 0 || stop > 0 {
			opts = append(opts, energy.WithHangover(
				time.Duration(start*float64(time.Millisecond)),
				time.Duration(stop*float64(time.Millisecond)),
			))
		}
		return energy.New(opts...), nil
	})

	// Debug log of all registered providers.
	names := reg.Names()
	kinds := make([]string, 0, len(names))
	for kind := range names {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		slog.Debug("registered providers", "kind", kind, "names", names[kind])
	}
}

// create instantiates one provider entry. An empty name yields the zero
// value and no error.
func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := fn(entry)
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// createFallbacks instantiates every fallback entry of one kind.
func createFallbacks[T any](kind string, entries []config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) ([]app.Named[T], error) {
	var out []app.Named[T]
	for i, entry := range entries {
		p, err := create(kind+" fallback", entry, fn)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		out = append(out, app.Named[T]{Name: entry.Name, Provider: p})
	}
	return out, nil
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	pc := cfg.Providers
	ps := &app.Providers{}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	ps.LLM, err = create("llm", pc.LLM, reg.CreateLLM)
	collect(err)
	ps.STT, err = create("stt", pc.STT, reg.CreateSTT)
	collect(err)
	ps.TTS, err = create("tts", pc.TTS, reg.CreateTTS)
	collect(err)
	ps.LocalTTS, err = create("local_tts", pc.LocalTTS, reg.CreateLocalTTS)
	collect(err)
	ps.VAD, err = create("vad", pc.VAD, reg.CreateVAD)
	collect(err)

	ps.LLMFallbacks, err = createFallbacks("llm", pc.Fallbacks.LLM, reg.CreateLLM)
	collect(err)
	ps.STTFallbacks, err = createFallbacks("stt", pc.Fallbacks.STT, reg.CreateSTT)
	collect(err)
	ps.TTSFallbacks, err = createFallbacks("tts", pc.Fallbacks.TTS, reg.CreateTTS)
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          parley: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Local TTS", cfg.Providers.LocalTTS.Name, "")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fallbacks := len(cfg.Providers.Fallbacks.LLM) + len(cfg.Providers.Fallbacks.STT) + len(cfg.Providers.Fallbacks.TTS)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", fallbacks)
	fmt.Printf("║  Language        : %-19s ║\n", cfg.Conversation.TargetLanguage)
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Conversation.Vocabulary))
	fmt.Printf("║  Correction      : %-19s ║\n", cfg.Conversation.Correction)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optStringOr(opts map[string]any, key, def string) string {
	if s := optString(opts, key); s != "" {
		return s
	}
	return def
}

// optFloat extracts a number. YAML decodes integers as int and decimals as
// float64; both are accepted.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// optStrings extracts a list of strings, skipping non-string items.
func optStrings(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
