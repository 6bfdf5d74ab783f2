package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr           = ":8080"
	DefaultCaptureBufferSize    = 4096
	DefaultCaptureSampleRate    = 16000
	DefaultCaptureQueueDepth    = 32
	DefaultWarningAfter         = 8 * time.Second
	DefaultEncouragementAfter   = 15 * time.Second
	DefaultTimeoutAfter         = 20 * time.Second
	DefaultSilenceTick          = 100 * time.Millisecond
	DefaultSynthesisTimeout     = 10 * time.Second
	DefaultPlaybackSampleRate   = 24000
	DefaultChunkMs              = 100
	DefaultSummaryEveryTurns    = 5
	DefaultSummaryCacheSize     = 1024
	DefaultSummaryTTL           = 2 * time.Hour
	DefaultTargetLanguage       = "es"
	DefaultMaxReplyTokens       = 150
	DefaultMaxHistory           = 20
	DefaultTranscriptionTimeout = 15 * time.Second
	DefaultCompletionTimeout    = 30 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {"openai", "deepgram", "whisper"},
	"tts":       {"openai", "elevenlabs", "coqui"},
	"local_tts": {"command"},
	"vad":       {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown fields are rejected. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting with its default. Values
// already set are left untouched.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Capture.BufferSize, DefaultCaptureBufferSize)
	setDefault(&cfg.Capture.SampleRate, DefaultCaptureSampleRate)
	setDefault(&cfg.Capture.QueueDepth, DefaultCaptureQueueDepth)
	setDefault(&cfg.Capture.Overflow, "drop_oldest")

	setDefault(&cfg.Silence.WarningAfter, DefaultWarningAfter)
	setDefault(&cfg.Silence.EncouragementAfter, DefaultEncouragementAfter)
	setDefault(&cfg.Silence.TimeoutAfter, DefaultTimeoutAfter)
	setDefault(&cfg.Silence.Tick, DefaultSilenceTick)

	setDefault(&cfg.Playback.SynthesisTimeout, DefaultSynthesisTimeout)
	setDefault(&cfg.Playback.SampleRate, DefaultPlaybackSampleRate)
	setDefault(&cfg.Playback.ChunkMs, DefaultChunkMs)

	setDefault(&cfg.Summary.EveryTurns, DefaultSummaryEveryTurns)
	setDefault(&cfg.Summary.CacheSize, DefaultSummaryCacheSize)
	setDefault(&cfg.Summary.TTL, DefaultSummaryTTL)

	setDefault(&cfg.Conversation.TargetLanguage, DefaultTargetLanguage)
	setDefault(&cfg.Conversation.Correction, CorrectionPhonetic)
	setDefault(&cfg.Conversation.MaxReplyTokens, DefaultMaxReplyTokens)
	setDefault(&cfg.Conversation.MaxHistory, DefaultMaxHistory)
	setDefault(&cfg.Conversation.TranscriptionTimeout, DefaultTranscriptionTimeout)
	setDefault(&cfg.Conversation.CompletionTimeout, DefaultCompletionTimeout)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("local_tts", cfg.Providers.LocalTTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM, cfg.Providers.Fallbacks.LLM)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.STT, cfg.Providers.Fallbacks.STT)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.TTS, cfg.Providers.Fallbacks.TTS)...)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the tutor will not be able to reply")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; learner speech will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" && cfg.Providers.LocalTTS.Name == "" {
		slog.Warn("neither providers.tts nor providers.local_tts is configured; replies will be text only")
	}

	// Capture
	if cfg.Capture.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_size %d must be positive", cfg.Capture.BufferSize))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	switch strings.ToLower(cfg.Capture.Overflow) {
	case "", "drop_oldest", "block":
	default:
		errs = append(errs, fmt.Errorf("capture.overflow %q is invalid; valid values: drop_oldest, block", cfg.Capture.Overflow))
	}

	// Silence
	s := cfg.Silence
	if s.WarningAfter < 0 || s.EncouragementAfter < 0 || s.TimeoutAfter < 0 || s.Tick < 0 {
		errs = append(errs, errors.New("silence durations must not be negative"))
	} else if s.WarningAfter > 0 && s.EncouragementAfter > 0 && s.TimeoutAfter > 0 &&
		(s.WarningAfter >= s.EncouragementAfter || s.EncouragementAfter >= s.TimeoutAfter) {
		errs = append(errs, fmt.Errorf("silence thresholds must increase: warning_after %s, encouragement_after %s, timeout_after %s",
			s.WarningAfter, s.EncouragementAfter, s.TimeoutAfter))
	}
	if s.EndOnTimeout && s.TimeoutPrompt == "" {
		slog.Warn("silence.end_on_timeout is set without silence.timeout_prompt; sessions will end without a goodbye")
	}

	// Playback
	if cfg.Playback.SynthesisTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.synthesis_timeout %s must not be negative", cfg.Playback.SynthesisTimeout))
	}
	if cfg.Playback.ChunkMs < 0 || cfg.Playback.ChunkMs > 1000 {
		errs = append(errs, fmt.Errorf("playback.chunk_ms %d is out of range [1, 1000]", cfg.Playback.ChunkMs))
	}

	// Summary
	if cfg.Summary.EveryTurns < 0 {
		errs = append(errs, fmt.Errorf("summary.every_turns %d must be positive", cfg.Summary.EveryTurns))
	}
	if cfg.Summary.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("summary.cache_size %d must be positive", cfg.Summary.CacheSize))
	}

	// Conversation
	c := cfg.Conversation
	if c.Correction != "" && !c.Correction.IsValid() {
		errs = append(errs, fmt.Errorf("conversation.correction %q is invalid; valid values: off, phonetic, llm", c.Correction))
	}
	if c.Correction == CorrectionLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("conversation.correction \"llm\" requires providers.llm"))
	}
	if c.MaxReplyTokens < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_reply_tokens %d must be positive", c.MaxReplyTokens))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_history %d must be positive", c.MaxHistory))
	}

	return errors.Join(errs...)
}

// validateFallbacks requires a primary when fallbacks are listed and a name
// on every fallback entry.
func validateFallbacks(kind string, primary ProviderEntry, chain []ProviderEntry) []error {
	var errs []error
	if len(chain) > 0 && primary.Name == "" {
		errs = append(errs, fmt.Errorf("providers.fallbacks.%s is set but providers.%s is not configured", kind, kind))
	}
	for i, e := range chain {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
