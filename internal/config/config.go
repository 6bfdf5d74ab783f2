// Package config provides the configuration schema, loader, and provider registry
// for the parley practice server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CorrectionMode selects how much vocabulary correction runs on transcripts.
type CorrectionMode string

const (
	// CorrectionOff passes transcripts through unchanged.
	CorrectionOff CorrectionMode = "off"

	// CorrectionPhonetic runs the in-process phonetic matcher only.
	CorrectionPhonetic CorrectionMode = "phonetic"

	// CorrectionLLM runs the phonetic matcher followed by the verified LLM
	// stage.
	CorrectionLLM CorrectionMode = "llm"
)

// IsValid reports whether m is a recognised correction mode.
func (m CorrectionMode) IsValid() bool {
	switch m {
	case CorrectionOff, CorrectionPhonetic, CorrectionLLM:
		return true
	}
	return false
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Capture      CaptureConfig      `yaml:"capture"`
	Silence      SilenceConfig      `yaml:"silence"`
	Playback     PlaybackConfig     `yaml:"playback"`
	Filler       FillerConfig       `yaml:"filler"`
	Summary      SummaryConfig      `yaml:"summary"`
	Conversation ConversationConfig `yaml:"conversation"`
}

// ServerConfig holds network and logging settings for the parley server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted on the conversation
	// WebSocket in addition to same-origin requests (e.g., "localhost:5173").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage of a practice turn. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	LLM      ProviderEntry `yaml:"llm"`
	STT      ProviderEntry `yaml:"stt"`
	TTS      ProviderEntry `yaml:"tts"`
	LocalTTS ProviderEntry `yaml:"local_tts"`
	VAD      ProviderEntry `yaml:"vad"`

	// Fallbacks lists secondary providers tried in order when the primary of
	// the same kind fails or its circuit is open.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig holds the secondary provider chains per kind.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig controls how incoming microphone samples are framed.
type CaptureConfig struct {
	// BufferSize is the number of samples per emitted frame. Default: 4096.
	BufferSize int `yaml:"buffer_size"`

	// SampleRate of the incoming stream in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// QueueDepth is the number of frames buffered before the overflow policy
	// applies. Default: 32.
	QueueDepth int `yaml:"queue_depth"`

	// Overflow is "drop_oldest" (default) or "block".
	Overflow string `yaml:"overflow"`
}

// SilenceConfig controls the escalating silence prompts.
type SilenceConfig struct {
	WarningAfter       time.Duration `yaml:"warning_after"`
	EncouragementAfter time.Duration `yaml:"encouragement_after"`
	TimeoutAfter       time.Duration `yaml:"timeout_after"`
	Tick               time.Duration `yaml:"tick"`

	// WarningPrompt is spoken when the learner has been silent for
	// WarningAfter. Empty disables the spoken prompt; the event is still
	// published.
	WarningPrompt string `yaml:"warning_prompt"`

	// EncouragementPrompt is spoken at EncouragementAfter.
	EncouragementPrompt string `yaml:"encouragement_prompt"`

	// TimeoutPrompt is spoken at TimeoutAfter when EndOnTimeout is set.
	TimeoutPrompt string `yaml:"timeout_prompt"`

	// EndOnTimeout closes the session after the timeout prompt.
	EndOnTimeout bool `yaml:"end_on_timeout"`
}

// PlaybackConfig controls reply synthesis and streaming.
type PlaybackConfig struct {
	// SynthesisTimeout bounds each remote synthesis call. Default: 10s.
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// SampleRate of the PCM16 stream sent to clients. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// ChunkMs is the length of each streamed audio message. Default: 100.
	ChunkMs int `yaml:"chunk_ms"`
}

// FillerConfig controls the short phrases played while a reply is pending.
type FillerConfig struct {
	// Phrases to synthesise at startup. When empty, a default set in the
	// target language is used.
	Phrases []string `yaml:"phrases"`

	// Disabled turns filler audio off.
	Disabled bool `yaml:"disabled"`
}

// SummaryConfig controls the rolling session summary.
type SummaryConfig struct {
	// EveryTurns is the number of learner turns between refreshes. Default: 5.
	EveryTurns int `yaml:"every_turns"`

	// CacheSize bounds the number of cached sessions. Default: 1024.
	CacheSize int `yaml:"cache_size"`

	// TTL evicts summaries not refreshed in this long. Default: 2h.
	TTL time.Duration `yaml:"ttl"`
}

// ConversationConfig holds the defaults for each practice session. A client
// may override TargetLanguage and Vocabulary when it starts a session.
type ConversationConfig struct {
	// TargetLanguage is the BCP-47 code of the language being practised.
	// Default: "es".
	TargetLanguage string `yaml:"target_language"`

	// Persona is a free-text description of the tutor injected into the
	// system prompt.
	Persona string `yaml:"persona"`

	// Vocabulary lists the lesson terms used for transcript correction.
	Vocabulary []string `yaml:"vocabulary"`

	// Correction selects the vocabulary correction stages. Default: phonetic.
	Correction CorrectionMode `yaml:"correction"`

	// MaxReplyTokens caps each tutor reply. Default: 150.
	MaxReplyTokens int `yaml:"max_reply_tokens"`

	// MaxHistory caps the number of messages sent with each completion.
	// Default: 20.
	MaxHistory int `yaml:"max_history"`

	// TranscriptionTimeout bounds each ASR call. Default: 15s.
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`

	// CompletionTimeout bounds each LLM call. Default: 30s.
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
}
