// Package web exposes parley over HTTP: thin proxy routes for clients that
// drive the pipeline themselves, the conversation WebSocket, and the
// operational endpoints.
//
// Routes:
//
//	POST /api/transcribe        audio body → {"text": ...}
//	POST /api/chat              {messages, system_prompt} → {"reply": ...}
//	POST /api/tts               {text, voice} → audio payload
//	GET  /api/voices            voices of the synthesis chain
//	GET  /api/summary/{id}      latest rolling summary of a session
//	GET  /v1/conversation       WebSocket conversation
//	GET  /healthz, /readyz      probes
//	GET  /metrics               Prometheus scrape endpoint
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// maxAudioBody bounds uploaded recordings.
	maxAudioBody = 25 << 20

	// maxJSONBody bounds JSON request bodies.
	maxJSONBody = 1 << 20

	defaultRequestTimeout = 30 * time.Second
	defaultChunk          = 100 * time.Millisecond
	defaultPlaybackRate   = 24000
)

// SessionFactory opens and closes conversation sessions on behalf of
// WebSocket clients.
type SessionFactory interface {
	Open(ctx context.Context, id string, opts conversation.Options) (*conversation.Session, error)
	Close(id string) error
}

// Config holds the collaborators of a [Server].
type Config struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Voices lists synthesis voices. May be nil, which disables /api/voices.
	Voices tts.VoiceLister

	// Summaries backs /api/summary. May be nil.
	Summaries *summary.Cache

	// Sessions backs /v1/conversation. May be nil, which disables it.
	Sessions SessionFactory

	// Health serves the probes. May be nil.
	Health *health.Handler

	// Metrics instruments every request. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Language is the default language hint for /api/transcribe.
	Language string

	// AllowedOrigins are extra host patterns accepted on the WebSocket.
	AllowedOrigins []string

	// PlaybackRate is the sample rate of streamed reply audio. Default: 24000.
	PlaybackRate int

	// Chunk is the duration of each streamed audio message. Default: 100ms.
	Chunk time.Duration

	// RequestTimeout bounds each proxied provider call. Default: 30s.
	RequestTimeout time.Duration
}

// Server routes parley's HTTP surface.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New validates cfg and registers the routes.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.STT == nil {
		errs = append(errs, errors.New("web: stt provider is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("web: llm provider is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("web: tts provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = defaultPlaybackRate
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = defaultChunk
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/tts", s.handleTTS)
	if cfg.Voices != nil {
		s.mux.HandleFunc("GET /api/voices", s.handleVoices)
	}
	if cfg.Summaries != nil {
		s.mux.HandleFunc("GET /api/summary/{sessionID}", s.handleSummary)
	}
	if cfg.Sessions != nil {
		s.mux.HandleFunc("GET /v1/conversation", s.handleConversation)
	}
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s, nil
}

// Handler returns the routes wrapped in the tracing and metrics middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.cfg.Metrics)(s.mux)
}

type errorBody struct {
	Error    string `json:"error"`
	Fallback string `json:"fallback,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
