package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Conversation: config.ConversationConfig{
			TargetLanguage: "de",
			Vocabulary:     []string{"Bahnhof"},
		},
		Filler: config.FillerConfig{Disabled: true},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT: &sttmock.Provider{Result: stt.Result{Text: "hallo"}},
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hallo! Wie geht's?"}},
		TTS: &ttsmock.Provider{Result: ttsmock.PCMResult(20*time.Millisecond, 24000)},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func discardSink() playback.Sink {
	return playback.SinkFunc(func(context.Context, *audio.Buffer) error { return nil })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("New() accepted missing providers")
	}
	for _, want := range []string{"stt", "llm", "tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestApp_RoutesServeProviders(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hallo"}]}`))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d (%s)", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Wie geht") {
		t.Errorf("chat body = %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestApp_LLMFallbackServesWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.LLM = &llmmock.Provider{CompleteErr: errors.New("503 overloaded")}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Ersatzantwort"}}
	providers.LLMFallbacks = []app.Named[llm.Provider]{{Name: "backup", Provider: backup}}

	a := newTestApp(t, testConfig(), providers,
		app.WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}))

	for range 2 {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
			strings.NewReader(`{"messages":[{"role":"user","content":"hallo"}]}`)))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ersatzantwort") {
			t.Fatalf("chat = %d %s", rec.Code, rec.Body)
		}
	}
	if got := backup.CompleteCallCount(); got != 2 {
		t.Errorf("backup calls = %d, want 2", got)
	}
	// The primary's breaker opened after the first failure.
	if got := providers.LLM.(*llmmock.Provider).CompleteCallCount(); got != 1 {
		t.Errorf("primary calls = %d, want 1", got)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"llm":"ok"`) {
		t.Errorf("readyz = %d %s", rec.Code, rec.Body)
	}
}

func TestApp_ReloadAppliesToNewSessions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	level := new(slog.LevelVar)
	a := newTestApp(t, cfg, testProviders(), app.WithLogLevel(level))

	before, err := a.Sessions().Open(context.Background(), "before", conversation.Options{Sink: discardSink()})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Conversation.TargetLanguage = "it"
	next.Capture.BufferSize = 1024 // needs a restart
	a.Reload(cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := a.Config().Conversation.TargetLanguage; got != "it" {
		t.Errorf("target language = %q, want it", got)
	}
	if got := a.Config().Capture.BufferSize; got != cfg.Capture.BufferSize {
		t.Errorf("capture buffer size = %d, want unchanged %d", got, cfg.Capture.BufferSize)
	}

	after, err := a.Sessions().Open(context.Background(), "after", conversation.Options{Sink: discardSink()})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if before.Language() != "de" || after.Language() != "it" {
		t.Errorf("languages = %q, %q; want de, it", before.Language(), after.Language())
	}
}

func TestApp_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestApp_RunListenFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:99999"
	a := newTestApp(t, cfg, testProviders())

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() with an invalid address returned nil")
	}
}

func TestApp_ShutdownClosesSessionsAndDrains(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())
	for _, id := range []string{"a", "b"} {
		if _, err := a.Sessions().Open(context.Background(), id, conversation.Options{Sink: discardSink()}); err != nil {
			t.Fatalf("Open(%s) error: %v", id, err)
		}
	}

	var closed bool
	a.OnShutdown(func() error { closed = true; return nil })

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if n := a.Sessions().Len(); n != 0 {
		t.Errorf("live sessions after shutdown = %d", n)
	}
	if !closed {
		t.Error("shutdown closer not run")
	}
	if _, err := a.Sessions().Open(context.Background(), "late", conversation.Options{Sink: discardSink()}); !errors.Is(err, app.ErrShuttingDown) {
		t.Errorf("Open() after shutdown = %v, want ErrShuttingDown", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while draining = %d, want 503", rec.Code)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}
