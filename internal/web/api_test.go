package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/summary"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

type testDeps struct {
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	summary *summary.Cache
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *testDeps) {
	t.Helper()
	d := &testDeps{
		stt:     &sttmock.Provider{Result: stt.Result{Text: "hola", Language: "es"}},
		llm:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " ¿Qué tal? "}},
		tts:     &ttsmock.Provider{Result: ttsmock.WAVResult(50*time.Millisecond, 16000)},
		summary: summary.NewCache(8, time.Hour),
	}
	cfg := Config{
		STT:       d.stt,
		LLM:       d.llm,
		TTS:       d.tts,
		Voices:    d.tts,
		Summaries: d.summary,
		Health:    health.New(),
		Language:  "es",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, d
}

func do(t *testing.T, s *Server, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("New accepted an empty config")
	}
	for _, want := range []string{"stt", "llm", "tts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		body       []byte
		sttErr     error
		wantStatus int
		wantText   string
		wantError  string
	}{
		{name: "ok", target: "/api/transcribe", body: []byte("RIFF...."), wantStatus: http.StatusOK, wantText: "hola"},
		{name: "empty body", target: "/api/transcribe", wantStatus: http.StatusBadRequest, wantError: "no data"},
		{name: "provider error", target: "/api/transcribe", body: []byte("x"), sttErr: errors.New("down"), wantStatus: http.StatusBadGateway, wantError: "transcription failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, d := newTestServer(t, nil)
			d.stt.Err = tt.sttErr

			rec := do(t, s, http.MethodPost, tt.target, "audio/webm", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantError != "" {
				if got := decode[errorBody](t, rec).Error; got != tt.wantError {
					t.Errorf("error = %q, want %q", got, tt.wantError)
				}
				return
			}
			if got := decode[transcribeResponse](t, rec).Text; got != tt.wantText {
				t.Errorf("text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestTranscribe_ForwardsHints(t *testing.T) {
	t.Parallel()

	s, d := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/transcribe?language=fr&keyword=boulangerie&keyword=croissant", "audio/ogg", []byte("x"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	req, _ := d.stt.LastRequest()
	if req.Language != "fr" {
		t.Errorf("language = %q, want fr", req.Language)
	}
	if !slices.Equal(req.Keywords, []string{"boulangerie", "croissant"}) {
		t.Errorf("keywords = %v", req.Keywords)
	}
	if req.Audio.MIMEType != "audio/ogg" {
		t.Errorf("MIME = %q", req.Audio.MIMEType)
	}

	do(t, s, http.MethodPost, "/api/transcribe", "", []byte("x"))
	req, _ = d.stt.LastRequest()
	if req.Language != "es" || req.Audio.MIMEType != "audio/wav" {
		t.Errorf("defaults = language %q MIME %q", req.Language, req.Audio.MIMEType)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		llmErr     error
		wantStatus int
	}{
		{name: "ok", body: `{"messages":[{"role":"user","content":"hola"}],"system_prompt":"tutor"}`, wantStatus: http.StatusOK},
		{name: "empty messages", body: `{"messages":[]}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "provider error", body: `{"messages":[{"role":"user","content":"hola"}]}`, llmErr: errors.New("quota"), wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, d := newTestServer(t, nil)
			d.llm.CompleteErr = tt.llmErr

			rec := do(t, s, http.MethodPost, "/api/chat", "application/json", []byte(tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if got := decode[chatResponse](t, rec).Reply; got != "¿Qué tal?" {
				t.Errorf("reply = %q", got)
			}
			req, _ := d.llm.LastCompleteRequest()
			if req.SystemPrompt != "tutor" || len(req.Messages) != 1 {
				t.Errorf("forwarded request = %+v", req)
			}
		})
	}
}

func TestTTS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		body         string
		result       tts.Result
		err          error
		wantStatus   int
		wantFallback string
	}{
		{name: "ok", body: `{"text":"hola","voice":"v1"}`, result: ttsmock.WAVResult(50*time.Millisecond, 16000), wantStatus: http.StatusOK},
		{name: "empty text", body: `{"text":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "provider error", body: `{"text":"hola"}`, err: errors.New("down"), wantStatus: http.StatusBadGateway, wantFallback: "local"},
		{name: "not audio", body: `{"text":"hola"}`, result: tts.Result{Audio: []byte("{}"), MIMEType: "application/json"}, wantStatus: http.StatusBadGateway, wantFallback: "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, d := newTestServer(t, nil)
			d.tts.Result, d.tts.Err = tt.result, tt.err

			rec := do(t, s, http.MethodPost, "/api/tts", "application/json", []byte(tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantFallback != "" {
				if got := decode[errorBody](t, rec).Fallback; got != tt.wantFallback {
					t.Errorf("fallback = %q, want %q", got, tt.wantFallback)
				}
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
				t.Errorf("Content-Type = %q", ct)
			}
			if !bytes.Equal(rec.Body.Bytes(), tt.result.Audio) {
				t.Error("audio payload altered")
			}
			if c := d.tts.Calls[0].Req; c.Voice != "v1" {
				t.Errorf("voice = %q", c.Voice)
			}
		})
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()

	s, d := newTestServer(t, nil)
	d.tts.Voices = []tts.Voice{{ID: "a", Name: "Alba", Provider: "mock"}}

	rec := do(t, s, http.MethodGet, "/api/voices", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	voices := decode[[]tts.Voice](t, rec)
	if len(voices) != 1 || voices[0].ID != "a" {
		t.Errorf("voices = %+v", voices)
	}

	d.tts.ListVoicesErr = errors.New("down")
	if rec := do(t, s, http.MethodGet, "/api/voices", "", nil); rec.Code != http.StatusBadGateway {
		t.Errorf("status on error = %d, want 502", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	s, d := newTestServer(t, nil)
	if rec := do(t, s, http.MethodGet, "/api/summary/abc", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	d.summary.Put("abc", summary.Entry{Summary: "Talked about food.", Turns: 5, UpdatedAt: time.Now()})
	rec := do(t, s, http.MethodGet, "/api/summary/abc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[summaryResponse](t, rec)
	if got.SessionID != "abc" || got.Summary != "Talked about food." || got.Turns != 5 {
		t.Errorf("summary = %+v", got)
	}
}

func TestOptionalRoutesDisabled(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(c *Config) {
		c.Voices = nil
		c.Summaries = nil
		c.Sessions = nil
	})
	for _, target := range []string{"/api/voices", "/api/summary/abc", "/v1/conversation"} {
		if rec := do(t, s, http.MethodGet, target, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, rec.Code)
		}
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	for _, target := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := do(t, s, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", target, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("Content-Type") == "" {
		t.Error("healthz without content type")
	}
}
