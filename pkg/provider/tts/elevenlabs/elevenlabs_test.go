package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ---- Synthesize ----

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotQuery string
		gotKey   string
		gotBody  synthesisRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	}))
	defer srv.Close()

	p, err := New("key-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(context.Background(), tts.Request{Text: "¡Hola!", Voice: "voice-es", Language: "es"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if res.MIMEType != "audio/mpeg" || string(res.Audio) != "ID3fake-mp3" {
		t.Errorf("result = %q / %q", res.MIMEType, res.Audio)
	}
	if gotPath != "/v1/text-to-speech/voice-es" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "output_format="+defaultOutputFmt) {
		t.Errorf("query = %q", gotQuery)
	}
	if gotKey != "key-1" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotBody.Text != "¡Hola!" || gotBody.ModelID != defaultModel || gotBody.LanguageCode != "es" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL), WithDefaultVoice("tutor"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/tutor" {
		t.Errorf("path = %q, want default voice", gotPath)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		ctype      string
		body       string
		notAudio   bool
		wantSubstr string
	}{
		{name: "quota exceeded", status: http.StatusUnauthorized, ctype: "application/json", body: `{"detail":"quota_exceeded"}`, wantSubstr: "quota_exceeded"},
		{name: "json with 200", status: http.StatusOK, ctype: "application/json", body: `{"error":"x"}`, notAudio: true},
		{name: "empty audio", status: http.StatusOK, ctype: "audio/mpeg", body: "", notAudio: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New("key", WithBaseURL(srv.URL))
			_, err := p.Synthesize(context.Background(), tts.Request{Text: "hola"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, tts.ErrNotAudio); got != tt.notAudio {
				t.Errorf("errors.Is(ErrNotAudio) = %v, want %v (err=%v)", got, tt.notAudio, err)
			}
			if tt.wantSubstr != "" && !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantSubstr)
			}
		})
	}
}

func TestMIMEType_PCMOutput(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithOutputFormat("pcm_24000"))
	if got := p.mimeType("application/octet-stream"); got != "audio/L16; rate=24000" {
		t.Errorf("mimeType = %q", got)
	}
	p, _ = New("key")
	if got := p.mimeType("audio/mpeg"); got != "audio/mpeg" {
		t.Errorf("mimeType = %q", got)
	}
}

// ---- Voice list ----

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "abc123" || voices[0].Metadata["category"] != "premade" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestParseVoicesResponse_NoLabels(t *testing.T) {
	t.Parallel()

	voices, err := parseVoicesResponse([]byte(`{"voices":[{"voice_id":"x1","name":"Ghost","category":"","labels":null}]}`))
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	if _, ok := voices[0].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
	if _, err := parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- Constructor ----

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key", WithModel("eleven_flash_v2_5"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_flash_v2_5" || p.outputFormat != "pcm_16000" {
		t.Errorf("options not applied: %+v", p)
	}
}
