package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.language != defaultLanguage || p.apiMode != APIModeStandard {
			t.Errorf("language/mode = %q/%q", p.language, p.apiMode)
		}
		if p.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("with options", func(t *testing.T) {
		p := mustNew(t, "http://localhost:8002", WithLanguage("de"), WithTimeout(5*time.Second), WithAPIMode(APIModeXTTS))
		if p.language != "de" || p.httpClient.Timeout != 5*time.Second || p.apiMode != APIModeXTTS {
			t.Errorf("options not applied: %+v", p)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty URL")
		}
		if _, err := New("http://x", WithAPIMode("grpc")); err == nil {
			t.Error("expected error for unknown api mode")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	wav := audio.EncodeWAV(make([]int16, 160), 16000)

	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		_, _ = w.Write(wav) // no content type
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("es"))
	res, err := p.Synthesize(context.Background(), tts.Request{Text: "¿Cómo estás?", Voice: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.MIMEType != "audio/wav" || len(res.Audio) != len(wav) {
		t.Errorf("result = %q, %d bytes", res.MIMEType, len(res.Audio))
	}
	if gotQuery["text"][0] != "¿Cómo estás?" || gotQuery["speaker_id"][0] != "p225" || gotQuery["language_id"][0] != "es" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(make([]int16, 10), 24000))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "Guten Tag", Voice: "Ana Florence", Language: "de"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "Guten Tag" || got.SpeakerWav != "Ana Florence" || got.Language != "de" {
		t.Errorf("body = %+v", got)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		if _, err := mustNew(t, srv.URL).Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("json body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
		}))
		defer srv.Close()

		_, err := mustNew(t, srv.URL).Synthesize(context.Background(), tts.Request{Text: "x"})
		if !errors.Is(err, tts.ErrNotAudio) {
			t.Fatalf("err = %v, want ErrNotAudio", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := mustNew(t, srv.URL).Synthesize(ctx, tts.Request{Text: "x"}); err == nil {
			t.Fatal("expected error")
		}
	})
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"Zofija Kendrick":{},"Ana Florence":{}}`))
	}))
	defer srv.Close()

	voices, err := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS)).ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "Ana Florence" || voices[0].Metadata["type"] != "studio" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestListVoices_StandardAPI(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantIDs  []string
		wantType string
	}{
		{
			name:     "multi speaker",
			body:     `{"model_name":"vctk/vits","speakers":["p326","p225"]}`,
			wantIDs:  []string{"p225", "p326"},
			wantType: "speaker",
		},
		{
			name:     "single speaker",
			body:     `{"model_name":"tts_models/es/css10/vits"}`,
			wantIDs:  []string{"tts_models/es/css10/vits"},
			wantType: "single-speaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.wantIDs) {
				t.Fatalf("got %d voices, want %d", len(voices), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if voices[i].ID != id || voices[i].Metadata["type"] != tt.wantType {
					t.Errorf("voice %d = %+v", i, voices[i])
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := mustNew(t, srv.URL).ListVoices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
