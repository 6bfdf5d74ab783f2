package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// handleTranscribe transcribes a recording posted as the raw request body.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "no data")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	q := r.URL.Query()
	lang := q.Get("language")
	if lang == "" {
		lang = s.cfg.Language
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	res, err := s.cfg.STT.Transcribe(ctx, stt.Request{
		Audio:    audio.Clip{Data: data, MIMEType: mimeType},
		Language: lang,
		Keywords: q["keyword"],
	})
	if err != nil {
		if errors.Is(err, stt.ErrNoAudio) {
			writeError(w, http.StatusBadRequest, "no data")
			return
		}
		observe.Logger(r.Context()).Warn("transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Text: res.Text, Language: res.Language})
}

type chatRequest struct {
	Messages     []llm.Message `json:"messages"`
	SystemPrompt string        `json:"system_prompt"`
	MaxTokens    int           `json:"max_tokens"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// handleChat proxies one completion.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	resp, err := s.cfg.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("completion failed", "error", err)
		writeError(w, http.StatusBadGateway, "completion failed")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: strings.TrimSpace(resp.Content)})
}

type ttsRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// handleTTS synthesises text and returns the encoded audio. On failure the
// JSON error tells the client to speak the text locally.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	res, err := s.cfg.TTS.Synthesize(ctx, tts.Request{Text: req.Text, Voice: req.Voice, Language: req.Language})
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		observe.Logger(r.Context()).Warn("synthesis failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "synthesis failed", Fallback: "local"})
		return
	}

	w.Header().Set("Content-Type", res.MIMEType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		slog.Debug("tts response write failed", "error", err)
	}
}

// handleVoices lists the voices of the synthesis chain.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	voices, err := s.cfg.Voices.ListVoices(ctx)
	if err != nil {
		observe.Logger(r.Context()).Warn("voice listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "voice listing failed")
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type summaryResponse struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleSummary returns the cached rolling summary of a session.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	e, ok := s.cfg.Summaries.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no summary for session")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		SessionID: id,
		Summary:   e.Summary,
		Turns:     e.Turns,
		UpdatedAt: e.UpdatedAt,
	})
}
