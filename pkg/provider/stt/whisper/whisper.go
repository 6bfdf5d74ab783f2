// Package whisper provides an STT provider for a self-hosted whisper.cpp
// server (the whisper-server binary, POST /inference).
//
// Each utterance is uploaded as one multipart/form-data request. Raw PCM
// clips are wrapped in WAV first; other containers are forwarded unchanged,
// which requires the server to run with --convert for webm/ogg input.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("es"))
//	res, err := p.Transcribe(ctx, stt.Request{Audio: clip})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const defaultTimeout = 30 * time.Second

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "small"). When empty the server uses the model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language used when a request carries none. Empty
// (the default) lets whisper auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := req.Validate(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	clip, err := stt.AsUploadable(req.Audio)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: prepare audio: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", stt.Filename(clip))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
	}
	if lang != "" {
		fields["language"] = lang
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if len(req.Keywords) > 0 {
		// whisper has no keyword boosting; an initial prompt biases decoding.
		fields["prompt"] = strings.Join(req.Keywords, ", ")
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Result{Text: strings.TrimSpace(result.Text), Language: lang}, nil
}
