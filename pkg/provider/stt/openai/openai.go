// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe, ...) or any compatible
// endpoint such as a self-hosted faster-whisper server.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const defaultModel = oai.AudioModelGPT4oMiniTranscribe

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL  string
	timeout  time.Duration
	language string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLanguage sets the language used when a request carries none.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// New constructs a new OpenAI STT Provider. An empty model selects
// gpt-4o-mini-transcribe.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, language: cfg.language}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := req.Validate(); err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: %w", err)
	}
	clip, err := stt.AsUploadable(req.Audio)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: prepare audio: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(clip.Data), stt.Filename(clip), clip.MediaType()),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if len(req.Keywords) > 0 {
		params.Prompt = oai.String("Vocabulary: " + strings.Join(req.Keywords, ", "))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}
