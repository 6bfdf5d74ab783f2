// Package openai provides a TTS provider backed by the OpenAI speech API
// (or any OpenAI-compatible /audio/speech endpoint).
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultModel = oai.SpeechModelGPT4oMiniTTS
	defaultVoice = "coral"
)

// responseMIME maps the requested response format to the MIME type of the
// returned clip. The API labels everything application/octet-stream or
// audio/mpeg, so the format decides.
var responseMIME = map[oai.AudioSpeechNewParamsResponseFormat]string{
	oai.AudioSpeechNewParamsResponseFormatMP3:  "audio/mpeg",
	oai.AudioSpeechNewParamsResponseFormatWAV:  "audio/wav",
	oai.AudioSpeechNewParamsResponseFormatPCM:  "audio/L16; rate=24000",
	oai.AudioSpeechNewParamsResponseFormatFLAC: "audio/flac",
	oai.AudioSpeechNewParamsResponseFormatOpus: "audio/ogg",
	oai.AudioSpeechNewParamsResponseFormatAAC:  "audio/aac",
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format oai.AudioSpeechNewParamsResponseFormat
	speed  float64
}

type config struct {
	baseURL string
	timeout time.Duration
	voice   string
	format  string
	speed   float64
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

// WithDefaultVoice sets the voice used when a request carries none.
// Default: "coral".
func WithDefaultVoice(v string) Option {
	return func(c *config) { c.voice = v }
}

// WithResponseFormat selects the encoded format: "mp3" (default), "wav" or
// "pcm".
func WithResponseFormat(f string) Option {
	return func(c *config) { c.format = f }
}

// WithSpeed sets the speaking rate (0.25–4.0). Learners often benefit from
// values slightly below 1.
func WithSpeed(s float64) Option {
	return func(c *config) { c.speed = s }
}

// New constructs a new OpenAI TTS Provider. An empty model selects
// gpt-4o-mini-tts.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{voice: defaultVoice, format: string(oai.AudioSpeechNewParamsResponseFormatMP3)}
	for _, o := range opts {
		o(cfg)
	}
	format := oai.AudioSpeechNewParamsResponseFormat(cfg.format)
	if _, ok := responseMIME[format]; !ok {
		return nil, fmt.Errorf("openai tts: unsupported response format %q", cfg.format)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		format: format,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: p.format,
	}
	if p.speed > 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Result{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("openai tts: read audio: %w", err)
	}

	res := tts.Result{Audio: data, MIMEType: responseMIME[p.format]}
	if err := res.Validate(); err != nil {
		return tts.Result{}, fmt.Errorf("openai tts: %w", err)
	}
	return res, nil
}

var _ tts.Provider = (*Provider)(nil)
