// Package deepgram provides an STT provider backed by the Deepgram
// pre-recorded transcription API (POST /v1/listen). It implements
// stt.Provider.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"

	// keywordBoost is the intensifier applied to lesson vocabulary.
	keywordBoost = 2
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language used when a request carries none
// (e.g., "es", "de"). Empty enables Deepgram's language detection.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API origin. Used by tests and proxies.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := req.Validate(); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	clip, err := stt.AsUploadable(req.Audio)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: prepare audio: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.buildURL(req), bytes.NewReader(clip.Data))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", clip.MIMEType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	res, err := parseDeepgramResponse(data)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	if res.Language == "" {
		res.Language = req.Language
	}
	return res, nil
}

// buildURL constructs the listen endpoint URL for req.
func (p *Provider) buildURL(req stt.Request) string {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}
	for _, kw := range req.Keywords {
		// nova-3 takes keyterm; older models use keywords=word:boost.
		if strings.HasPrefix(p.model, "nova-3") {
			q.Add("keyterm", kw)
		} else {
			q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
		}
	}
	return p.baseURL + "/v1/listen?" + q.Encode()
}

// deepgramResponse is the subset of the pre-recorded response we read.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseDeepgramResponse extracts the first alternative of the first channel.
// A response without channels or alternatives is an empty transcript, not an
// error.
func parseDeepgramResponse(data []byte) (stt.Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, fmt.Errorf("parse response: %w", err)
	}

	res := stt.Result{Duration: time.Duration(resp.Metadata.Duration * float64(time.Second))}
	if len(resp.Results.Channels) == 0 {
		return res, nil
	}
	ch := resp.Results.Channels[0]
	res.Language = ch.DetectedLanguage
	if len(ch.Alternatives) == 0 {
		return res, nil
	}
	res.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
	res.Confidence = ch.Alternatives[0].Confidence
	return res, nil
}
