// Package coqui provides a TTS provider for a self-hosted Coqui TTS server.
// It implements tts.Provider and tts.VoiceLister and returns audio/wav clips.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis via GET /api/tts with query
//     parameters; voices from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis via
//     POST /tts_to_audio/ with a JSON body; voices from GET /studio_speakers.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("es"))
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language code sent to the server when a
// request carries none. Defaults to "en".
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

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Provider that targets the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// studioSpeakersResponse is keyed by voice name; values are ignored.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the body of GET /details (standard mode). Speakers is
// nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var (
		httpReq  *http.Request
		err      error
		endpoint string
	)
	if p.apiMode == APIModeStandard {
		endpoint = apiTTSEndpoint
		params := url.Values{}
		params.Set("text", req.Text)
		if req.Voice != "" {
			params.Set("speaker_id", req.Voice)
		}
		if lang != "" {
			params.Set("language_id", lang)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint+"?"+params.Encode(), nil)
	} else {
		endpoint = ttsEndpoint
		data, merr := json.Marshal(ttsRequest{Text: req.Text, SpeakerWav: req.Voice, Language: lang})
		if merr != nil {
			return tts.Result{}, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, bytes.NewReader(data))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Result{}, fmt.Errorf("coqui: %s %s returned status %d", httpReq.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	// The server always answers WAV but some builds omit the content type.
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = "audio/wav"
	}
	res := tts.Result{Audio: wav, MIMEType: mimeType}
	if err := res.Validate(); err != nil {
		return tts.Result{}, fmt.Errorf("coqui: %w", err)
	}
	return res, nil
}

// ListVoices retrieves the voices offered by the server.
//
// In APIModeXTTS it reads GET /studio_speakers. In APIModeStandard it reads
// GET /details and returns one voice per speaker for multi-speaker models, or
// a single voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if p.apiMode == APIModeStandard {
		var details detailsResponse
		if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
			return nil, err
		}
		return voicesFromDetails(details), nil
	}

	var raw studioSpeakersResponse
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	voices := make([]tts.Voice, 0, len(names))
	for _, name := range names {
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return voices, nil
}

func voicesFromDetails(details detailsResponse) []tts.Voice {
	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		voices := make([]tts.Voice, 0, len(speakers))
		for _, spk := range speakers {
			voices = append(voices, tts.Voice{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
			})
		}
		return voices
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.Voice{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{"type": "single-speaker", "model_name": name},
	}}
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}
