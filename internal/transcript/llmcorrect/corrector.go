// Package llmcorrect implements the language-model stage of vocabulary
// correction.
//
// The [Corrector] sends the transcript and the lesson vocabulary to an
// [llm.Provider] and asks for a JSON list of substitutions. Every proposed
// change is then verified against a token diff of the two texts: a change
// is kept only if it was declared and its replacement is a vocabulary term.
// Anything else the model touched (grammar, word order, accents on ordinary
// words) is reverted, because the tutor must answer what the learner said.
//
// An unparseable model response leaves the text unchanged without error.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate receives the vocabulary list at call time.
const systemPromptTemplate = `You repair speech-recognition transcripts of a language learner.

The learner is practising the vocabulary listed below. The recogniser sometimes mishears these terms.
Replace a word or phrase ONLY when it is clearly a misrecognised form of one of these terms.
Never fix grammar, conjugation, gender agreement, word order or any other learner mistake.
When unsure, leave the text unchanged.

Vocabulary:
%s
Respond with ONLY a JSON object (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<span as heard>", "corrected": "<vocabulary term>", "confidence": <0.0-1.0>}
  ]
}`

// Correction is one verified substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a Corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns the verified corrected text and its substitutions. With an
// empty vocabulary it returns text unchanged without calling the model.
// Provider errors are returned with the original text.
func (c *Corrector) Correct(ctx context.Context, text string, vocabulary []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llm corrector: complete: %w", err)
	}

	proposed, declared, err := parseResponse(resp.Content)
	if err != nil || proposed == "" {
		return text, nil, nil //nolint:nilerr // an unusable answer means no correction
	}
	out, verified := verify(text, proposed, declared, vocabulary)
	return out, verified, nil
}

func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, v := range vocabulary {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&sb, "- %s\n", v)
		}
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse decodes the model output, tolerating markdown code fences.
func parseResponse(content string) (string, []Correction, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &r); err != nil {
		return "", nil, fmt.Errorf("llm corrector: parse response: %w", err)
	}
	out := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == "" || c.Original == c.Corrected {
			continue
		}
		out = append(out, Correction{Original: c.Original, Corrected: c.Corrected, Confidence: c.Confidence})
	}
	return strings.TrimSpace(r.CorrectedText), out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	s, _ = strings.CutSuffix(s, "```")
	return strings.TrimSpace(s)
}
