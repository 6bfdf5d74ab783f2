package transcript

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/parley/internal/transcript/llmcorrect"
	"github.com/MrWong99/parley/internal/transcript/phonetic"
)

// PipelineOption is a functional option for configuring a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPhoneticMatcher attaches the phonetic stage. When nil (the default),
// the stage is skipped.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *Pipeline) { p.phonetic = m }
}

// WithLLMCorrector attaches the LLM stage. When nil (the default), the stage
// is skipped.
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *Pipeline) { p.llm = c }
}

// Pipeline is the two-stage [Corrector]. It is safe for concurrent use.
type Pipeline struct {
	phonetic PhoneticMatcher
	llm      *llmcorrect.Corrector
}

var _ Corrector = (*Pipeline)(nil)

// NewPipeline constructs a Pipeline. Both stages are off unless enabled by
// options.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies the configured stages in order. An LLM stage error is
// returned together with a Result holding the phonetic corrections, so the
// caller can degrade instead of dropping the turn.
func (p *Pipeline) Correct(ctx context.Context, text string, vocabulary []string) (*Result, error) {
	res := &Result{Original: text, Text: text, Corrections: []Correction{}}
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return res, nil
	}

	if p.phonetic != nil {
		res.Text, res.Corrections = p.applyPhonetic(text, vocabulary)
	}

	if p.llm != nil {
		corrected, llmCorrections, err := p.llm.Correct(ctx, res.Text, vocabulary)
		if err != nil {
			return res, err
		}
		res.Text = corrected
		for _, c := range llmCorrections {
			res.Corrections = append(res.Corrections, Correction{
				Original:   c.Original,
				Corrected:  c.Corrected,
				Confidence: c.Confidence,
				Method:     "llm",
			})
		}
	}
	return res, nil
}

// applyPhonetic walks the tokens of text, trying n-gram windows from the
// longest vocabulary term length down to one word, and keeps the longest
// window that matches. Punctuation trailing a replaced window is preserved.
func (p *Pipeline) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		match    func(string) (string, float64, bool)
		maxWords int
	)
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		v := phonetic.Prepare(vocabulary)
		maxWords = v.MaxWords()
		match = func(s string) (string, float64, bool) { return pm.MatchPrepared(s, v) }
	} else {
		maxWords = maxWordCount(vocabulary)
		match = func(s string) (string, float64, bool) { return p.phonetic.Match(s, vocabulary) }
	}
	if maxWords == 0 {
		return text, nil
	}

	out := make([]string, 0, len(tokens))
	var corrections []Correction
	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		for ; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := match(window)
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimFunc(window, unicode.IsPunct), term) {
				// Exact hit: keep the learner's own casing.
				out = append(out, window)
			} else {
				out = append(out, leadingPunct(tokens[i])+term+trailingPunct(tokens[i+n-1]))
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			i += n
			break
		}
		if n == 0 {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " "), corrections
}

// leadingPunct returns the punctuation prefix of tok ("¿", "¡").
func leadingPunct(tok string) string {
	trimmed := strings.TrimLeftFunc(tok, unicode.IsPunct)
	return tok[:len(tok)-len(trimmed)]
}

// trailingPunct returns the punctuation suffix of tok.
func trailingPunct(tok string) string {
	trimmed := strings.TrimRightFunc(tok, unicode.IsPunct)
	return tok[len(trimmed):]
}

// maxWordCount returns the word count of the longest vocabulary term.
func maxWordCount(vocabulary []string) int {
	n := 0
	for _, v := range vocabulary {
		n = max(n, len(strings.Fields(v)))
	}
	return n
}
