// Package phonetic implements [transcript.PhoneticMatcher] for lesson
// vocabulary using Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase heard by the recogniser is compared against every vocabulary
// term. Terms sharing at least one Double Metaphone code with the phrase are
// phonetic candidates and need a Jaro-Winkler score of at least the phonetic
// threshold (default 0.70). Without a phonetic candidate, a term can still
// win on spelling alone with the stricter fuzzy threshold (default 0.85).
//
// Tokens shorter than [MinTokenLen] runes are only ever matched exactly.
// Articles and pronouns ("el", "la", "tu") are otherwise pulled towards
// short vocabulary words, which rewrites what the learner actually said.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// MinTokenLen is the shortest phrase, in runes, eligible for an inexact
	// match.
	MinTokenLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// shares a phonetic code with the phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term matched
// on spelling only. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a vocabulary entry with its precomputed comparison forms.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Vocabulary is a prepared vocabulary list. Preparing once per session
// avoids recomputing phonetic codes for every n-gram of every transcript.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes the comparison forms of vocab. Blank entries are dropped.
func Prepare(vocab []string) *Vocabulary {
	v := &Vocabulary{}
	for _, w := range vocab {
		lower := normalise(w)
		if lower == "" {
			continue
		}
		toks := strings.Fields(lower)
		v.terms = append(v.terms, term{
			canonical: strings.TrimSpace(w),
			lower:     lower,
			tokens:    toks,
			codes:     codes(toks),
		})
		v.maxWords = max(v.maxWords, len(toks))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 for an empty
// vocabulary.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match implements [transcript.PhoneticMatcher]. When matched is false,
// corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, vocab []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(phrase, Prepare(vocab))
}

// MatchPrepared is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchPrepared(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	lower := normalise(phrase)
	if v == nil || len(v.terms) == 0 || lower == "" {
		return phrase, 0, false
	}

	short := utf8.RuneCountInString(strings.ReplaceAll(lower, " ", "")) < MinTokenLen
	toks := strings.Fields(lower)
	in := codes(toks)

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for _, t := range v.terms {
		if t.lower == lower {
			return t.canonical, 1, true
		}
		if short {
			continue
		}
		score := similarity(toks, t.tokens, lower, t.lower)
		switch {
		case overlaps(in, t.codes):
			if score >= m.phoneticThreshold && (!bestPhon || score > bestScore) {
				best, bestScore, bestPhon = t.canonical, score, true
			}
		case !bestPhon && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = t.canonical, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// normalise lower-cases s, trims surrounding punctuation from every token and
// collapses whitespace.
func normalise(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) })
		if f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// codes returns the union of the non-empty Double Metaphone codes of toks.
func codes(toks []string) map[string]struct{} {
	set := make(map[string]struct{}, len(toks)*2)
	for _, t := range toks {
		p, s := matchr.DoubleMetaphone(t)
		for _, c := range []string{p, s} {
			if c != "" {
				set[c] = struct{}{}
			}
		}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings and the
// strings with spaces removed ("me yamo" vs "mellamo"). Token pairs are not
// scored individually: "la casa" must not match the term "casa blanca" on
// "casa" alone.
func similarity(inToks, termToks []string, in, t string) float64 {
	score := matchr.JaroWinkler(in, t, false)
	if len(inToks) > 1 || len(termToks) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(inToks, ""), strings.Join(termToks, ""), false))
	}
	return score
}
