// Package transcript corrects speech-recognition output against the lesson
// vocabulary of a practice session.
//
// Recognisers routinely mishear the very words a learner is practising,
// especially with a non-native accent. The [Pipeline] restores them in up to
// two stages:
//
//  1. Phonetic matching ([PhoneticMatcher]): in-process n-gram alignment of
//     the transcript against vocabulary terms by pronunciation similarity.
//  2. LLM-assisted correction (optional): a language model proposes further
//     vocabulary substitutions, each verified against the transcript before
//     it is accepted.
//
// Neither stage fixes grammar or word choice. The tutor must respond to what
// the learner actually said.
package transcript

import "context"

// Correction captures one substitution made by the pipeline.
type Correction struct {
	// Original is the span as produced by the recogniser.
	Original string `json:"original"`

	// Corrected is the vocabulary term that replaced it.
	Corrected string `json:"corrected"`

	// Confidence is the stage's confidence in the substitution (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Method is "phonetic" or "llm".
	Method string `json:"method"`
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Original is the transcript text as received.
	Original string `json:"original"`

	// Text is the corrected transcript.
	Text string `json:"text"`

	// Corrections lists the substitutions in order. Empty, never nil.
	Corrections []Correction `json:"corrections"`
}

// Corrector fixes vocabulary misrecognitions in a transcript. Implementations
// must be safe for concurrent use.
type Corrector interface {
	// Correct returns a non-nil Result on success. With nothing to correct,
	// Text equals text and Corrections is empty.
	Correct(ctx context.Context, text string, vocabulary []string) (*Result, error)
}

// PhoneticMatcher resolves a phrase to the vocabulary term it sounds most
// like. It must not perform I/O.
type PhoneticMatcher interface {
	// Match returns the best term, a confidence in [0, 1], and whether the
	// match is good enough. When matched is false, corrected equals phrase
	// and confidence is 0.
	Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
