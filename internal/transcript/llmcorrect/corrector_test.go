package llmcorrect_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/transcript/llmcorrect"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func respond(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestCorrector_PromptCarriesVocabulary(t *testing.T) {
	t.Parallel()

	p := respond(`{"corrected_text": "me llamo Ana", "corrections": []}`)
	c := llmcorrect.New(p)

	vocab := []string{"me llamo", "la biblioteca"}
	if _, _, err := c.Correct(context.Background(), "me yamo Ana", vocab); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	req, ok := p.LastCompleteRequest()
	if !ok {
		t.Fatal("expected a Complete call")
	}
	for _, v := range vocab {
		if !strings.Contains(req.SystemPrompt, "- "+v) {
			t.Errorf("system prompt missing %q", v)
		}
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "me yamo Ana" {
		t.Errorf("messages = %+v, want the transcript as the single user message", req.Messages)
	}
	if req.Temperature != 0.1 {
		t.Errorf("Temperature = %v, want 0.1", req.Temperature)
	}
}

func TestCorrector_AcceptsDeclaredVocabularySubstitution(t *testing.T) {
	t.Parallel()

	p := respond("```json\n" + `{
  "corrected_text": "voy a la biblioteca mañana",
  "corrections": [{"original": "la vida teca", "corrected": "la biblioteca", "confidence": 0.9}]
}` + "\n```")
	c := llmcorrect.New(p)

	got, corrections, err := c.Correct(context.Background(), "voy a la vida teca mañana", []string{"la biblioteca"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "voy a la biblioteca mañana" {
		t.Errorf("text = %q", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %+v, want 1", corrections)
	}
	if corrections[0].Original != "la vida teca" || corrections[0].Corrected != "la biblioteca" || corrections[0].Confidence != 0.9 {
		t.Errorf("correction = %+v", corrections[0])
	}
}

func TestCorrector_RevertsGrammarFixes(t *testing.T) {
	t.Parallel()

	// The model fixed the learner's agreement error and declared it. The
	// replacement is not a vocabulary term, so it must be reverted.
	p := respond(`{
  "corrected_text": "la casa es blanca",
  "corrections": [{"original": "blanco", "corrected": "blanca", "confidence": 0.95}]
}`)
	c := llmcorrect.New(p)

	got, corrections, err := c.Correct(context.Background(), "la casa es blanco", []string{"la casa"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "la casa es blanco" {
		t.Errorf("text = %q, want learner text preserved", got)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %+v, want none", corrections)
	}
}

func TestCorrector_RevertsUndeclaredChanges(t *testing.T) {
	t.Parallel()

	p := respond(`{
  "corrected_text": "Yo tengo un perro grande",
  "corrections": [{"original": "pero", "corrected": "perro", "confidence": 0.8}]
}`)
	c := llmcorrect.New(p)

	got, corrections, err := c.Correct(context.Background(), "tengo un pero grande", []string{"perro"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "tengo un perro grande" {
		t.Errorf("text = %q, want inserted word reverted", got)
	}
	if len(corrections) != 1 || corrections[0].Corrected != "perro" {
		t.Errorf("corrections = %+v", corrections)
	}
}

func TestCorrector_UnparseableResponseLeavesText(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond("Sure! Here is the corrected text."))
	got, corrections, err := c.Correct(context.Background(), "hola amigo", []string{"amigo"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if got != "hola amigo" || corrections != nil {
		t.Errorf("got (%q, %+v), want input unchanged", got, corrections)
	}
}

func TestCorrector_ProviderError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("rate limited")}
	c := llmcorrect.New(p)
	got, _, err := c.Correct(context.Background(), "hola", []string{"hola"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got != "hola" {
		t.Errorf("text = %q, want original on error", got)
	}
}

func TestCorrector_SkipsWithoutVocabulary(t *testing.T) {
	t.Parallel()

	p := respond(`{}`)
	c := llmcorrect.New(p, llmcorrect.WithTemperature(0))
	for _, tc := range []struct {
		text  string
		vocab []string
	}{
		{"hola", nil},
		{"   ", []string{"hola"}},
	} {
		if _, _, err := c.Correct(context.Background(), tc.text, tc.vocab); err != nil {
			t.Errorf("Correct(%q): %v", tc.text, err)
		}
	}
	if n := p.CompleteCallCount(); n != 0 {
		t.Errorf("Complete called %d times, want 0", n)
	}
}
