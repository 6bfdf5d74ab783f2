package phonetic_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/transcript/phonetic"
)

var vocab = []string{"biblioteca", "me llamo", "Manzana", "las"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		name        string
		phrase      string
		want        string
		wantMatched bool
		minConf     float64
	}{
		{"misspelling", "bibliotecka", "biblioteca", true, 0.9},
		{"multi-word mishearing", "me yamo", "me llamo", true, 0.7},
		{"case and punctuation", "manzana!", "Manzana", true, 1},
		{"unrelated word", "hello", "hello", false, 0},
		{"short token only exact", "la", "la", false, 0},
		{"short token exact", "Las", "las", true, 1},
		{"empty phrase", "   ", "   ", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tt.phrase, vocab)
			if ok != tt.wantMatched {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.phrase, ok, tt.wantMatched)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.phrase, got, tt.want)
			}
			if ok && conf < tt.minConf {
				t.Errorf("Match(%q) confidence = %f, want >= %f", tt.phrase, conf, tt.minConf)
			}
			if !ok && conf != 0 {
				t.Errorf("Match(%q) confidence = %f on no match", tt.phrase, conf)
			}
		})
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	got, conf, ok := phonetic.New().Match("biblioteca", nil)
	if ok || got != "biblioteca" || conf != 0 {
		t.Fatalf("Match = %q, %f, %v", got, conf, ok)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"uno", "", "  ", "buenos días", "casa"})
	if v.Len() != 3 {
		t.Errorf("Len = %d, want 3", v.Len())
	}
	if v.MaxWords() != 2 {
		t.Errorf("MaxWords = %d, want 2", v.MaxWords())
	}
	if phonetic.Prepare(nil).MaxWords() != 0 {
		t.Error("empty vocabulary should have MaxWords 0")
	}
}

func TestWithOptions_StrictThresholdRejects(t *testing.T) {
	t.Parallel()

	m := phonetic.New(phonetic.WithPhoneticThreshold(0.999), phonetic.WithFuzzyThreshold(0.999))
	if _, _, ok := m.Match("bibliotecka", vocab); ok {
		t.Fatal("near miss accepted with strict thresholds")
	}
	if got, _, ok := m.Match("biblioteca", vocab); !ok || got != "biblioteca" {
		t.Fatal("exact match rejected with strict thresholds")
	}
}
