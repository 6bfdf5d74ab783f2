package conversation

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const defaultPersona = "You are a friendly, patient language tutor having a spoken conversation with a learner."

// LanguageName returns the English name of a BCP-47 code followed by its
// native name, e.g. "Spanish (español)". Unknown codes are returned as given.
func LanguageName(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	en := display.English.Languages().Name(tag)
	if en == "" {
		return code
	}
	self := display.Self.Name(tag)
	if self == "" || strings.EqualFold(self, en) {
		return en
	}
	return fmt.Sprintf("%s (%s)", en, self)
}

// FormatSystemPrompt builds the tutor's system prompt from the configured
// persona, the practised language and the lesson vocabulary.
func FormatSystemPrompt(persona, lang string, vocabulary []string) string {
	var sb strings.Builder

	p := strings.TrimSpace(persona)
	if p == "" {
		p = defaultPersona
	}
	sb.WriteString(p)

	name := LanguageName(lang)
	sb.WriteString("\n\n## Conversation Rules\n")
	fmt.Fprintf(&sb, "- Speak only %s, at a level the learner can follow.\n", name)
	sb.WriteString("- Keep every reply to one to three short sentences; it will be read aloud.\n")
	sb.WriteString("- End most replies with a question that keeps the learner talking.\n")
	sb.WriteString("- When the learner makes a mistake, repeat the corrected phrase naturally instead of explaining grammar.\n")
	sb.WriteString("- Never use markdown, lists or emoji.")

	if len(vocabulary) > 0 {
		sb.WriteString("\n\n## Lesson Vocabulary\n")
		sb.WriteString("Work these words into the conversation when it fits: ")
		sb.WriteString(strings.Join(vocabulary, ", "))
		sb.WriteString(".")
	}
	return sb.String()
}
