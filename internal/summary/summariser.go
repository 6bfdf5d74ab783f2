package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// a practice conversation.
const summarisationPrompt = `Summarise the following language-practice conversation between a learner and a tutor in exactly one sentence.
Mention the topic and anything the learner struggled with. Answer in English.`

// Summariser produces a one-sentence summary of a conversation.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider, maxTokens: 80}
}

// Summarise formats messages into a transcript and asks the model for a
// single sentence. An empty conversation yields an empty summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		speaker := "tutor"
		if m.Role == llm.RoleUser {
			speaker = "learner"
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	return firstSentence(resp.Content), nil
}

// firstSentence trims s to its first sentence.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?"); i >= 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}
