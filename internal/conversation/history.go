package conversation

import (
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// DefaultMaxHistory is the message cap used when none is configured.
const DefaultMaxHistory = 20

// History is the bounded message log of one conversation.
//
// When an append pushes the log past its cap the oldest messages are
// dropped, and a leading assistant message left behind by the trim is dropped
// too so the window always opens with the learner. The latest rolling
// summary, when set, is prepended as a system message so that context lost to
// trimming is not lost entirely.
//
// All methods are safe for concurrent use.
type History struct {
	max int

	mu       sync.Mutex
	messages []llm.Message
	summary  string
}

// NewHistory creates a History holding at most max messages. A non-positive
// max selects [DefaultMaxHistory].
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &History{max: max, messages: make([]llm.Message, 0, max)}
}

// Append adds msgs and trims the log to its cap.
func (h *History) Append(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
	if over := len(h.messages) - h.max; over > 0 {
		h.messages = h.messages[over:]
	}
	for len(h.messages) > 0 && h.messages[0].Role == llm.RoleAssistant {
		h.messages = h.messages[1:]
	}
}

// SetSummary records the latest rolling summary.
func (h *History) SetSummary(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.summary = s
}

// Messages returns a copy of the log, prefixed with the summary message when
// one is set. The result is ready to pass as [llm.CompletionRequest.Messages].
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llm.Message, 0, len(h.messages)+1)
	if h.summary != "" {
		out = append(out, llm.Message{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf("[Earlier in this conversation]: %s", h.summary),
		})
	}
	return append(out, h.messages...)
}

// Len returns the number of logged messages, excluding the summary.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// Reset clears the log and the summary.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
	h.summary = ""
}
