package call

import (
	"sync"

	"github.com/MrWong99/phonoxa/pkg/provider/llm"
)

// TokenCounter estimates the token cost of messages. [llm.Provider]
// satisfies it.
type TokenCounter interface {
	CountTokens(messages []llm.Message) (int, error)
}

// History is the in-memory conversation of one call. When the estimated
// token count exceeds the budget the oldest exchanges are dropped, so the
// most recent turns always reach the LLM.
//
// All methods are safe for concurrent use.
type History struct {
	budget  int
	counter TokenCounter

	mu       sync.Mutex
	messages []llm.Message
}

// NewHistory returns an empty History. A budget <= 0 disables trimming. A
// nil counter falls back to [llm.EstimateTokens].
func NewHistory(budget int, counter TokenCounter) *History {
	return &History{budget: budget, counter: counter}
}

// AddExchange appends one user turn and the agent's reply, then trims.
func (h *History) AddExchange(user, agent string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: agent},
	)
	h.trim()
}

// AddAgent appends an agent-only turn such as the greeting.
func (h *History) AddAgent(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, llm.Message{Role: llm.RoleAssistant, Content: text})
	h.trim()
}

// Messages returns a copy of the history.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// trim drops the oldest messages while over budget, keeping at least the
// latest exchange. Must be called with h.mu held.
func (h *History) trim() {
	if h.budget <= 0 {
		return
	}
	for len(h.messages) > 2 && h.tokens() > h.budget {
		drop := 1
		if h.messages[0].Role == llm.RoleUser && h.messages[1].Role == llm.RoleAssistant {
			drop = 2
		}
		h.messages = h.messages[drop:]
	}
}

func (h *History) tokens() int {
	if h.counter != nil {
		if n, err := h.counter.CountTokens(h.messages); err == nil {
			return n
		}
	}
	return llm.EstimateTokens(h.messages)
}
