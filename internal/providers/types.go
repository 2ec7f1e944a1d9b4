// Package providers implements the uniform streaming chat interface over the
// heterogeneous model backends an agent may select.
package providers

import "context"

// Roles used in prompt messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one element of the prompt sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input for a streaming chat call.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Chunk is one element of the streamed response. Either a text delta, or the
// terminal done chunk carrying token usage. At most one done chunk is
// emitted, and it is the last.
type Chunk struct {
	Delta        string `json:"delta,omitempty"`
	Done         bool   `json:"done,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Usage is the total token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is the uniform streaming chat interface. Stream pushes chunks to
// onChunk as they arrive and returns the accumulated usage once the backend
// closes the stream. Backend quirks (role coalescing, system separation,
// completion prompt joining) are the provider's responsibility.
type Provider interface {
	Stream(ctx context.Context, req Request, onChunk func(Chunk)) (*Usage, error)
	Name() string
}

// coalesceSameRole merges consecutive same-role messages for backends that
// forbid them (Anthropic rejects user,user sequences).
func coalesceSameRole(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
