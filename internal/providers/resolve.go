package providers

import "fmt"

// Selector values an agent record may carry.
const (
	SelectorLocalChat        = "localChat"
	SelectorAnthropic        = "anthropic"
	SelectorOpenAIChat       = "openAIChat"
	SelectorOpenAICompletion = "openAICompletion"
	SelectorOpenAICompatible = "openAICompatible"
)

const localChatDefaultBase = "http://localhost:11434/v1"

// Resolve builds a Provider from an agent's provider selector, optional
// endpoint and optional credential. fallbackKeys supplies process-level API
// keys for agents that carry no credential of their own.
func Resolve(selector, endpoint, credential string, fallback FallbackKeys, retry RetryConfig) (Provider, error) {
	key := credential
	switch selector {
	case SelectorAnthropic:
		if key == "" {
			key = fallback.Anthropic
		}
		return NewAnthropicProvider(key, endpoint, retry), nil
	case SelectorOpenAIChat:
		if key == "" {
			key = fallback.OpenAI
		}
		return NewOpenAIChatProvider("openai-chat", key, endpoint, retry), nil
	case SelectorOpenAICompletion:
		if key == "" {
			key = fallback.OpenAI
		}
		return NewOpenAICompletionProvider(key, endpoint, retry), nil
	case SelectorOpenAICompatible:
		return NewOpenAIChatProvider("openai-compatible", key, endpoint, retry), nil
	case SelectorLocalChat:
		base := endpoint
		if base == "" {
			base = localChatDefaultBase
		}
		return NewOpenAIChatProvider("local-chat", key, base, retry), nil
	default:
		return nil, fmt.Errorf("unknown provider selector %q", selector)
	}
}

// FallbackKeys are process-level credentials from the environment.
type FallbackKeys struct {
	Anthropic string
	OpenAI    string
}
