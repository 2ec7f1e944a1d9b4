package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompletionProvider implements Provider over the legacy text
// completion API. The role-tagged prompt sequence is flattened into a single
// prompt with System:/Human:/Assistant: prefixes and a trailing "Assistant:".
type OpenAICompletionProvider struct {
	apiKey      string
	apiBase     string
	client      *http.Client
	retryConfig RetryConfig
}

func NewOpenAICompletionProvider(apiKey, apiBase string, retry RetryConfig) *OpenAICompletionProvider {
	if apiBase == "" {
		apiBase = openAIAPIBase
	}
	return &OpenAICompletionProvider{
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		client:      &http.Client{Timeout: 300 * time.Second},
		retryConfig: retry,
	}
}

func (p *OpenAICompletionProvider) Name() string { return "openai-completion" }

// JoinPrompt flattens a role-tagged message sequence into a single completion
// prompt. Exported for tests.
func JoinPrompt(msgs []Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

type openAICompletionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompletionProvider) Stream(ctx context.Context, req Request, onChunk func(Chunk)) (*Usage, error) {
	body := map[string]any{
		"model":       req.Model,
		"prompt":      JoinPrompt(req.Messages),
		"temperature": req.Temperature,
		"stream":      true,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return doSSERequest(ctx, p.client, p.apiBase+"/completions", p.apiKey, p.Name(), body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	usage := &Usage{}
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAICompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Text != "" {
			onChunk(Chunk{Delta: chunk.Choices[0].Text})
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("openai-completion: read stream: %w", err)
	}

	onChunk(Chunk{Done: true, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens})
	return usage, nil
}
