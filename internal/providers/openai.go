package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const openAIAPIBase = "https://api.openai.com/v1"

// OpenAIChatProvider implements Provider for the OpenAI chat-completions API
// and for any OpenAI-compatible server (vLLM, llama.cpp, Ollama) selected via
// a custom endpoint. Roles pass through unchanged.
type OpenAIChatProvider struct {
	name        string
	apiKey      string
	apiBase     string
	client      *http.Client
	retryConfig RetryConfig
}

// NewOpenAIChatProvider creates a chat-completions provider. name
// distinguishes "openai-chat", "openai-compatible" and "local-chat" variants;
// apiBase falls back to the public OpenAI endpoint when empty.
func NewOpenAIChatProvider(name, apiKey, apiBase string, retry RetryConfig) *OpenAIChatProvider {
	if apiBase == "" {
		apiBase = openAIAPIBase
	}
	return &OpenAIChatProvider{
		name:        name,
		apiKey:      apiKey,
		apiBase:     strings.TrimRight(apiBase, "/"),
		client:      &http.Client{Timeout: 300 * time.Second},
		retryConfig: retry,
	}
}

func (p *OpenAIChatProvider) Name() string { return p.name }

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIChatProvider) Stream(ctx context.Context, req Request, onChunk func(Chunk)) (*Usage, error) {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	body := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"stream":      true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return doSSERequest(ctx, p.client, p.apiBase+"/chat/completions", p.apiKey, p.name, body)
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

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(Chunk{Delta: chunk.Choices[0].Delta.Content})
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read stream: %w", p.name, err)
	}

	onChunk(Chunk{Done: true, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens})
	return usage, nil
}

// doSSERequest posts body and returns the response stream, classifying
// connection failures and HTTP 503 as transient.
func doSSERequest(ctx context.Context, client *http.Client, url, apiKey, name string, body map[string]any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, Transient(fmt.Errorf("%s: request failed: %w", name, err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%s: HTTP %d: %s", name, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusServiceUnavailable {
			return nil, Transient(err)
		}
		return nil, err
	}
	return resp.Body, nil
}
