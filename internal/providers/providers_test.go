package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalesceSameRole(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "user", Content: "d"},
	}
	got := coalesceSameRole(msgs)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content != "a\n\nb" {
		t.Errorf("merged content = %q, want %q", got[0].Content, "a\n\nb")
	}
	if got[1].Role != "assistant" || got[2].Content != "d" {
		t.Errorf("unexpected sequence: %+v", got)
	}
}

func TestJoinPrompt(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	}
	got := JoinPrompt(msgs)
	want := "System: be terse\n\nHuman: hi\n\nAssistant: hello\n\nHuman: bye\n\nAssistant:"
	if got != want {
		t.Errorf("JoinPrompt = %q, want %q", got, want)
	}
}

func TestRetryDoTransient(t *testing.T) {
	var calls atomic.Int32
	cfg := RetryConfig{MaxRetries: 4, BaseDelay: time.Millisecond}

	got, err := RetryDo(context.Background(), cfg, func() (string, error) {
		if calls.Add(1) < 3 {
			return "", Transient(errors.New("HTTP 503"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls.Load())
	}
}

func TestRetryDoFatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	cfg := RetryConfig{MaxRetries: 4, BaseDelay: time.Millisecond}

	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls.Add(1)
		return "", errors.New("HTTP 401")
	})
	if err == nil || calls.Load() != 1 {
		t.Errorf("fatal error retried %d times, want surfaced on first call", calls.Load())
	}
}

func TestRetryDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}

	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		calls.Add(1)
		return 0, Transient(errors.New("reset"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls.Load())
	}
}

func TestOpenAIChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":3}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIChatProvider("openai-chat", "key", srv.URL, RetryConfig{BaseDelay: time.Millisecond})
	var text strings.Builder
	var done *Chunk
	usage, err := p.Stream(context.Background(), Request{Model: "gpt-test"}, func(c Chunk) {
		if c.Done {
			cc := c
			done = &cc
			return
		}
		text.WriteString(c.Delta)
	})
	if err != nil {
		t.Fatal(err)
	}
	if text.String() != "hello" {
		t.Errorf("text = %q, want hello", text.String())
	}
	if done == nil {
		t.Fatal("no done chunk emitted")
	}
	if done.InputTokens != 12 || done.OutputTokens != 3 {
		t.Errorf("done usage = (%d, %d), want (12, 3)", done.InputTokens, done.OutputTokens)
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAnthropicStreamSeparatesSystem(t *testing.T) {
	var sawSystem bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := jsonDecode(r, &body); err != nil {
			t.Fatal(err)
		}
		_, sawSystem = body["system"]
		msgs := body["messages"].([]any)
		for _, m := range msgs {
			if m.(map[string]any)["role"] == "system" {
				t.Error("system message leaked into messages array")
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"ok\"}}\n\n")
		fmt.Fprint(w, "event: message_delta\ndata: {\"usage\":{\"output_tokens\":1}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", srv.URL, RetryConfig{BaseDelay: time.Millisecond})
	var text strings.Builder
	usage, err := p.Stream(context.Background(), Request{
		Model: "claude-test",
		Messages: []Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "hi"},
		},
	}, func(c Chunk) { text.WriteString(c.Delta) })
	if err != nil {
		t.Fatal(err)
	}
	if !sawSystem {
		t.Error("system field missing from request body")
	}
	if text.String() != "ok" {
		t.Errorf("text = %q, want ok", text.String())
	}
	if usage.InputTokens != 7 || usage.OutputTokens != 1 {
		t.Errorf("usage = %+v, want (7, 1)", usage)
	}
}

func TestStreamRetriesOn503(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIChatProvider("openai-chat", "", srv.URL, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond})
	var text strings.Builder
	if _, err := p.Stream(context.Background(), Request{}, func(c Chunk) { text.WriteString(c.Delta) }); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 (one 503, one success)", hits.Load())
	}
	if text.String() != "x" {
		t.Errorf("text = %q", text.String())
	}
}

func TestResolveSelectors(t *testing.T) {
	retry := DefaultRetryConfig()
	for _, sel := range []string{
		SelectorLocalChat, SelectorAnthropic, SelectorOpenAIChat,
		SelectorOpenAICompletion, SelectorOpenAICompatible,
	} {
		p, err := Resolve(sel, "", "k", FallbackKeys{}, retry)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", sel, err)
			continue
		}
		if p == nil {
			t.Errorf("Resolve(%q) returned nil provider", sel)
		}
	}
	if _, err := Resolve("bogus", "", "", FallbackKeys{}, retry); err == nil {
		t.Error("Resolve(bogus) should fail")
	}
}

func jsonDecode(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
