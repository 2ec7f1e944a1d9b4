package swarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openswarm-dev/swarmgate/internal/providers"
	"github.com/openswarm-dev/swarmgate/internal/tools"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

// scriptedProvider replays one canned response per call, streamed in small
// chunks so incremental parsing is exercised.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	requests  []providers.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req providers.Request, onChunk func(providers.Chunk)) (*providers.Usage, error) {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	var resp string
	if idx < len(p.responses) {
		resp = p.responses[idx]
	}
	p.mu.Unlock()

	for i := 0; i < len(resp); i += 7 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + 7
		if end > len(resp) {
			end = len(resp)
		}
		onChunk(providers.Chunk{Delta: resp[i:end]})
	}
	onChunk(providers.Chunk{Done: true, InputTokens: 3, OutputTokens: 5})
	return &providers.Usage{InputTokens: 3, OutputTokens: 5}, nil
}

func (p *scriptedProvider) request(i int) (providers.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.requests) {
		return providers.Request{}, false
	}
	return p.requests[i], true
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// blockingProvider emits one chunk then parks until cancellation.
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Stream(ctx context.Context, req providers.Request, onChunk func(providers.Chunk)) (*providers.Usage, error) {
	onChunk(providers.Chunk{Delta: "thinking..."})
	close(p.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedProvider emits one chunk, parks until released, then finishes with a
// canned answer. Lets a test hold an agent mid-stream and resume it.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
	answer  string
}

func newGatedProvider(answer string) *gatedProvider {
	return &gatedProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
		answer:  answer,
	}
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) Stream(ctx context.Context, req providers.Request, onChunk func(providers.Chunk)) (*providers.Usage, error) {
	onChunk(providers.Chunk{Delta: "working... "})
	close(p.started)
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	onChunk(providers.Chunk{Delta: p.answer})
	onChunk(providers.Chunk{Done: true, InputTokens: 3, OutputTokens: 5})
	return &providers.Usage{InputTokens: 3, OutputTokens: 5}, nil
}

type failingProvider struct{}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Stream(ctx context.Context, req providers.Request, onChunk func(providers.Chunk)) (*providers.Usage, error) {
	return nil, errors.New("backend unavailable")
}

type testRig struct {
	reg       *Registry
	eng       *Engine
	rb        *recordingBus
	projects  string
	providers map[string]providers.Provider
	mu        sync.Mutex
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		rb:        &recordingBus{},
		projects:  t.TempDir(),
		providers: map[string]providers.Provider{},
	}
	rig.reg = NewRegistry(nil, rig.rb, nil)
	rig.eng = NewEngine(rig.reg, rig.rb, tools.NewDispatcher(rig.projects), providers.FallbackKeys{}, providers.RetryConfig{}, Options{
		ProviderFor: func(a *Agent) (providers.Provider, error) {
			rig.mu.Lock()
			defer rig.mu.Unlock()
			p, ok := rig.providers[a.Name]
			if !ok {
				return nil, fmt.Errorf("no provider scripted for %s", a.Name)
			}
			return p, nil
		},
	})
	return rig
}

func (r *testRig) addAgent(t *testing.T, p CreateParams, responses ...string) (*Agent, *scriptedProvider) {
	t.Helper()
	if p.Provider == "" {
		p.Provider = providers.SelectorAnthropic
	}
	a, err := r.reg.Create(p)
	if err != nil {
		t.Fatalf("Create(%s): %v", p.Name, err)
	}
	sp := &scriptedProvider{responses: responses}
	r.mu.Lock()
	r.providers[a.Name] = sp
	r.mu.Unlock()
	return a, sp
}

func (r *testRig) setProvider(name string, p providers.Provider) {
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
}

func (r *testRig) makeProject(t *testing.T, name string, files map[string]string) {
	t.Helper()
	root := filepath.Join(r.projects, name)
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
}

func lastUserMessage(t *testing.T, req providers.Request) string {
	t.Helper()
	if len(req.Messages) == 0 {
		t.Fatal("request has no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != providers.RoleUser {
		t.Fatalf("last message role = %q, want user", last.Role)
	}
	return last.Content
}

func TestChatPlainTurn(t *testing.T) {
	rig := newRig(t)
	a, sp := rig.addAgent(t, CreateParams{Name: "Alice"}, "Hello there!")

	var streamed strings.Builder
	resp, err := rig.eng.Chat(context.Background(), a.ID, "hi", func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "Hello there!" {
		t.Errorf("response = %q", resp)
	}
	if streamed.String() != "Hello there!" {
		t.Errorf("streamed = %q", streamed.String())
	}

	got, _ := rig.reg.Get(a.ID)
	if got.Status != StatusIdle {
		t.Errorf("status = %q, want idle", got.Status)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if got.History[0].Role != RoleUser || got.History[0].Content != "hi" {
		t.Errorf("history[0] = %+v", got.History[0])
	}
	if got.History[1].Role != RoleAssistant || got.History[1].Content != "Hello there!" {
		t.Errorf("history[1] = %+v", got.History[1])
	}
	if got.Metrics.TotalMessages != 1 {
		t.Errorf("totalMessages = %d, want 1", got.Metrics.TotalMessages)
	}
	if got.Metrics.TotalInputTokens != 3 || got.Metrics.TotalOutputTokens != 5 {
		t.Errorf("token metrics = %+v", got.Metrics)
	}
	if sp.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", sp.calls())
	}
	for _, kind := range []string{protocol.EventStreamStart, protocol.EventStreamChunk, protocol.EventStreamEnd} {
		if rig.rb.count(kind) == 0 {
			t.Errorf("no %s event published", kind)
		}
	}
}

func TestChatEmptyResponseStillRecorded(t *testing.T) {
	rig := newRig(t)
	a, _ := rig.addAgent(t, CreateParams{Name: "Quiet"}, "")

	resp, err := rig.eng.Chat(context.Background(), a.ID, "hi", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "" {
		t.Errorf("response = %q, want empty", resp)
	}
	got, _ := rig.reg.Get(a.ID)
	if len(got.History) != 2 || got.History[1].Role != RoleAssistant || got.History[1].Content != "" {
		t.Fatalf("history = %+v, want empty assistant entry", got.History)
	}
}

func TestToolLoop(t *testing.T) {
	rig := newRig(t)
	rig.makeProject(t, "demo", map[string]string{"README.md": "hello world"})
	a, sp := rig.addAgent(t, CreateParams{Name: "Worker", Project: "demo"},
		`Let me check. @read_file("README.md")`,
		"The file says hello.",
	)

	resp, err := rig.eng.Chat(context.Background(), a.ID, "what does the readme say?", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "The file says hello." {
		t.Errorf("final response = %q", resp)
	}

	req, ok := sp.request(1)
	if !ok {
		t.Fatal("no continuation request issued")
	}
	want := "[TOOL RESULTS]\n--- read_file(README.md) ---\nhello world\n\nUse these results to continue the task."
	if got := lastUserMessage(t, req); got != want {
		t.Errorf("continuation = %q\nwant %q", got, want)
	}

	got, _ := rig.reg.Get(a.ID)
	if len(got.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(got.History))
	}
	cont := got.History[2]
	if cont.Kind != ProvenanceToolResult {
		t.Errorf("continuation kind = %q, want tool-result", cont.Kind)
	}
	if len(cont.ToolResults) != 1 || cont.ToolResults[0].Tool != "read_file" || !cont.ToolResults[0].Success {
		t.Errorf("tool results payload = %+v", cont.ToolResults)
	}
	if got.Metrics.TotalMessages != 1 {
		t.Errorf("totalMessages = %d, want 1 for the whole turn", got.Metrics.TotalMessages)
	}
	if rig.rb.count(protocol.EventToolStart) != 1 || rig.rb.count(protocol.EventToolResult) != 1 {
		t.Errorf("tool events = start %d result %d, want 1/1",
			rig.rb.count(protocol.EventToolStart), rig.rb.count(protocol.EventToolResult))
	}
}

func TestToolLoopFailureHint(t *testing.T) {
	rig := newRig(t)
	rig.makeProject(t, "demo", nil)
	a, sp := rig.addAgent(t, CreateParams{Name: "Worker", Project: "demo"},
		`@read_file("missing.txt")`,
		"Could not read it.",
	)

	if _, err := rig.eng.Chat(context.Background(), a.ID, "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	req, ok := sp.request(1)
	if !ok {
		t.Fatal("no continuation request issued")
	}
	cont := lastUserMessage(t, req)
	if !strings.Contains(cont, "--- read_file(missing.txt) ---\nError: ") {
		t.Errorf("continuation missing error section: %q", cont)
	}
	if !strings.Contains(cont, "Some tool calls failed.") {
		t.Errorf("continuation missing failure hint: %q", cont)
	}
	if rig.rb.count(protocol.EventToolError) != 1 {
		t.Errorf("tool error events = %d, want 1", rig.rb.count(protocol.EventToolError))
	}
}

func TestReportErrorShortCircuits(t *testing.T) {
	rig := newRig(t)
	rig.makeProject(t, "demo", nil)
	a, sp := rig.addAgent(t, CreateParams{Name: "Worker", Project: "demo"},
		`@report_error("dependency missing")`,
		"Waiting for guidance.",
	)

	if _, err := rig.eng.Chat(context.Background(), a.ID, "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if rig.rb.count(protocol.EventErrorReport) != 1 {
		t.Fatalf("error report events = %d, want 1", rig.rb.count(protocol.EventErrorReport))
	}
	req, _ := sp.request(1)
	cont := lastUserMessage(t, req)
	if !strings.Contains(cont, "You reported an error.") {
		t.Errorf("continuation missing report hint: %q", cont)
	}
	got, _ := rig.reg.Get(a.ID)
	if !got.History[2].ToolResults[0].IsErrorReport {
		t.Errorf("payload not flagged as error report: %+v", got.History[2].ToolResults)
	}
}

func TestDelegationRoundTrip(t *testing.T) {
	rig := newRig(t)
	leader, lp := rig.addAgent(t, CreateParams{Name: "Leader", IsLeader: true},
		`On it. @delegate(Worker, "build the parser")`,
		"All done, parser built.",
	)
	worker, wp := rig.addAgent(t, CreateParams{Name: "Worker"}, "parser complete")

	var streamed strings.Builder
	resp, err := rig.eng.Chat(context.Background(), leader.ID, "please build", func(s string) { streamed.WriteString(s) })
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "All done, parser built." {
		t.Errorf("final response = %q", resp)
	}
	if !strings.Contains(streamed.String(), "--- Delegating to Worker ---") {
		t.Errorf("stream missing delegation marker: %q", streamed.String())
	}

	wreq, ok := wp.request(0)
	if !ok {
		t.Fatal("worker never called")
	}
	if got := lastUserMessage(t, wreq); got != "[TASK from Leader]: build the parser" {
		t.Errorf("worker task = %q", got)
	}

	lreq, ok := lp.request(1)
	if !ok {
		t.Fatal("leader continuation never issued")
	}
	want := "[DELEGATION RESULTS]\n--- Response from Worker ---\nparser complete\n\nAll delegated tasks completed. Synthesise the results above into a final response for the user."
	if got := lastUserMessage(t, lreq); got != want {
		t.Errorf("continuation = %q\nwant %q", got, want)
	}

	gw, _ := rig.reg.Get(worker.ID)
	if len(gw.Todos) != 1 {
		t.Fatalf("worker todos = %+v, want 1", gw.Todos)
	}
	todo := gw.Todos[0]
	if todo.Text != "[From Leader] build the parser" {
		t.Errorf("todo text = %q", todo.Text)
	}
	if !todo.Done || todo.CompletedAt == nil {
		t.Errorf("todo not completed: %+v", todo)
	}
	if gw.Metrics.TotalMessages != 1 {
		t.Errorf("worker totalMessages = %d, want 1", gw.Metrics.TotalMessages)
	}
	gl, _ := rig.reg.Get(leader.ID)
	if gl.Metrics.TotalMessages != 1 {
		t.Errorf("leader totalMessages = %d, want 1", gl.Metrics.TotalMessages)
	}
	if rig.rb.count(protocol.EventDelegation) != 1 {
		t.Errorf("delegation events = %d, want 1", rig.rb.count(protocol.EventDelegation))
	}
}

func TestDelegationUnknownAgent(t *testing.T) {
	rig := newRig(t)
	leader, lp := rig.addAgent(t, CreateParams{Name: "Leader", IsLeader: true},
		`@delegate(Ghost, "haunt the codebase")`,
		"Ghost was unavailable.",
	)

	if _, err := rig.eng.Chat(context.Background(), leader.ID, "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	req, ok := lp.request(1)
	if !ok {
		t.Fatal("no continuation issued")
	}
	cont := lastUserMessage(t, req)
	if !strings.Contains(cont, "--- Error from Ghost ---\nAgent \"Ghost\" not found in swarm") {
		t.Errorf("continuation missing not-found error: %q", cont)
	}
	if !strings.Contains(cont, "Some agents reported errors. Decide whether to retry, reassign, or adapt your plan accordingly.") {
		t.Errorf("continuation missing failure hint: %q", cont)
	}
}

func TestDelegationSerialisedPerWorker(t *testing.T) {
	rig := newRig(t)
	leader, _ := rig.addAgent(t, CreateParams{Name: "Leader", IsLeader: true},
		`@delegate(Worker, "task one") @delegate(Worker, "task two")`,
		"both done",
	)
	_, wp := rig.addAgent(t, CreateParams{Name: "Worker"}, "one done", "two done")

	if _, err := rig.eng.Chat(context.Background(), leader.ID, "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if wp.calls() != 2 {
		t.Fatalf("worker calls = %d, want 2", wp.calls())
	}
	first, _ := wp.request(0)
	second, _ := wp.request(1)
	if got := lastUserMessage(t, first); got != "[TASK from Leader]: task one" {
		t.Errorf("first task = %q, FIFO order violated", got)
	}
	if got := lastUserMessage(t, second); got != "[TASK from Leader]: task two" {
		t.Errorf("second task = %q, FIFO order violated", got)
	}
}

func TestRecursionDepthCap(t *testing.T) {
	rig := newRig(t)
	rig.makeProject(t, "demo", map[string]string{"README.md": "x"})

	loop := `@read_file("README.md")`
	a, err := rig.reg.Create(CreateParams{Name: "Looper", Provider: providers.SelectorAnthropic, Project: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	sp := &scriptedProvider{responses: []string{loop, loop, loop, loop}}

	eng := NewEngine(rig.reg, rig.rb, tools.NewDispatcher(rig.projects), providers.FallbackKeys{}, providers.RetryConfig{}, Options{
		MaxDepth: 2,
		ProviderFor: func(ag *Agent) (providers.Provider, error) { return sp, nil },
	})

	resp, err := eng.Chat(context.Background(), a.ID, "go", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	// Depths 0 and 1 parse tool calls; depth 2 hits the cap and the raw
	// directive comes back as the final answer.
	if sp.calls() != 3 {
		t.Errorf("provider calls = %d, want 3", sp.calls())
	}
	if resp != loop {
		t.Errorf("final response = %q, want raw directive", resp)
	}
}

func TestStopMidStream(t *testing.T) {
	rig := newRig(t)
	a, _ := rig.addAgent(t, CreateParams{Name: "Alice"})
	bp := &blockingProvider{started: make(chan struct{})}
	rig.setProvider("Alice", bp)

	done := make(chan error, 1)
	go func() {
		_, err := rig.eng.Chat(context.Background(), a.ID, "hi", nil)
		done <- err
	}()

	select {
	case <-bp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never started")
	}
	if !rig.eng.Stop(a.ID) {
		t.Fatal("Stop returned false for a busy agent")
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("err = %v, want ErrStopped", err)
		}
		if err.Error() != "stopped by user" {
			t.Fatalf("err message = %q", err.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not unwind after stop")
	}

	got, _ := rig.reg.Get(a.ID)
	if got.Status != StatusIdle {
		t.Errorf("status = %q, want idle", got.Status)
	}
	if len(got.History) != 1 || got.History[0].Role != RoleUser {
		t.Errorf("history = %+v, want only the user entry", got.History)
	}
	if rig.rb.count(protocol.EventStopped) != 1 {
		t.Errorf("stopped events = %d, want 1", rig.rb.count(protocol.EventStopped))
	}
	if rig.eng.Stop(a.ID) {
		t.Error("Stop returned true for an idle agent")
	}
}

func TestChatWhileBusyRejected(t *testing.T) {
	rig := newRig(t)
	a, _ := rig.addAgent(t, CreateParams{Name: "Alice"})
	gp := newGatedProvider("first turn answer")
	rig.setProvider("Alice", gp)

	done := make(chan error, 1)
	go func() {
		_, err := rig.eng.Chat(context.Background(), a.ID, "first", nil)
		done <- err
	}()
	select {
	case <-gp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never started")
	}

	if _, err := rig.eng.Chat(context.Background(), a.ID, "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Chat = %v, want ErrBusy", err)
	}
	got, _ := rig.reg.Get(a.ID)
	if got.Status != StatusBusy {
		t.Errorf("status = %q, want busy while first turn streams", got.Status)
	}
	if len(got.History) != 1 {
		t.Errorf("history length = %d, rejected turn must not append", len(got.History))
	}

	close(gp.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first Chat: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first turn did not finish")
	}

	got, _ = rig.reg.Get(a.ID)
	if got.Metrics.TotalMessages != 1 {
		t.Errorf("totalMessages = %d, want 1", got.Metrics.TotalMessages)
	}

	// The agent accepts turns again once the first one released its token.
	rig.setProvider("Alice", &scriptedProvider{responses: []string{"third turn answer"}})
	if resp, err := rig.eng.Chat(context.Background(), a.ID, "third", nil); err != nil || resp != "third turn answer" {
		t.Fatalf("Chat after release = %q, %v", resp, err)
	}
	got, _ = rig.reg.Get(a.ID)
	if got.Metrics.TotalMessages != 2 {
		t.Errorf("totalMessages = %d, want 2 after two completed turns", got.Metrics.TotalMessages)
	}
}

func TestStopDuringDelegationAwait(t *testing.T) {
	rig := newRig(t)
	leader, _ := rig.addAgent(t, CreateParams{Name: "Leader", IsLeader: true},
		`@delegate(Worker, "slow task")`,
		"never reached",
	)
	worker, _ := rig.addAgent(t, CreateParams{Name: "Worker"})
	gp := newGatedProvider("worker done")
	rig.setProvider("Worker", gp)

	done := make(chan error, 1)
	go func() {
		_, err := rig.eng.Chat(context.Background(), leader.ID, "go", nil)
		done <- err
	}()
	select {
	case <-gp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}

	// The leader is parked awaiting the worker's future; stopping it must
	// unwind immediately, not after the worker resolves.
	if !rig.eng.Stop(leader.ID) {
		t.Fatal("Stop returned false for a busy leader")
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("err = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leader did not unwind while worker was still running")
	}
	gl, _ := rig.reg.Get(leader.ID)
	if gl.Status != StatusIdle {
		t.Errorf("leader status = %q, want idle", gl.Status)
	}

	// The dispatched worker is detached from the leader's token and runs
	// to completion.
	close(gp.release)
	deadline := time.After(2 * time.Second)
	for {
		gw, _ := rig.reg.Get(worker.ID)
		if len(gw.Todos) == 1 && gw.Todos[0].Done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker todo never completed: %+v", gw.Todos)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProviderFailureSetsErrorState(t *testing.T) {
	rig := newRig(t)
	a, _ := rig.addAgent(t, CreateParams{Name: "Alice"})
	rig.setProvider("Alice", &failingProvider{})

	_, err := rig.eng.Chat(context.Background(), a.ID, "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "backend unavailable") {
		t.Fatalf("err = %v, want backend unavailable", err)
	}
	got, _ := rig.reg.Get(a.ID)
	if got.Status != StatusError {
		t.Errorf("status = %q, want error", got.Status)
	}
	if got.Metrics.Errors != 1 {
		t.Errorf("errors = %d, want 1", got.Metrics.Errors)
	}
	if rig.rb.count(protocol.EventStreamError) != 1 {
		t.Errorf("stream error events = %d, want 1", rig.rb.count(protocol.EventStreamError))
	}
}

func TestLeaderRosterOnlyAtTopLevel(t *testing.T) {
	rig := newRig(t)
	leader, lp := rig.addAgent(t, CreateParams{Name: "Leader", IsLeader: true},
		`@delegate(Worker, "subtask")`,
		"done",
	)
	_, wp := rig.addAgent(t, CreateParams{Name: "Worker", Role: "builder"}, "ok")

	if _, err := rig.eng.Chat(context.Background(), leader.ID, "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	top, _ := lp.request(0)
	if sys := top.Messages[0].Content; !strings.Contains(sys, "Worker") || !strings.Contains(sys, "@delegate(") {
		t.Errorf("leader system prompt missing roster: %q", sys)
	}
	if sys := top.Messages[0].Content; !strings.Contains(sys, "review error reports") {
		t.Errorf("roster missing error-report guidance: %q", sys)
	}
	cont, _ := lp.request(1)
	if sys := cont.Messages[0].Content; strings.Contains(sys, "## Your team") {
		t.Errorf("continuation system prompt must not repeat the roster: %q", sys)
	}
	wreq, _ := wp.request(0)
	if sys := wreq.Messages[0].Content; strings.Contains(sys, "## Your team") {
		t.Errorf("worker system prompt must not contain the roster: %q", sys)
	}
}

func TestBroadcast(t *testing.T) {
	rig := newRig(t)
	a, _ := rig.addAgent(t, CreateParams{Name: "Alice"}, "alice here")
	b, _ := rig.addAgent(t, CreateParams{Name: "Bob"}, "bob here")

	out := rig.eng.Broadcast(context.Background(), "status report", nil)
	if len(out) != 2 {
		t.Fatalf("broadcast outcomes = %d, want 2", len(out))
	}
	if out[a.ID].Response != "alice here" || out[a.ID].Err != nil {
		t.Errorf("alice outcome = %+v", out[a.ID])
	}
	if out[b.ID].Response != "bob here" || out[b.ID].Err != nil {
		t.Errorf("bob outcome = %+v", out[b.ID])
	}
}

func TestHandoff(t *testing.T) {
	rig := newRig(t)
	alice, _ := rig.addAgent(t, CreateParams{Name: "Alice"})
	bob, bp := rig.addAgent(t, CreateParams{Name: "Bob"}, "taking over")

	if err := rig.reg.AppendHistory(alice.ID, HistoryEntry{Role: RoleUser, Content: "fix the build"}); err != nil {
		t.Fatal(err)
	}
	if err := rig.reg.AppendHistory(alice.ID, HistoryEntry{Role: RoleAssistant, Content: "started on it"}); err != nil {
		t.Fatal(err)
	}

	resp, err := rig.eng.Handoff(context.Background(), alice.ID, bob.ID, "take over the build fix", nil)
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if resp != "taking over" {
		t.Errorf("response = %q", resp)
	}
	req, _ := bp.request(0)
	msg := lastUserMessage(t, req)
	if !strings.HasPrefix(msg, "[HANDOFF from Alice]: take over the build fix") {
		t.Errorf("handoff message = %q", msg)
	}
	if !strings.Contains(msg, "started on it") {
		t.Errorf("handoff message missing source history: %q", msg)
	}
	if rig.rb.count(protocol.EventHandoff) != 1 {
		t.Errorf("handoff events = %d, want 1", rig.rb.count(protocol.EventHandoff))
	}
}

func TestExecuteTodo(t *testing.T) {
	rig := newRig(t)
	a, sp := rig.addAgent(t, CreateParams{Name: "Alice"}, "did the thing")
	todo, err := rig.reg.AddTodo(a.ID, "refactor the config loader")
	if err != nil {
		t.Fatal(err)
	}

	out := rig.eng.ExecuteTodo(context.Background(), a.ID, todo.ID).Wait()
	if out.Err != nil {
		t.Fatalf("ExecuteTodo: %v", out.Err)
	}
	req, _ := sp.request(0)
	if got := lastUserMessage(t, req); got != "Complete this task from your todo list: refactor the config loader" {
		t.Errorf("task message = %q", got)
	}
	got, _ := rig.reg.Get(a.ID)
	if !got.Todos[0].Done || got.Todos[0].CompletedAt == nil {
		t.Errorf("todo not completed: %+v", got.Todos[0])
	}
}

func TestExecuteAllTodos(t *testing.T) {
	rig := newRig(t)
	a, sp := rig.addAgent(t, CreateParams{Name: "Alice"}, "one", "two")
	if _, err := rig.reg.AddTodo(a.ID, "first"); err != nil {
		t.Fatal(err)
	}
	done, err := rig.reg.AddTodo(a.ID, "already finished")
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.reg.CompleteTodo(a.ID, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.reg.AddTodo(a.ID, "second"); err != nil {
		t.Fatal(err)
	}

	futures, err := rig.eng.ExecuteAllTodos(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("ExecuteAllTodos: %v", err)
	}
	if len(futures) != 2 {
		t.Fatalf("futures = %d, want 2 (done todos skipped)", len(futures))
	}
	for _, f := range futures {
		if out := f.Wait(); out.Err != nil {
			t.Fatalf("todo run failed: %v", out.Err)
		}
	}
	if sp.calls() != 2 {
		t.Errorf("provider calls = %d, want 2", sp.calls())
	}
	first, _ := sp.request(0)
	if got := lastUserMessage(t, first); !strings.HasSuffix(got, "first") {
		t.Errorf("first queued task = %q, list order violated", got)
	}
}
