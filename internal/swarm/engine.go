package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openswarm-dev/swarmgate/internal/bus"
	"github.com/openswarm-dev/swarmgate/internal/parser"
	"github.com/openswarm-dev/swarmgate/internal/providers"
	"github.com/openswarm-dev/swarmgate/internal/tools"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

// ProviderFunc resolves the streaming client for an agent's configuration.
type ProviderFunc func(a *Agent) (providers.Provider, error)

// Engine runs conversation turns: it composes the prompt, streams the model
// response, extracts delegations and tool calls from it, and recurses with
// their results until the agent produces a plain answer.
type Engine struct {
	reg     *Registry
	queue   *Queue
	cancels *Canceller
	bus     bus.Publisher
	tools   *tools.Dispatcher

	maxDepth      int
	historyWindow int

	providerFor ProviderFunc
	tracer      trace.Tracer
	log         *slog.Logger
}

// Options tune the engine. Zero values fall back to the defaults used in
// production.
type Options struct {
	MaxDepth      int
	HistoryWindow int
	ProviderFor   ProviderFunc
	Log           *slog.Logger
}

func NewEngine(reg *Registry, publisher bus.Publisher, dispatcher *tools.Dispatcher, keys providers.FallbackKeys, retry providers.RetryConfig, opts Options) *Engine {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = 5
	}
	if opts.HistoryWindow == 0 {
		opts.HistoryWindow = 50
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.ProviderFor == nil {
		opts.ProviderFor = func(a *Agent) (providers.Provider, error) {
			return providers.Resolve(a.Provider, a.Endpoint, a.Credential, keys, retry)
		}
	}
	return &Engine{
		reg:           reg,
		queue:         NewQueue(),
		cancels:       NewCanceller(),
		bus:           publisher,
		tools:         dispatcher,
		maxDepth:      opts.MaxDepth,
		historyWindow: opts.HistoryWindow,
		providerFor:   opts.ProviderFor,
		tracer:        otel.Tracer("swarmgate/swarm"),
		log:           opts.Log,
	}
}

// Queue exposes the per-agent task queue, used by delegation and by the
// gateway's todo execution endpoints.
func (e *Engine) TaskQueue() *Queue { return e.queue }

// Chat runs one user-initiated turn for the agent and returns the final
// assistant text. onChunk, when non-nil, observes the live stream including
// engine-injected section markers.
func (e *Engine) Chat(ctx context.Context, agentID, message string, onChunk func(string)) (string, error) {
	return e.turn(ctx, agentID, message, turnOptions{onChunk: onChunk})
}

// Stop cancels the agent's active stream, if any.
func (e *Engine) Stop(agentID string) bool {
	return e.cancels.Stop(agentID)
}

// RemoveAgent tears down queue and cancellation state for a deleted agent.
func (e *Engine) RemoveAgent(agentID string) {
	e.cancels.Stop(agentID)
	e.queue.Remove(agentID)
}

type turnOptions struct {
	depth      int
	provenance Provenance
	fromAgent  string

	// continuation marks a recursive re-entry within an already-running
	// turn. Only the engine sets it; entry turns leave it false.
	continuation bool

	// payloads attached to the user-side history entry of this turn
	toolResults       []ToolOutcome
	delegationResults []DelegationResult

	onChunk func(string)
}

func (e *Engine) turn(ctx context.Context, agentID, message string, opt turnOptions) (string, error) {
	ag, err := e.reg.Get(agentID)
	if err != nil {
		return "", err
	}

	ctx, span := e.tracer.Start(ctx, "swarm.turn", trace.WithAttributes(
		attribute.String("agent.name", ag.Name),
		attribute.Int("turn.depth", opt.depth),
	))
	defer span.End()

	// The outermost turn for this agent owns its cancellation token; a
	// recursive continuation reuses the parent's context. An entry turn
	// that finds a live token is a concurrent caller, not a continuation:
	// at most one stream may be active per agent.
	ctx, owner := e.cancels.Begin(ctx, agentID)
	if !owner && !opt.continuation {
		return "", ErrBusy
	}
	if owner {
		defer e.cancels.End(agentID)
		e.reg.SetStatus(agentID, StatusBusy)
	}

	// The prompt is built from the history as it stood before this
	// message; the entry is recorded regardless of how the stream ends.
	promptHistory := windowTail(ag.History, e.historyWindow)
	userEntry := HistoryEntry{
		Role:              RoleUser,
		Content:           message,
		Kind:              opt.provenance,
		ToolResults:       opt.toolResults,
		DelegationResults: opt.delegationResults,
		FromAgent:         opt.fromAgent,
	}
	if err := e.reg.AppendHistory(agentID, userEntry); err != nil {
		return "", err
	}

	provider, err := e.providerFor(ag)
	if err != nil {
		return "", e.fail(agentID, ag.Name, fmt.Errorf("resolve provider: %w", err))
	}

	req := providers.Request{
		Messages:    e.buildMessages(ag, promptHistory, message, opt),
		Model:       ag.Model,
		Temperature: ag.Temperature,
		MaxTokens:   ag.MaxTokens,
	}

	e.publish(protocol.EventStreamStart, map[string]any{"id": agentID, "name": ag.Name})

	emit := func(text string) {
		e.publish(protocol.EventStreamChunk, map[string]any{
			"id": agentID, "name": ag.Name, "chunk": text,
		})
		if opt.onChunk != nil {
			opt.onChunk(text)
		}
	}

	tracker := e.newDelegationTracker(ag, opt, emit)
	var full strings.Builder
	streamCtx, streamSpan := e.tracer.Start(ctx, "provider.stream", trace.WithAttributes(
		attribute.String("provider.name", provider.Name()),
		attribute.String("model", ag.Model),
	))
	usage, streamErr := provider.Stream(streamCtx, req, func(c providers.Chunk) {
		if c.Done || c.Delta == "" {
			return
		}
		full.WriteString(c.Delta)
		e.reg.SetThinking(agentID, full.String())
		emit(c.Delta)
		tracker.scan(ctx, full.String())
	})
	streamSpan.End()

	response := full.String()

	if streamErr != nil {
		if ctx.Err() != nil {
			return "", e.stopped(agentID, ag.Name)
		}
		e.publish(protocol.EventStreamError, map[string]any{
			"id": agentID, "name": ag.Name, "error": streamErr.Error(),
		})
		return "", e.fail(agentID, ag.Name, streamErr)
	}
	if usage != nil {
		e.reg.RecordUsage(agentID, usage.InputTokens, usage.OutputTokens)
	}

	e.publish(protocol.EventStreamEnd, map[string]any{
		"id": agentID, "name": ag.Name, "response": response,
	})

	// An empty stream still yields an assistant entry.
	if err := e.reg.AppendHistory(agentID, HistoryEntry{
		Role:    RoleAssistant,
		Content: response,
	}); err != nil {
		return "", err
	}

	final := response

	// Delegations dispatched during streaming are always awaited so their
	// todos resolve; the results feed the next continuation.
	tracker.finalize(ctx, response)
	if tracker.dispatched() {
		results := tracker.await(ctx)
		if ctx.Err() != nil {
			return "", e.stopped(agentID, ag.Name)
		}
		cont := formatDelegationResults(results)
		final, err = e.turn(ctx, agentID, cont, turnOptions{
			depth:             opt.depth + 1,
			provenance:        ProvenanceDelegationResult,
			continuation:      true,
			delegationResults: results,
			onChunk:           opt.onChunk,
		})
		if err != nil {
			return "", err
		}
	} else if ag.Project != "" && opt.depth < e.maxDepth {
		outcomes := e.runToolCalls(ctx, ag, parser.ParseToolCalls(response))
		if ctx.Err() != nil {
			return "", e.stopped(agentID, ag.Name)
		}
		if len(outcomes) > 0 {
			cont := formatToolResults(outcomes)
			final, err = e.turn(ctx, agentID, cont, turnOptions{
				depth:        opt.depth + 1,
				provenance:   ProvenanceToolResult,
				continuation: true,
				toolResults:  outcomes,
				onChunk:      opt.onChunk,
			})
			if err != nil {
				return "", err
			}
		}
	}

	if owner {
		e.reg.BumpMessages(agentID)
		e.reg.SetStatus(agentID, StatusIdle)
	}
	return final, nil
}

// stopped unwinds a cancelled turn: idle status, no assistant entry, one
// stop event.
func (e *Engine) stopped(agentID, name string) error {
	e.cancels.End(agentID)
	e.reg.SetStatus(agentID, StatusIdle)
	e.publish(protocol.EventStopped, map[string]any{"id": agentID, "name": name})
	e.log.Info("stream stopped", "agent", name)
	return ErrStopped
}

func (e *Engine) fail(agentID, name string, err error) error {
	e.reg.BumpErrors(agentID)
	e.reg.SetStatus(agentID, StatusError)
	e.log.Error("turn failed", "agent", name, "error", err)
	return err
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: kind, Payload: payload})
	}
}

// IsStopped reports whether err is the user-initiated stop sentinel.
func IsStopped(err error) bool { return errors.Is(err, ErrStopped) }

func windowTail(entries []HistoryEntry, n int) []HistoryEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
