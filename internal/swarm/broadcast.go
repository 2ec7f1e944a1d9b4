package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

const handoffHistoryWindow = 10

// Broadcast sends the same message to every agent; each turn runs in
// parallel on its own goroutine. The result maps agent id to outcome.
func (e *Engine) Broadcast(ctx context.Context, message string, onChunk func(agentID, text string)) map[string]Outcome {
	agents := e.reg.List()
	out := make(map[string]Outcome, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ag := range agents {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			var chunk func(string)
			if onChunk != nil {
				chunk = func(text string) { onChunk(id, text) }
			}
			resp, err := e.Chat(ctx, id, message, chunk)
			mu.Lock()
			out[id] = Outcome{Response: resp, Err: err}
			mu.Unlock()
		}(ag.ID)
	}
	wg.Wait()
	return out
}

// Handoff transfers work from one agent to another: the target receives the
// handoff context plus the source's recent conversation, then runs a turn.
func (e *Engine) Handoff(ctx context.Context, fromID, toID, handoffContext string, onChunk func(string)) (string, error) {
	from, err := e.reg.Get(fromID)
	if err != nil {
		return "", err
	}
	to, err := e.reg.Get(toID)
	if err != nil {
		return "", err
	}

	e.publish(protocol.EventHandoff, map[string]any{
		"fromId":   from.ID,
		"fromName": from.Name,
		"toId":     to.ID,
		"toName":   to.Name,
		"context":  handoffContext,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "[HANDOFF from %s]: %s\n", from.Name, handoffContext)
	recent := windowTail(from.History, handoffHistoryWindow)
	if len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, h := range recent {
			fmt.Fprintf(&b, "[%s] %s\n", h.Role, h.Content)
		}
	}

	return e.turn(ctx, toID, b.String(), turnOptions{
		fromAgent: from.Name,
		onChunk:   onChunk,
	})
}

// ExecuteTodo queues one todo as a task on the agent's lane; the todo is
// marked done only when the turn succeeds.
func (e *Engine) ExecuteTodo(ctx context.Context, agentID, todoID string) *Future {
	taskCtx := context.WithoutCancel(ctx)
	return e.queue.Enqueue(agentID, func() (string, error) {
		ag, err := e.reg.Get(agentID)
		if err != nil {
			return "", err
		}
		var todo *Todo
		for i := range ag.Todos {
			if ag.Todos[i].ID == todoID {
				todo = &ag.Todos[i]
				break
			}
		}
		if todo == nil {
			return "", fmt.Errorf("todo %s: %w", todoID, ErrNotFound)
		}
		resp, err := e.turn(taskCtx, agentID, fmt.Sprintf("Complete this task from your todo list: %s", todo.Text), turnOptions{})
		if err != nil {
			return "", err
		}
		if cerr := e.reg.CompleteTodo(agentID, todoID); cerr != nil {
			e.log.Warn("todo not completed", "agent", ag.Name, "error", cerr)
		}
		return resp, nil
	})
}

// ExecuteAllTodos queues every open todo in list order on the agent's lane.
func (e *Engine) ExecuteAllTodos(ctx context.Context, agentID string) ([]*Future, error) {
	ag, err := e.reg.Get(agentID)
	if err != nil {
		return nil, err
	}
	var futures []*Future
	for _, t := range ag.Todos {
		if t.Done {
			continue
		}
		futures = append(futures, e.ExecuteTodo(ctx, agentID, t.ID))
	}
	return futures, nil
}
