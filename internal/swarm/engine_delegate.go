package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openswarm-dev/swarmgate/internal/parser"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

// pendingDelegation is one dispatched subtask awaiting its outcome. A nil
// future means dispatch itself failed (unknown agent).
type pendingDelegation struct {
	target string // resolved agent id, empty when unknown
	name   string // name as addressed by the leader
	task   string
	future *Future
	err    string
}

// delegationTracker dispatches @delegate directives as they appear in the
// stream, so workers start before the leader finishes talking.
type delegationTracker struct {
	engine *Engine
	leader *Agent
	opt    turnOptions
	emit   func(string)

	seen    int
	pending []pendingDelegation
}

func (e *Engine) newDelegationTracker(leader *Agent, opt turnOptions, emit func(string)) *delegationTracker {
	return &delegationTracker{engine: e, leader: leader, opt: opt, emit: emit}
}

func (t *delegationTracker) active() bool {
	return t.leader.IsLeader && t.opt.depth < t.engine.maxDepth
}

// scan parses the accumulated text and dispatches any directive not yet
// seen. Directive indices are stable under appends, so seen is a high-water
// mark.
func (t *delegationTracker) scan(ctx context.Context, text string) {
	if !t.active() {
		return
	}
	calls := parser.ParseDelegations(text)
	for ; t.seen < len(calls); t.seen++ {
		t.dispatch(ctx, calls[t.seen])
	}
}

// finalize runs one last scan over the complete response, catching a
// directive whose closing parenthesis arrived in the final chunk.
func (t *delegationTracker) finalize(ctx context.Context, text string) {
	t.scan(ctx, text)
}

func (t *delegationTracker) dispatched() bool { return len(t.pending) > 0 }

func (t *delegationTracker) dispatch(ctx context.Context, d parser.Delegation) {
	e := t.engine
	target, ok := e.reg.ResolveByName(d.Agent, t.leader.ID)
	if !ok {
		t.pending = append(t.pending, pendingDelegation{
			name: d.Agent,
			task: d.Task,
			err:  fmt.Sprintf("Agent %q not found in swarm", d.Agent),
		})
		return
	}

	e.publish(protocol.EventDelegation, map[string]any{
		"fromId":   t.leader.ID,
		"fromName": t.leader.Name,
		"toId":     target.ID,
		"toName":   target.Name,
		"task":     d.Task,
	})
	t.emit(fmt.Sprintf("\n--- Delegating to %s ---\n", target.Name))

	todo, err := e.reg.AddTodo(target.ID, fmt.Sprintf("[From %s] %s", t.leader.Name, d.Task))
	if err != nil {
		t.pending = append(t.pending, pendingDelegation{
			name: d.Agent, task: d.Task, err: err.Error(),
		})
		return
	}

	// The subtask outlives the leader's token: stopping the leader must
	// not abort workers already dispatched.
	taskCtx := context.WithoutCancel(ctx)
	leaderName := t.leader.Name
	task := d.Task
	future := e.queue.Enqueue(target.ID, func() (string, error) {
		resp, err := e.turn(taskCtx, target.ID, fmt.Sprintf("[TASK from %s]: %s", leaderName, task), turnOptions{
			depth:      t.opt.depth + 1,
			provenance: ProvenanceDelegationTask,
			fromAgent:  leaderName,
		})
		if cerr := e.reg.CompleteTodo(target.ID, todo.ID); cerr != nil {
			e.log.Warn("delegation todo not completed", "agent", target.Name, "error", cerr)
		}
		return resp, err
	})

	t.pending = append(t.pending, pendingDelegation{
		target: target.ID,
		name:   target.Name,
		task:   task,
		future: future,
	})
}

// await blocks until every dispatched subtask resolves, preserving textual
// order of the directives. Cancelling ctx abandons the wait immediately;
// the workers keep running on their detached contexts.
func (t *delegationTracker) await(ctx context.Context) []DelegationResult {
	results := make([]DelegationResult, 0, len(t.pending))
	for _, p := range t.pending {
		res := DelegationResult{
			AgentID:   p.target,
			AgentName: p.name,
			Task:      p.task,
		}
		switch {
		case p.future == nil:
			res.Error = p.err
		default:
			select {
			case <-p.future.Done():
				out := p.future.Wait()
				if out.Err != nil {
					res.Error = out.Err.Error()
				} else {
					res.Response = out.Response
				}
			case <-ctx.Done():
				return results
			}
		}
		results = append(results, res)
	}
	return results
}

// formatDelegationResults renders the continuation message fed back to the
// leader after all subtasks resolve.
func formatDelegationResults(results []DelegationResult) string {
	var b strings.Builder
	b.WriteString("[DELEGATION RESULTS]\n")
	failed := false
	for _, r := range results {
		if r.Error != "" {
			failed = true
			fmt.Fprintf(&b, "--- Error from %s ---\n%s\n\n", r.AgentName, r.Error)
		} else {
			fmt.Fprintf(&b, "--- Response from %s ---\n%s\n\n", r.AgentName, r.Response)
		}
	}
	if failed {
		b.WriteString("Some agents reported errors. Decide whether to retry, reassign, or adapt your plan accordingly.")
	} else {
		b.WriteString("All delegated tasks completed. Synthesise the results above into a final response for the user.")
	}
	return b.String()
}
