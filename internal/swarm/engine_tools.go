package swarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openswarm-dev/swarmgate/internal/parser"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

const toolPreviewLimit = 200

// runToolCalls executes the extracted calls in textual order and records
// each outcome. report_error never touches the filesystem; it surfaces the
// agent's own failure report.
func (e *Engine) runToolCalls(ctx context.Context, ag *Agent, calls []parser.ToolCall) []ToolOutcome {
	if len(calls) == 0 {
		return nil
	}
	outcomes := make([]ToolOutcome, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			break
		}
		if call.Name == parser.ToolReportError {
			desc := ""
			if len(call.Args) > 0 {
				desc = call.Args[0]
			}
			e.publish(protocol.EventErrorReport, map[string]any{
				"id":          ag.ID,
				"name":        ag.Name,
				"description": desc,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			})
			outcomes = append(outcomes, ToolOutcome{
				Tool:          call.Name,
				Args:          call.Args,
				Success:       true,
				Output:        "Error reported to manager.",
				IsErrorReport: true,
			})
			continue
		}

		e.publish(protocol.EventToolStart, map[string]any{
			"id": ag.ID, "name": ag.Name, "tool": call.Name, "args": call.Args,
		})
		res := e.tools.Dispatch(ctx, ag.Project, call)
		outcome := ToolOutcome{
			Tool:    call.Name,
			Args:    call.Args,
			Success: res.Success,
			Output:  res.Output,
			Error:   res.Error,
		}
		if res.Success {
			e.publish(protocol.EventToolResult, map[string]any{
				"id": ag.ID, "name": ag.Name, "tool": call.Name,
				"args": call.Args, "preview": preview(res.Output),
			})
		} else {
			e.publish(protocol.EventToolError, map[string]any{
				"id": ag.ID, "name": ag.Name, "tool": call.Name,
				"args": call.Args, "error": res.Error,
			})
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func preview(s string) string {
	if len(s) <= toolPreviewLimit {
		return s
	}
	return s[:toolPreviewLimit] + "..."
}

// formatToolResults renders the continuation message carrying tool output
// back to the agent.
func formatToolResults(outcomes []ToolOutcome) string {
	var b strings.Builder
	b.WriteString("[TOOL RESULTS]\n")
	failed := false
	reported := false
	for _, o := range outcomes {
		fmt.Fprintf(&b, "--- %s(%s) ---\n", o.Tool, strings.Join(o.Args, ", "))
		switch {
		case o.IsErrorReport:
			reported = true
			b.WriteString(o.Output)
		case o.Success:
			b.WriteString(o.Output)
		default:
			failed = true
			fmt.Fprintf(&b, "Error: %s", o.Error)
		}
		b.WriteString("\n\n")
	}
	switch {
	case reported:
		b.WriteString("You reported an error. Summarise the problem and wait for guidance.")
	case failed:
		b.WriteString("Some tool calls failed. Review the errors above and adjust your approach.")
	default:
		b.WriteString("Use these results to continue the task.")
	}
	return b.String()
}
