package swarm

import (
	"fmt"
	"strings"

	"github.com/openswarm-dev/swarmgate/internal/providers"
)

// buildMessages composes the provider request: one system message, the
// recent history window, then the current user message.
func (e *Engine) buildMessages(ag *Agent, history []HistoryEntry, message string, opt turnOptions) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+2)
	msgs = append(msgs, providers.Message{
		Role:    providers.RoleSystem,
		Content: e.buildSystemPrompt(ag, opt),
	})
	for _, h := range history {
		if h.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, providers.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: message})
	return msgs
}

func (e *Engine) buildSystemPrompt(ag *Agent, opt turnOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s", ag.Name)
	if ag.Role != "" {
		fmt.Fprintf(&b, ", %s", ag.Role)
	}
	b.WriteString(".\n")
	if ag.Description != "" {
		b.WriteString(ag.Description)
		b.WriteString("\n")
	}
	if ag.SystemPrompt != "" {
		b.WriteString("\n")
		b.WriteString(ag.SystemPrompt)
		b.WriteString("\n")
	}

	// Only a leader answering a direct user message sees the roster;
	// continuations and delegated tasks must not re-delegate implicitly.
	if ag.IsLeader && opt.depth == 0 {
		e.writeRoster(&b, ag)
	}

	if len(ag.Docs) > 0 {
		b.WriteString("\n## Reference documents\n")
		for _, d := range ag.Docs {
			fmt.Fprintf(&b, "\n### %s\n%s\n", d.Name, d.Content)
		}
	}

	if len(ag.Todos) > 0 {
		b.WriteString("\n## Your todo list\n")
		for _, t := range ag.Todos {
			mark := " "
			if t.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Text)
		}
	}

	if ag.Project != "" {
		e.writeProjectContext(&b, ag)
	}

	return b.String()
}

func (e *Engine) writeRoster(b *strings.Builder, leader *Agent) {
	var members []*Agent
	for _, a := range e.reg.List() {
		if a.ID != leader.ID {
			members = append(members, a)
		}
	}
	if len(members) == 0 {
		return
	}
	b.WriteString("\n## Your team\n")
	b.WriteString("You lead a team of agents. Delegate subtasks with:\n")
	b.WriteString("@delegate(AgentName, \"task description\")\n\n")
	for _, m := range members {
		fmt.Fprintf(b, "- %s", m.Name)
		if m.Role != "" {
			fmt.Fprintf(b, " (%s)", m.Role)
		}
		if m.Description != "" {
			fmt.Fprintf(b, ": %s", m.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nDelegate independent subtasks in one message; they run in parallel. Results come back to you for synthesis. A specialist may report an error instead of a result; review error reports and decide how to proceed.\n")
}

func (e *Engine) writeProjectContext(b *strings.Builder, ag *Agent) {
	fmt.Fprintf(b, "\n## Project workspace\n")
	fmt.Fprintf(b, "You work inside the project %q. All file paths are relative to its root.\n", ag.Project)
	b.WriteString(`
## Tools
Invoke tools inline in your response:
- @read_file("path") - read a file
- @write_file("path", """content""") - create or overwrite a file
- @append_file("path", """content""") - append to a file
- @list_dir("path") - list a directory (use "." for the root)
- @search_files("pattern", "query") - search files matching a glob for text
- @run_command("command") - run a shell command in the project root
- @report_error("description") - report a blocking problem to your manager

You may also emit a <tool_call>{"name": "...", "arguments": {...}}</tool_call> block.
Tool results are returned to you in a follow-up message.
`)
}
