package swarm

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

// AppendHistory records one conversation entry and persists the agent.
func (r *Registry) AppendHistory(id string, entry HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.History = append(a.History, entry)
		a.Metrics.LastActive = entry.Timestamp
		return nil
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	return nil
}

// ClearHistory drops all conversation entries.
func (r *Registry) ClearHistory(id string) error {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.History = []HistoryEntry{}
		return nil
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	return nil
}

// TruncateHistory drops every entry with index greater than afterIndex,
// the "restart from here" primitive. afterIndex -1 empties the history.
func (r *Registry) TruncateHistory(id string, afterIndex int) error {
	if afterIndex < -1 {
		return fmt.Errorf("%w: afterIndex must be >= -1", ErrInvalid)
	}
	keep := afterIndex + 1
	snapshot, err := r.mutate(id, func(a *Agent) error {
		if keep < len(a.History) {
			a.History = append([]HistoryEntry{}, a.History[:keep]...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	return nil
}

// RecordUsage folds one stream's token counts into the agent's metrics.
func (r *Registry) RecordUsage(id string, inputTokens, outputTokens int) {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Metrics.TotalInputTokens += inputTokens
		a.Metrics.TotalOutputTokens += outputTokens
		a.Metrics.LastActive = time.Now()
		return nil
	})
	if err != nil {
		return
	}
	r.persist(snapshot)
}

// BumpMessages increments the per-turn message counter.
func (r *Registry) BumpMessages(id string) {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Metrics.TotalMessages++
		return nil
	})
	if err != nil {
		return
	}
	r.persist(snapshot)
}

// BumpErrors increments the error counter.
func (r *Registry) BumpErrors(id string) {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Metrics.Errors++
		return nil
	})
	if err != nil {
		return
	}
	r.persist(snapshot)
}

// AddTodo appends a work item and returns it.
func (r *Registry) AddTodo(id, text string) (Todo, error) {
	todo := Todo{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now(),
	}
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Todos = append(a.Todos, todo)
		return nil
	})
	if err != nil {
		return Todo{}, err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return todo, nil
}

// ToggleTodo flips the done flag. The completion timestamp is only set when
// completion happens through the engine; a manual toggle clears it.
func (r *Registry) ToggleTodo(id, todoID string) error {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		for i := range a.Todos {
			if a.Todos[i].ID == todoID {
				a.Todos[i].Done = !a.Todos[i].Done
				a.Todos[i].CompletedAt = nil
				return nil
			}
		}
		return fmt.Errorf("todo %s: %w", todoID, ErrNotFound)
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return nil
}

// CompleteTodo marks a todo done with a completion timestamp.
func (r *Registry) CompleteTodo(id, todoID string) error {
	now := time.Now()
	snapshot, err := r.mutate(id, func(a *Agent) error {
		for i := range a.Todos {
			if a.Todos[i].ID == todoID {
				a.Todos[i].Done = true
				a.Todos[i].CompletedAt = &now
				return nil
			}
		}
		return fmt.Errorf("todo %s: %w", todoID, ErrNotFound)
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return nil
}

// DeleteTodo removes a work item.
func (r *Registry) DeleteTodo(id, todoID string) error {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		for i := range a.Todos {
			if a.Todos[i].ID == todoID {
				a.Todos = append(a.Todos[:i], a.Todos[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("todo %s: %w", todoID, ErrNotFound)
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return nil
}

// AddDoc attaches a reference document to the agent's prompt context.
func (r *Registry) AddDoc(id, name, content string) (RagDoc, error) {
	doc := RagDoc{
		ID:        uuid.NewString(),
		Name:      name,
		Content:   content,
		CreatedAt: time.Now(),
	}
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Docs = append(a.Docs, doc)
		return nil
	})
	if err != nil {
		return RagDoc{}, err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return doc, nil
}

// DeleteDoc removes a reference document.
func (r *Registry) DeleteDoc(id, docID string) error {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		for i := range a.Docs {
			if a.Docs[i].ID == docID {
				a.Docs = append(a.Docs[:i], a.Docs[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("doc %s: %w", docID, ErrNotFound)
	})
	if err != nil {
		return err
	}
	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return nil
}
