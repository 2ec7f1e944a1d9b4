package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openswarm-dev/swarmgate/internal/bus"
	"github.com/openswarm-dev/swarmgate/pkg/protocol"
)

// Registry holds the live agent records. All mutation goes through its
// methods under a single lock; callers receive deep copies.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string // insertion order, used to break name-resolution ties

	store Store
	bus   bus.Publisher
	log   *slog.Logger
}

func NewRegistry(store Store, publisher bus.Publisher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		agents: make(map[string]*Agent),
		store:  store,
		bus:    publisher,
		log:    log,
	}
}

// Load restores all persisted agents. Runtime state does not survive a
// restart: status is reset to idle and the thinking buffer is cleared.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	agents, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		a.Status = StatusIdle
		a.CurrentThinking = ""
		r.agents[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	r.log.Info("agents loaded", "count", len(agents))
	return nil
}

// CreateParams are the caller-supplied fields for a new agent.
type CreateParams struct {
	Name         string
	Role         string
	Description  string
	Provider     string
	Model        string
	Endpoint     string
	Credential   string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Project      string
	IsLeader     bool
	Icon         string
	Color        string
}

func (r *Registry) Create(p CreateParams) (*Agent, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: agent name is required", ErrInvalid)
	}
	if p.Provider == "" {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalid)
	}
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 4096
	}
	now := time.Now()
	a := &Agent{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Name:         strings.TrimSpace(p.Name),
		Role:         p.Role,
		Description:  p.Description,
		Provider:     p.Provider,
		Model:        p.Model,
		Endpoint:     p.Endpoint,
		Credential:   p.Credential,
		SystemPrompt: p.SystemPrompt,
		Status:       StatusIdle,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		Todos:        []Todo{},
		Docs:         []RagDoc{},
		History:      []HistoryEntry{},
		Project:      p.Project,
		IsLeader:     p.IsLeader,
		Icon:         p.Icon,
		Color:        p.Color,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	snapshot := a.clone()
	r.mu.Unlock()

	r.persist(snapshot)
	r.publish(protocol.EventAgentCreated, snapshot.Sanitized())
	r.log.Info("agent created", "id", a.ID, "name", a.Name)
	return snapshot, nil
}

// UpdateParams carries the mutable configuration fields. Nil means "leave
// unchanged". Runtime state (status, history, metrics) is not updatable.
type UpdateParams struct {
	Name         *string
	Role         *string
	Description  *string
	Provider     *string
	Model        *string
	Endpoint     *string
	Credential   *string
	SystemPrompt *string
	Temperature  *float64
	MaxTokens    *int
	Project      *string
	IsLeader     *bool
	Icon         *string
	Color        *string
}

func (r *Registry) Update(id string, p UpdateParams) (*Agent, error) {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: agent name is required", ErrInvalid)
		}
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Provider != nil {
		a.Provider = *p.Provider
	}
	if p.Model != nil {
		a.Model = *p.Model
	}
	if p.Endpoint != nil {
		a.Endpoint = *p.Endpoint
	}
	if p.Credential != nil {
		a.Credential = *p.Credential
	}
	if p.SystemPrompt != nil {
		a.SystemPrompt = *p.SystemPrompt
	}
	if p.Temperature != nil {
		a.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		a.MaxTokens = *p.MaxTokens
	}
	if p.Project != nil {
		a.Project = *p.Project
	}
	if p.IsLeader != nil {
		a.IsLeader = *p.IsLeader
	}
	if p.Icon != nil {
		a.Icon = *p.Icon
	}
	if p.Color != nil {
		a.Color = *p.Color
	}
	a.UpdatedAt = time.Now()
	snapshot := a.clone()
	r.mu.Unlock()

	r.persist(snapshot)
	r.publish(protocol.EventAgentUpdated, snapshot.Sanitized())
	return snapshot, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	name := a.Name
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(context.Background(), id); err != nil {
			r.log.Warn("agent delete not persisted", "id", id, "error", err)
		}
	}
	r.publish(protocol.EventAgentDeleted, map[string]any{"id": id, "name": name})
	r.log.Info("agent deleted", "id", id, "name", name)
	return nil
}

// Get returns a deep copy of the agent.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a.clone(), nil
}

// List returns deep copies of all agents in insertion order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		if a, ok := r.agents[id]; ok {
			out = append(out, a.clone())
		}
	}
	return out
}

// ResolveByName finds an agent by case-insensitive name, skipping excludeID.
// Ties go to the earliest-created agent.
func (r *Registry) ResolveByName(name, excludeID string) (*Agent, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		a, ok := r.agents[id]
		if ok && strings.ToLower(a.Name) == want {
			return a.clone(), true
		}
	}
	return nil, false
}

// mutate applies fn to the live record under the lock and returns a snapshot.
func (r *Registry) mutate(id string, fn func(*Agent) error) (*Agent, error) {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err := fn(a); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	a.UpdatedAt = time.Now()
	snapshot := a.clone()
	r.mu.Unlock()
	return snapshot, nil
}

// SetStatus transitions the agent's status and announces it.
func (r *Registry) SetStatus(id string, status Status) {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.Status = status
		if status != StatusBusy {
			a.CurrentThinking = ""
		}
		return nil
	})
	if err != nil {
		return
	}
	r.publish(protocol.EventAgentStatus, map[string]any{
		"id": id, "name": snapshot.Name, "status": string(status),
	})
	if status == StatusError {
		r.persist(snapshot)
	}
}

// SetThinking replaces the transient streaming buffer.
func (r *Registry) SetThinking(id, text string) {
	snapshot, err := r.mutate(id, func(a *Agent) error {
		a.CurrentThinking = text
		return nil
	})
	if err != nil {
		return
	}
	r.publish(protocol.EventAgentThinking, map[string]any{
		"id": id, "name": snapshot.Name, "thinking": text,
	})
}

func (r *Registry) persist(a *Agent) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.Background(), a); err != nil {
		r.log.Warn("agent save failed", "id", a.ID, "error", err)
	}
}

func (r *Registry) publish(kind string, payload any) {
	if r.bus != nil {
		r.bus.Publish(bus.Event{Kind: kind, Payload: payload})
	}
}
