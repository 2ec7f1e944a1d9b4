// Package swarm implements the agent orchestration kernel: the registry of
// agent records, the per-agent task queue, the cancellation fabric, and the
// conversation engine that streams model output, extracts delegations and
// tool calls, and recurses with their results.
package swarm

import (
	"context"
	"time"
)

// Status is an agent's runtime state.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// Provenance tags a history entry with how it was constructed. The tag is
// authoritative; content is never inspected to infer it.
type Provenance string

const (
	ProvenancePlain            Provenance = ""
	ProvenanceToolResult       Provenance = "tool-result"
	ProvenanceDelegationResult Provenance = "delegation-result"
	ProvenanceDelegationTask   Provenance = "delegation-task"
)

// Roles for history entries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Agent is a persistent configuration binding a model, an identity, an
// instruction text, a project, and runtime state.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`

	Provider   string `json:"provider"` // providers.Selector* value
	Model      string `json:"model"`
	Endpoint   string `json:"endpoint,omitempty"`
	Credential string `json:"credential,omitempty"`

	SystemPrompt string  `json:"systemPrompt"`
	Status       Status  `json:"status"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`

	Todos   []Todo         `json:"todos"`
	Docs    []RagDoc       `json:"docs"`
	History []HistoryEntry `json:"history"`

	// CurrentThinking is the transient streaming buffer; never persisted
	// across restarts.
	CurrentThinking string  `json:"currentThinking,omitempty"`
	Metrics         Metrics `json:"metrics"`

	Project  string `json:"project,omitempty"`
	IsLeader bool   `json:"isLeader"`

	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Todo is a work item owned by an agent.
type Todo struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RagDoc is a reference document injected into the agent's prompt.
type RagDoc struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEntry is one conversation message with optional provenance payload.
type HistoryEntry struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      Provenance `json:"kind,omitempty"`

	// Structured payloads, present per Kind.
	ToolResults       []ToolOutcome      `json:"toolResults,omitempty"`
	DelegationResults []DelegationResult `json:"delegationResults,omitempty"`
	FromAgent         string             `json:"fromAgent,omitempty"`
}

// ToolOutcome is the recorded result of one tool call.
type ToolOutcome struct {
	Tool          string   `json:"tool"`
	Args          []string `json:"args"`
	Success       bool     `json:"success"`
	Output        string   `json:"output,omitempty"`
	Error         string   `json:"error,omitempty"`
	IsErrorReport bool     `json:"isErrorReport,omitempty"`
}

// DelegationResult is the outcome of one delegated subtask.
type DelegationResult struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Task      string `json:"task"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Metrics tracks an agent's lifetime counters.
type Metrics struct {
	TotalMessages     int       `json:"totalMessages"`
	TotalInputTokens  int       `json:"totalInputTokens"`
	TotalOutputTokens int       `json:"totalOutputTokens"`
	Errors            int       `json:"errors"`
	LastActive        time.Time `json:"lastActive,omitempty"`
}

// SanitizedAgent is the external view of an agent: the credential is replaced
// by a presence flag. All event payloads and API reads use this shape.
type SanitizedAgent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	Description   string         `json:"description"`
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	Endpoint      string         `json:"endpoint,omitempty"`
	HasCredential bool           `json:"hasCredential"`
	SystemPrompt  string         `json:"systemPrompt"`
	Status        Status         `json:"status"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"maxTokens"`
	Todos         []Todo         `json:"todos"`
	Docs          []RagDoc       `json:"docs"`
	Metrics       Metrics        `json:"metrics"`
	Project       string         `json:"project,omitempty"`
	IsLeader      bool           `json:"isLeader"`
	Icon          string         `json:"icon,omitempty"`
	Color         string         `json:"color,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Sanitized returns the credential-free view of a.
func (a *Agent) Sanitized() SanitizedAgent {
	return SanitizedAgent{
		ID:            a.ID,
		Name:          a.Name,
		Role:          a.Role,
		Description:   a.Description,
		Provider:      a.Provider,
		Model:         a.Model,
		Endpoint:      a.Endpoint,
		HasCredential: a.Credential != "",
		SystemPrompt:  a.SystemPrompt,
		Status:        a.Status,
		Temperature:   a.Temperature,
		MaxTokens:     a.MaxTokens,
		Todos:         append([]Todo(nil), a.Todos...),
		Docs:          append([]RagDoc(nil), a.Docs...),
		Metrics:       a.Metrics,
		Project:       a.Project,
		IsLeader:      a.IsLeader,
		Icon:          a.Icon,
		Color:         a.Color,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// clone returns a deep copy safe to hand outside the registry lock.
func (a *Agent) clone() *Agent {
	cp := *a
	cp.Todos = append([]Todo(nil), a.Todos...)
	cp.Docs = append([]RagDoc(nil), a.Docs...)
	cp.History = append([]HistoryEntry(nil), a.History...)
	return &cp
}

// Store is the persistence collaborator. Saves are fire-and-forget from the
// kernel's perspective; LoadAll runs at startup. A nil Store means in-memory
// mode.
type Store interface {
	LoadAll(ctx context.Context) ([]*Agent, error)
	Save(ctx context.Context, agent *Agent) error
	Delete(ctx context.Context, id string) error
}
