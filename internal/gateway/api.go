package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openswarm-dev/swarmgate/internal/swarm"
)

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("POST /v1/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /v1/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("POST /v1/agents/{id}/chat", s.handleChat)
	mux.HandleFunc("POST /v1/agents/{id}/stop", s.handleStop)

	mux.HandleFunc("GET /v1/agents/{id}/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /v1/agents/{id}/history", s.handleClearHistory)
	mux.HandleFunc("POST /v1/agents/{id}/history/truncate", s.handleTruncateHistory)

	mux.HandleFunc("POST /v1/agents/{id}/todos", s.handleAddTodo)
	mux.HandleFunc("POST /v1/agents/{id}/todos/{todoID}/toggle", s.handleToggleTodo)
	mux.HandleFunc("DELETE /v1/agents/{id}/todos/{todoID}", s.handleDeleteTodo)
	mux.HandleFunc("POST /v1/agents/{id}/todos/{todoID}/execute", s.handleExecuteTodo)
	mux.HandleFunc("POST /v1/agents/{id}/todos/execute-all", s.handleExecuteAllTodos)

	mux.HandleFunc("POST /v1/agents/{id}/docs", s.handleAddDoc)
	mux.HandleFunc("DELETE /v1/agents/{id}/docs/{docID}", s.handleDeleteDoc)

	mux.HandleFunc("POST /v1/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /v1/handoff", s.handleHandoff)
}

type createAgentRequest struct {
	Name         string  `json:"name"`
	Role         string  `json:"role,omitempty"`
	Description  string  `json:"description,omitempty"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"`
	Endpoint     string  `json:"endpoint,omitempty"`
	Credential   string  `json:"credential,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Project      string  `json:"project,omitempty"`
	IsLeader     bool    `json:"isLeader,omitempty"`
	Icon         string  `json:"icon,omitempty"`
	Color        string  `json:"color,omitempty"`
}

type updateAgentRequest struct {
	Name         *string  `json:"name,omitempty"`
	Role         *string  `json:"role,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Provider     *string  `json:"provider,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Endpoint     *string  `json:"endpoint,omitempty"`
	Credential   *string  `json:"credential,omitempty"`
	SystemPrompt *string  `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
	Project      *string  `json:"project,omitempty"`
	IsLeader     *bool    `json:"isLeader,omitempty"`
	Icon         *string  `json:"icon,omitempty"`
	Color        *string  `json:"color,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.reg.List()
	out := make([]swarm.SanitizedAgent, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Sanitized())
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a, err := s.reg.Create(swarm.CreateParams{
		Name:         req.Name,
		Role:         req.Role,
		Description:  req.Description,
		Provider:     req.Provider,
		Model:        req.Model,
		Endpoint:     req.Endpoint,
		Credential:   req.Credential,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Project:      req.Project,
		IsLeader:     req.IsLeader,
		Icon:         req.Icon,
		Color:        req.Color,
	})
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.Sanitized())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Sanitized())
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req updateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a, err := s.reg.Update(r.PathValue("id"), swarm.UpdateParams{
		Name:         req.Name,
		Role:         req.Role,
		Description:  req.Description,
		Provider:     req.Provider,
		Model:        req.Model,
		Endpoint:     req.Endpoint,
		Credential:   req.Credential,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Project:      req.Project,
		IsLeader:     req.IsLeader,
		Icon:         req.Icon,
		Color:        req.Color,
	})
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Sanitized())
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.Delete(id); err != nil {
		writeSwarmError(w, err)
		return
	}
	s.eng.RemoveAgent(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	// Streaming goes out over /ws; the REST response carries the final text.
	resp, err := s.eng.Chat(r.Context(), r.PathValue("id"), req.Message, nil)
	if err != nil {
		if swarm.IsStopped(err) {
			writeJSON(w, http.StatusOK, map[string]any{"response": "", "stopped": true})
			return
		}
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": resp})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.eng.Stop(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	a, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": a.History})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.ClearHistory(r.PathValue("id")); err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleTruncateHistory(w http.ResponseWriter, r *http.Request) {
	// afterIndex is the index of the last entry to keep; everything past
	// it is dropped. -1 empties the history.
	var req struct {
		AfterIndex int `json:"afterIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.reg.TruncateHistory(r.PathValue("id"), req.AfterIndex); err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"kept": req.AfterIndex + 1})
}

func (s *Server) handleAddTodo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	todo, err := s.reg.AddTodo(r.PathValue("id"), req.Text)
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

func (s *Server) handleToggleTodo(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.ToggleTodo(r.PathValue("id"), r.PathValue("todoID")); err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"toggled": true})
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DeleteTodo(r.PathValue("id"), r.PathValue("todoID")); err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleExecuteTodo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.reg.Get(id); err != nil {
		writeSwarmError(w, err)
		return
	}
	// Queued on the agent's lane; completion is observable over /ws.
	s.eng.ExecuteTodo(r.Context(), id, r.PathValue("todoID"))
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (s *Server) handleExecuteAllTodos(w http.ResponseWriter, r *http.Request) {
	futures, err := s.eng.ExecuteAllTodos(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(futures)})
}

func (s *Server) handleAddDoc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	doc, err := s.reg.AddDoc(r.PathValue("id"), req.Name, req.Content)
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.DeleteDoc(r.PathValue("id"), r.PathValue("docID")); err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	outcomes := s.eng.Broadcast(r.Context(), req.Message, nil)
	results := make(map[string]any, len(outcomes))
	for id, out := range outcomes {
		if out.Err != nil {
			results[id] = map[string]string{"error": out.Err.Error()}
		} else {
			results[id] = map[string]string{"response": out.Response}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From    string `json:"from"`
		To      string `json:"to"`
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	resp, err := s.eng.Handoff(r.Context(), req.From, req.To, req.Context, nil)
	if err != nil {
		writeSwarmError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": resp})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSwarmError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, swarm.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, swarm.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, swarm.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
