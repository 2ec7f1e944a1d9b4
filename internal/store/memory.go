package store

import (
	"context"
	"sync"

	"github.com/openswarm-dev/swarmgate/internal/swarm"
)

// MemoryStore keeps agents in a map. Nothing survives a restart; used in
// tests and for ephemeral deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*swarm.Agent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*swarm.Agent)}
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]*swarm.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*swarm.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, agent *swarm.Agent) error {
	cp := *agent
	s.mu.Lock()
	s.agents[agent.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()
	return nil
}
