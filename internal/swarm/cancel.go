package swarm

import (
	"context"
	"sync"
)

// Canceller is the cancellation fabric: one token per busy agent. Stopping
// an agent cancels its active stream without touching other agents.
type Canceller struct {
	mu     sync.Mutex
	tokens map[string]context.CancelFunc
}

func NewCanceller() *Canceller {
	return &Canceller{tokens: make(map[string]context.CancelFunc)}
}

// Begin derives a cancellable context for the agent's turn and registers
// its token. Returns false when the agent already holds a token, in which
// case the caller is a nested continuation and reuses the parent context.
func (c *Canceller) Begin(parent context.Context, agentID string) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[agentID]; ok {
		return parent, false
	}
	ctx, cancel := context.WithCancel(parent)
	c.tokens[agentID] = cancel
	return ctx, true
}

// End releases the agent's token without firing it.
func (c *Canceller) End(agentID string) {
	c.mu.Lock()
	cancel, ok := c.tokens[agentID]
	delete(c.tokens, agentID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop fires the agent's token. Returns false when the agent has no active
// work.
func (c *Canceller) Stop(agentID string) bool {
	c.mu.Lock()
	cancel, ok := c.tokens[agentID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Active reports whether the agent holds a token.
func (c *Canceller) Active(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[agentID]
	return ok
}
