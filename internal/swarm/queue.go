package swarm

import (
	"sync"
)

// Outcome is the resolved value of a queued task.
type Outcome struct {
	Response string
	Err      error
}

// Future resolves exactly once with the task's outcome.
type Future struct {
	done chan struct{}
	out  Outcome
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(out Outcome) {
	f.out = out
	close(f.done)
}

// Wait blocks until the task resolves.
func (f *Future) Wait() Outcome {
	<-f.done
	return f.out
}

// Done returns a channel closed once the task resolves, for callers that
// need to select against cancellation.
func (f *Future) Done() <-chan struct{} { return f.done }

type queuedTask struct {
	run    func() (string, error)
	future *Future
}

// lane is one agent's FIFO work queue. The queue is unbounded; a single
// drainer goroutine runs tasks one at a time and exits when the queue
// empties.
type lane struct {
	mu      sync.Mutex
	pending []queuedTask
	running bool
}

// Queue serialises tasks per agent while letting distinct agents run in
// parallel.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func NewQueue() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Enqueue appends a task to the agent's lane and returns its future. The
// lane keeps draining even when a task fails.
func (q *Queue) Enqueue(agentID string, run func() (string, error)) *Future {
	q.mu.Lock()
	ln, ok := q.lanes[agentID]
	if !ok {
		ln = &lane{}
		q.lanes[agentID] = ln
	}
	q.mu.Unlock()

	f := newFuture()
	ln.mu.Lock()
	ln.pending = append(ln.pending, queuedTask{run: run, future: f})
	if !ln.running {
		ln.running = true
		go ln.drain()
	}
	ln.mu.Unlock()
	return f
}

// Remove drops the agent's lane. Tasks already queued still run to
// completion on the detached lane.
func (q *Queue) Remove(agentID string) {
	q.mu.Lock()
	delete(q.lanes, agentID)
	q.mu.Unlock()
}

func (ln *lane) drain() {
	for {
		ln.mu.Lock()
		if len(ln.pending) == 0 {
			ln.running = false
			ln.mu.Unlock()
			return
		}
		task := ln.pending[0]
		ln.pending = ln.pending[1:]
		ln.mu.Unlock()

		resp, err := task.run()
		task.future.resolve(Outcome{Response: resp, Err: err})
	}
}
