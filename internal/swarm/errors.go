package swarm

import "errors"

var (
	// ErrNotFound reports a missing agent, todo, or document.
	ErrNotFound = errors.New("not found")

	// ErrInvalid reports a rejected create or update.
	ErrInvalid = errors.New("invalid request")

	// ErrStopped reports a stream aborted by an explicit stop request.
	ErrStopped = errors.New("stopped by user")

	// ErrBusy reports a turn attempted on an agent with an active stream.
	ErrBusy = errors.New("agent is busy")
)
