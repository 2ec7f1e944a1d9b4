package protocol

// Event kinds published on the internal bus and republished verbatim to
// WebSocket clients. Delivery is best-effort, FIFO per kind per subscriber.
const (
	EventAgentCreated = "agent:created"
	EventAgentUpdated = "agent:updated"
	EventAgentDeleted = "agent:deleted"
	EventAgentStatus  = "agent:status"

	EventAgentThinking = "agent:thinking"

	EventStreamStart = "agent:stream:start"
	EventStreamChunk = "agent:stream:chunk"
	EventStreamEnd   = "agent:stream:end"
	EventStreamError = "agent:stream:error"

	EventToolStart  = "agent:tool:start"
	EventToolResult = "agent:tool:result"
	EventToolError  = "agent:tool:error"

	EventDelegation  = "agent:delegation"
	EventErrorReport = "agent:error:report"
	EventStopped     = "agent:stopped"
	EventHandoff     = "agent:handoff"
)

// ProtocolVersion is bumped when the WS frame shape changes incompatibly.
const ProtocolVersion = 1
