package graph

// EventType enumerates the run-scoped and node-scoped events the
// runner emits into its sink (spec.md §4.4, §6).
type EventType string

const (
	EventRunStarted   EventType = "runStarted"
	EventRunCompleted EventType = "runCompleted"
	EventRunError     EventType = "runError"
	EventRunCancelled EventType = "runCancelled"

	EventNodeStarted EventType = "nodeStarted"
	EventNodeDelta   EventType = "nodeDelta"
	EventNodeFinal   EventType = "nodeFinal"
	EventNodeError   EventType = "nodeError"
	EventNodeAborted EventType = "nodeAborted"
	EventThinking    EventType = "thinking"
)

// RunEvent is the single event shape streamed to subscribers. Fields
// unused by a given Type are left zero; json omitempty keeps the wire
// shape matching spec.md §6 exactly per event kind.
type RunEvent struct {
	Type    EventType    `json:"type"`
	RunID   string       `json:"runId,omitempty"`
	NodeID  string       `json:"nodeId,omitempty"`
	Data    *NodePayload `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Content string       `json:"content,omitempty"`
	Seq     uint64       `json:"seq,omitempty"`
}
