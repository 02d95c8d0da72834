package gateway

import "fmt"

// SessionKey builds the structured session-key form from spec.md §3:
// agent:<agentId>:<purpose>:<runId>:<nodeId>. This guarantees
// concurrent nodes in the same run never share a session and that
// resetting one node's session cannot disturb another.
func SessionKey(agentID, purpose, runID, nodeID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, purpose, runID, nodeID)
}

const (
	PurposeClawdini = "clawdini"
	PurposeMerge    = "merge"
	PurposeJudge    = "judge"
	PurposeExtract  = "extract"
)
