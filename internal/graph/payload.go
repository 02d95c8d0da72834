package graph

// NodePayload is the single value type carried along an edge.
// Text is never absent (empty string is legal); JSON is set only when
// the producing node parsed a structured value. Meta preserves
// recognized keys (sessionKey, modelId, agentId, latencyMs) plus any
// unknown keys opaquely.
type NodePayload struct {
	Text string                 `json:"text"`
	JSON interface{}            `json:"json,omitempty"`
	Meta map[string]interface{} `json:"meta"`
}

func NewPayload(text string) NodePayload {
	return NodePayload{Text: text, Meta: map[string]interface{}{}}
}

// DecisionStatus enumerates the terminal states a judge node can
// assign to its verdict.
type DecisionStatus string

const (
	DecisionDone         DecisionStatus = "done"
	DecisionContinue     DecisionStatus = "continue"
	DecisionNeedsInfo    DecisionStatus = "needs_info"
	DecisionFailed       DecisionStatus = "failed"
	DecisionHumanReview  DecisionStatus = "human_review"
)

// Decision is the structured verdict produced by the judge node,
// carried inside NodePayload.JSON. PassScore in the judge config is
// informational only until a downstream Switch(fieldMatch) node reads
// it — the judge executor itself does not evaluate it (spec.md §9
// Open Question).
type Decision struct {
	Status          DecisionStatus `json:"status"`
	Score           int            `json:"score"`
	Reasons         []string       `json:"reasons"`
	Missing         []string       `json:"missing"`
	NextActionHint  string         `json:"nextActionHint"`
	RecommendedBranch string       `json:"recommendedBranch"`
}
