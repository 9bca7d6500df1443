package models

// Stream event names, emitted in strict phase order:
// items, bias, zero or more discussion events, then done or error.
const (
	EventItems      = "items"
	EventBias       = "bias"
	EventDiscussion = "discussion"
	EventDone       = "done"
	EventError      = "error"
)

// ItemsPayload is emitted after the feed phase completes
type ItemsPayload struct {
	Community  string `json:"communityId"`
	Items      []Post `json:"items"`
	TotalCount int    `json:"totalCount"`
}

// BiasPayload is emitted after the source bias lookup phase
type BiasPayload struct {
	BiasBreakdown    map[string]int  `json:"biasBreakdown"`
	Details          []BiasRecord    `json:"details"`
	URLsChecked      int             `json:"urlsChecked"`
	ProvisionalScore *AggregateScore `json:"provisionalScore"`
}

// Progress tracks discussion phase completion
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// DiscussionPayload is emitted once per batch and once finally
type DiscussionPayload struct {
	Samples        []DiscussionSample `json:"samples"`
	LeanRaw        float64            `json:"leanRaw"`
	LeanNormalized float64            `json:"leanNormalized"`
	Label          string             `json:"label"`
	Confidence     float64            `json:"confidence"`
	Progress       Progress           `json:"progress"`
	Cached         bool               `json:"cached,omitempty"`
}

// DonePayload terminates a successful stream
type DonePayload struct {
	OK     bool `json:"ok"`
	Cached bool `json:"cached,omitempty"`
}

// ErrorPayload terminates a failed stream
type ErrorPayload struct {
	Message string `json:"message"`
}
