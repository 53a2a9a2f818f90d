package protocol

// Payload types for each of spec.md §6.1's request/response table. Field
// names mirror the teacher's request structs (internal/ipc/client.go:
// SessionStart/LogStart/Suggest/RecordFeedback/Ping/GetStatus) adapted
// from protobuf-generated fields to plain JSON tags.

// LogRequest is the `log` request body.
type LogRequest struct {
	Command    string  `json:"command"`
	CWD        string  `json:"cwd"`
	ExitCode   *int32  `json:"exit_code,omitempty"`
	DurationNS *uint64 `json:"duration_ns,omitempty"`
	SessionID  string  `json:"session_id"`
	ShellKind  string  `json:"shell_kind,omitempty"`
}

// LogResponse is the `log` response body. Rejected is set (to a reason
// such as "privacy") instead of ID when the privacy filter drops the
// event; this is a normal outcome, not an error (spec.md §7).
type LogResponse struct {
	ID       int64  `json:"id,omitempty"`
	Rejected string `json:"rejected,omitempty"`
}

// PreferencesPayload mirrors suggest.Preferences on the wire.
type PreferencesPayload struct {
	FactorWeights map[string]float64 `json:"factor_weights,omitempty"`
	PreferShort   bool                `json:"prefer_short,omitempty"`
	Blacklist     []string            `json:"blacklist,omitempty"`
	Whitelist     []string            `json:"whitelist,omitempty"`
}

// SuggestRequest is the `suggest` request body.
type SuggestRequest struct {
	Partial     string              `json:"partial"`
	CWD         string              `json:"cwd"`
	History     []string            `json:"history,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
	Preferences *PreferencesPayload `json:"preferences,omitempty"`
}

// CandidatePayload is one entry of the `suggest` response's candidates
// array, per spec.md §6.1's documented fields.
type CandidatePayload struct {
	Command     string  `json:"command"`
	Confidence  float64 `json:"confidence"`
	Risk        float64 `json:"risk"`
	Source      string  `json:"source"`
	Fingerprint string  `json:"fingerprint"`
	ExplainID   string  `json:"explain_id"`
}

// SuggestResponse is the `suggest` response body.
type SuggestResponse struct {
	Candidates []CandidatePayload `json:"candidates"`
	Degraded   []string           `json:"degraded,omitempty"`
}

// FeedbackRequest is the `feedback` request body.
type FeedbackRequest struct {
	ExplainID string `json:"explain_id"`
	Accepted  bool   `json:"accepted"`
}

// StatusPayload is the shared {"status": "ok"} ack shape used by
// `feedback` and `shutdown` responses and the `ping` liveness check.
type StatusPayload struct {
	Status string `json:"status"`
}

// SearchRequest is the `search` request body.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// EventPayload is one entry of the `search` response's events array.
type EventPayload struct {
	ID        int64  `json:"id"`
	Command   string `json:"command"`
	CWD       string `json:"cwd"`
	TSNanos   int64  `json:"ts_ns"`
	ExitCode  *int32 `json:"exit_code,omitempty"`
}

// SearchResponse is the `search` response body.
type SearchResponse struct {
	Events []EventPayload `json:"events"`
}

// ExplainRequest is the `explain` request body.
type ExplainRequest struct {
	ExplainID string `json:"explain_id"`
}

// ExplainResponse is the `explain` response body: the scoring breakdown
// spec.md §4.F's re-ranker produced for a previously emitted candidate.
type ExplainResponse struct {
	Tiers      []string           `json:"tiers"`
	Factors    map[string]float64 `json:"factors"`
	FinalScore float64            `json:"final_score"`
}

// StatusResponse is the `status` response body.
type StatusResponse struct {
	UptimeS           float64  `json:"uptime_s"`
	EventsStored      int64    `json:"events_stored"`
	SuggestionsServed int64    `json:"suggestions_served"`
	Degraded          []string `json:"degraded"`
	QueueDepth        int      `json:"queue_depth"`
	QueueCapacity     int      `json:"queue_capacity"`
	QueueDropped      int64    `json:"queue_dropped"`
}
