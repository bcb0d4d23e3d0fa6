package types

// PassSummary is a sanitized, structural record of one executed pass —
// never the content it produced.
type PassSummary struct {
	Type       PassType `json:"type"`
	Executed   bool     `json:"executed"`
	CostUnits  int      `json:"cost_units"`
	DurationMs int64    `json:"duration_ms"`
	Strikes    int      `json:"strikes"`
}

// TelemetryEvent is the safe structural record emitted once per request. It
// must never contain user or assistant text; ValueMeta on a delta records
// only type/length, never content.
type TelemetryEvent struct {
	PassCount         int           `json:"pass_count"`
	StopReason        *StopReason   `json:"stop_reason,omitempty"`
	ValidatorFailures int           `json:"validator_failures"`
	Downgraded        bool          `json:"downgraded"`
	DecisionSignature string        `json:"decision_signature"`
	FinalAction       *Action       `json:"final_action,omitempty"`
	PassSummaries     []PassSummary `json:"pass_summaries,omitempty"`
}

// ChatSummaryEvent is the §6 "chat.summary" HTTP-level telemetry record.
// Forbidden keys (user_text, prompt, message, content, rendered_text,
// answer, rationale, clarify_question, alternatives, request_text,
// user_input, assistant_output) must never appear on this type or be added
// to it dynamically.
type ChatSummaryEvent struct {
	Event         string       `json:"event"`
	RequestID     string       `json:"request_id"`
	StatusCode    int          `json:"status_code"`
	LatencyMs     int64        `json:"latency_ms"`
	Action        Action       `json:"action"`
	FailureType   *FailureType `json:"failure_type,omitempty"`
	FailureReason *string      `json:"failure_reason,omitempty"`
	SubjectIDHash string       `json:"subject_id_hash"`
	Sampled       bool         `json:"sampled"`
}

// ForbiddenTelemetryKeys is the closed list of keys that may never appear
// anywhere in a telemetry payload.
var ForbiddenTelemetryKeys = map[string]bool{
	"user_text": true, "prompt": true, "message": true, "content": true,
	"rendered_text": true, "answer": true, "rationale": true,
	"clarify_question": true, "alternatives": true, "request_text": true,
	"user_input": true, "assistant_output": true,
}
