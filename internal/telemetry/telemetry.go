// Package telemetry builds the structural, content-free records emitted
// once per request (the "chat.summary" event and the internal decision
// signature) and a window-aggregated recorder that taps the bus and
// persists pass/stop-reason/failure counters across restarts.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenforge/respondctl/internal/bus"
	"github.com/lumenforge/respondctl/internal/types"
)

// Signature computes the deterministic decision signature: SHA-256 hex of
// canonical JSON over {stable_inputs, pass_plan, deltas_structure,
// validator_failures?, stop_reason?}. Each delta contributes only
// {op, path, value_meta} where value_meta records type and length/count —
// never content. Map keys are sorted by encoding/json, so identical inputs
// yield byte-identical canonical form.
func Signature(ds types.DecisionState, op types.OutputPlan, passPlan []types.PassType, deltaShapes [][]types.OpMeta, validatorFailures int, stop types.StopReason) string {
	stableInputs := map[string]string{
		"decision_id":          ds.DecisionID,
		"schema_version":       ds.SchemaVersion,
		"proximity_state":      string(ds.ProximityState),
		"reversibility_class":  string(ds.ReversibilityClass),
		"consequence_horizon":  string(ds.ConsequenceHorizon),
		"responsibility_scope": string(ds.ResponsibilityScope),
		"action":               string(op.Action),
		"posture":              string(op.Posture),
		"verbosity_cap":        string(op.VerbosityCap),
	}
	if passPlan == nil {
		passPlan = []types.PassType{}
	}
	if deltaShapes == nil {
		deltaShapes = [][]types.OpMeta{}
	}
	canonical := map[string]any{
		"stable_inputs":    stableInputs,
		"pass_plan":        passPlan,
		"deltas_structure": deltaShapes,
	}
	if validatorFailures > 0 {
		canonical["validator_failures"] = validatorFailures
	}
	if stop != "" {
		canonical["stop_reason"] = string(stop)
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		// Every field above is a string, int, or plain struct; Marshal cannot
		// fail. Hash the error text anyway rather than returning empty.
		return types.ComputeHash("signature-marshal-error:" + err.Error())
	}
	return types.ComputeHash(string(data))
}

// BuildEvent assembles the full structural TelemetryEvent for one request.
func BuildEvent(ds types.DecisionState, op types.OutputPlan, passPlan []types.PassType, deltaShapes [][]types.OpMeta, stop types.StopReason, validatorFailures int, downgraded bool, summaries []types.PassSummary) types.TelemetryEvent {
	sig := Signature(ds, op, passPlan, deltaShapes, validatorFailures, stop)
	action := op.Action
	var stopPtr *types.StopReason
	if stop != "" {
		stopCopy := stop
		stopPtr = &stopCopy
	}
	return types.TelemetryEvent{
		PassCount:         len(summaries),
		StopReason:        stopPtr,
		ValidatorFailures: validatorFailures,
		Downgraded:        downgraded,
		DecisionSignature: sig,
		FinalAction:       &action,
		PassSummaries:     summaries,
	}
}

// BuildChatSummary builds the HTTP-edge telemetry event. It
// hashes the subject id rather than ever carrying it verbatim, and never
// copies any field on ForbiddenTelemetryKeys.
func BuildChatSummary(requestID, subjectID string, statusCode int, latencyMs int64, action types.Action, failureType *types.FailureType, failureReason *string, sampled bool) types.ChatSummaryEvent {
	return types.ChatSummaryEvent{
		Event:         "chat.summary",
		RequestID:     requestID,
		StatusCode:    statusCode,
		LatencyMs:     latencyMs,
		Action:        action,
		FailureType:   failureType,
		FailureReason: failureReason,
		SubjectIDHash: types.ComputeHash(subjectID),
		Sampled:       sampled,
	}
}

// windowStats is the subset of aggregated counters that survive restarts.
type windowStats struct {
	WindowStart            time.Time                `json:"window_start"`
	RequestsSeen           int                      `json:"requests_seen"`
	ActionCounts           map[types.Action]int     `json:"action_counts"`
	StopReasonCounts       map[types.StopReason]int `json:"stop_reason_counts"`
	Downgrades             int                      `json:"downgrades"`
	ValidatorFailuresTotal int                      `json:"validator_failures_total"`
}

// Recorder taps the bus for StageRequestCompleted events, appends a JSONL
// audit-style log entry per request, and keeps a window of aggregated
// counters persisted to disk across restarts.
type Recorder struct {
	b         *bus.Bus
	tap       <-chan bus.Message
	logPath   string
	statsPath string

	mu    sync.Mutex
	stats windowStats
}

// NewRecorder creates a Recorder. tap must be a dedicated bus tap
// (b.NewTap()). statsPath persists window counters as JSON; logPath is an
// append-only JSONL file of per-request TelemetryEvents.
func NewRecorder(b *bus.Bus, tap <-chan bus.Message, logPath, statsPath string) *Recorder {
	r := &Recorder{
		b:         b,
		tap:       tap,
		logPath:   logPath,
		statsPath: statsPath,
		stats: windowStats{
			WindowStart:      time.Now().UTC(),
			ActionCounts:     make(map[types.Action]int),
			StopReasonCounts: make(map[types.StopReason]int),
		},
	}
	r.loadStats()
	return r
}

func (r *Recorder) loadStats() {
	data, err := os.ReadFile(r.statsPath)
	if err != nil {
		return
	}
	var ws windowStats
	if err := json.Unmarshal(data, &ws); err != nil {
		log.Printf("[TELEMETRY] WARNING: could not load persisted stats: %v", err)
		return
	}
	if ws.ActionCounts == nil {
		ws.ActionCounts = make(map[types.Action]int)
	}
	if ws.StopReasonCounts == nil {
		ws.StopReasonCounts = make(map[types.StopReason]int)
	}
	r.mu.Lock()
	r.stats = ws
	r.mu.Unlock()
}

func (r *Recorder) saveStats() {
	r.mu.Lock()
	ws := r.stats
	r.mu.Unlock()
	data, err := json.Marshal(ws)
	if err != nil {
		log.Printf("[TELEMETRY] WARNING: could not marshal stats: %v", err)
		return
	}
	if err := os.WriteFile(r.statsPath, data, 0o644); err != nil {
		log.Printf("[TELEMETRY] WARNING: could not save stats: %v", err)
	}
}

// Run consumes tap until stop is closed or the tap closes; each
// StageRequestCompleted message's
// Payload (a types.TelemetryEvent) is appended to logPath and folded into
// the window counters.
func (r *Recorder) Run(stop <-chan struct{}) {
	if err := os.MkdirAll(filepath.Dir(r.logPath), 0o755); err != nil {
		log.Printf("[TELEMETRY] ERROR: create log dir: %v", err)
		return
	}
	f, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[TELEMETRY] ERROR: open log file: %v", err)
		return
	}
	defer f.Close()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-r.tap:
			if !ok {
				return
			}
			if msg.Type != bus.StageRequestCompleted {
				continue
			}
			event, ok := msg.Payload.(types.TelemetryEvent)
			if !ok {
				continue
			}
			r.process(event)
			r.writeEvent(f, msg.RequestID, event)
		}
	}
}

func (r *Recorder) process(event types.TelemetryEvent) {
	r.mu.Lock()
	r.stats.RequestsSeen++
	if event.FinalAction != nil {
		r.stats.ActionCounts[*event.FinalAction]++
	}
	if event.StopReason != nil {
		r.stats.StopReasonCounts[*event.StopReason]++
	}
	if event.Downgraded {
		r.stats.Downgrades++
	}
	r.stats.ValidatorFailuresTotal += event.ValidatorFailures
	r.mu.Unlock()
	r.saveStats()
}

type logLine struct {
	EventID   string               `json:"event_id"`
	Timestamp string               `json:"timestamp"`
	RequestID string               `json:"request_id"`
	Event     types.TelemetryEvent `json:"event"`
}

func (r *Recorder) writeEvent(f *os.File, requestID string, event types.TelemetryEvent) {
	line := logLine{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
		Event:     event,
	}
	data, err := json.Marshal(line)
	if err != nil {
		log.Printf("[TELEMETRY] WARNING: could not marshal log line: %v", err)
		return
	}
	if _, err := fmt.Fprintln(f, string(data)); err != nil {
		log.Printf("[TELEMETRY] WARNING: could not write log line: %v", err)
	}
}
