// Package tracelog is an optional, off-by-default, operator-only local
// debug trace of one request's stage transitions. It is never sent over
// the network and never feeds telemetry; it exists purely for local
// debugging and is a no-op unless TRACE_LOG_DIR is set. One JSONL file per
// request, nil-safe methods so callers never need a nil check, and a
// Registry as sole owner of file handles.
package tracelog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventKind labels one structured line in a trace file.
type EventKind string

const (
	KindRequestBegin     EventKind = "request_begin"
	KindRequestEnd       EventKind = "request_end"
	KindDecisionState    EventKind = "decision_state_assembled"
	KindControlPlan      EventKind = "control_plan_assembled"
	KindOutputPlan       EventKind = "output_plan_assembled"
	KindDeepThinkPlanned EventKind = "deep_think_planned"
	KindPassCompleted    EventKind = "pass_completed"
	KindDeepThinkStopped EventKind = "deep_think_stopped"
	KindPatchApplied     EventKind = "patch_applied"
	KindPatchRejected    EventKind = "patch_rejected"
	KindModelInvoked     EventKind = "model_invoked"
)

// Event is one JSONL line. Only structural fields — never rendered text,
// same no-leakage rule telemetry enforces, kept here even though this log
// is local-only because the discipline should not depend on deployment.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`
	RequestID string    `json:"request_id,omitempty"`

	Action     string `json:"action,omitempty"`
	Posture    string `json:"posture,omitempty"`
	RigorLevel string `json:"rigor_level,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	PassType   string `json:"pass_type,omitempty"`
	CostUnits  int    `json:"cost_units,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Strikes    int    `json:"strikes,omitempty"`
	Accepted   *bool  `json:"accepted,omitempty"`
	Status     string `json:"status,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
}

// Trace is a handle for writing structured events for one request. All
// methods are nil-safe no-ops, so the pipeline can hold a *Trace
// unconditionally and never check whether tracing is enabled.
type Trace struct {
	requestID string
	started   time.Time
	mu        sync.Mutex
	f         *os.File
}

// Registry opens and closes per-request trace files under dir. A nil
// *Registry is valid and Open on it returns a nil *Trace (pure no-op).
type Registry struct {
	dir string
	mu  sync.Mutex
}

// NewRegistry returns a Registry writing under dir, or nil if dir is empty
// — the caller is expected to pass the TRACE_LOG_DIR env var verbatim, so
// an unset env var disables tracing for the whole process with no branch
// at every call site.
func NewRegistry(dir string) *Registry {
	if dir == "" {
		return nil
	}
	return &Registry{dir: dir}
}

// Open creates a new Trace for requestID and writes a request_begin event.
// Safe to call on a nil *Registry (returns nil).
func (r *Registry) Open(requestID string) *Trace {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		log.Printf("[TRACELOG] could not create dir %s: %v", r.dir, err)
		return nil
	}
	path := filepath.Join(r.dir, requestID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[TRACELOG] could not open %s: %v", path, err)
		return nil
	}

	t := &Trace{requestID: requestID, started: time.Now(), f: f}
	t.write(Event{Kind: KindRequestBegin, RequestID: requestID})
	return t
}

// Close writes a request_end event and closes the file. Safe to call with
// a nil *Trace.
func (t *Trace) Close(status string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	elapsed := time.Since(t.started).Milliseconds()
	t.mu.Unlock()

	t.write(Event{Kind: KindRequestEnd, Status: status, ElapsedMs: elapsed})

	t.mu.Lock()
	if t.f != nil {
		_ = t.f.Close()
		t.f = nil
	}
	t.mu.Unlock()
}

// DecisionStateAssembled records the stakes snapshot's structural shape.
func (t *Trace) DecisionStateAssembled(proximity, reversibility string) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindDecisionState, Action: proximity, Posture: reversibility})
}

// ControlPlanAssembled records the control decision's shape.
func (t *Trace) ControlPlanAssembled(action, rigor string) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindControlPlan, Action: action, RigorLevel: rigor})
}

// OutputPlanAssembled records the expression selectors' shape.
func (t *Trace) OutputPlanAssembled(action, posture string) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindOutputPlan, Action: action, Posture: posture})
}

// DeepThinkPlanned records the router's chosen pass plan length via
// PassType left empty and CostUnits holding the effective pass count.
func (t *Trace) DeepThinkPlanned(effectivePassCount int) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindDeepThinkPlanned, CostUnits: effectivePassCount})
}

// PassCompleted records one executed or skipped pass.
func (t *Trace) PassCompleted(passType string, executed bool, costUnits int, durationMs int64, strikes int) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindPassCompleted, PassType: passType, Status: boolStatus(executed), CostUnits: costUnits, DurationMs: durationMs, Strikes: strikes})
}

// DeepThinkStopped records why the engine stopped.
func (t *Trace) DeepThinkStopped(stopReason string, downgraded bool) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindDeepThinkStopped, StopReason: stopReason, Status: boolStatus(!downgraded)})
}

// PatchApplied records an accepted DecisionDelta application.
func (t *Trace) PatchApplied(passType string) {
	if t == nil {
		return
	}
	accepted := true
	t.write(Event{Kind: KindPatchApplied, PassType: passType, Accepted: &accepted})
}

// PatchRejected records a rejected DecisionDelta and its strike count.
func (t *Trace) PatchRejected(passType string, strikes int) {
	if t == nil {
		return
	}
	accepted := false
	t.write(Event{Kind: KindPatchRejected, PassType: passType, Accepted: &accepted, Strikes: strikes})
}

// ModelInvoked records that the model pipeline made its single bounded call.
func (t *Trace) ModelInvoked(action string, durationMs int64) {
	if t == nil {
		return
	}
	t.write(Event{Kind: KindModelInvoked, Action: action, DurationMs: durationMs})
}

func boolStatus(b bool) string {
	if b {
		return "ok"
	}
	return "failed"
}

func (t *Trace) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.RequestID = t.requestID
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[TRACELOG] marshal error: %v", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return
	}
	if _, err = fmt.Fprintf(t.f, "%s\n", data); err != nil {
		log.Printf("[TRACELOG] write error: %v", err)
	}
}
