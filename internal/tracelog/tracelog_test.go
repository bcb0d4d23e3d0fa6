package tracelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNilRegistryAndTraceAreNoOps(t *testing.T) {
	var reg *Registry
	trace := reg.Open("req-1")
	if trace != nil {
		t.Fatal("nil registry must return nil trace")
	}
	// Every method must be safe on a nil trace.
	trace.DecisionStateAssembled("LOW", "REVERSIBLE")
	trace.ControlPlanAssembled("ANSWER_ALLOWED", "MINIMAL")
	trace.OutputPlanAssembled("ANSWER", "BASELINE")
	trace.DeepThinkPlanned(3)
	trace.PassCompleted("REFINE", true, 5, 10, 0)
	trace.DeepThinkStopped("SUCCESS_COMPLETED", false)
	trace.PatchApplied("REFINE")
	trace.PatchRejected("REFINE", 1)
	trace.ModelInvoked("ANSWER", 100)
	trace.Close("ok")
}

func TestEmptyDirDisablesTracing(t *testing.T) {
	if NewRegistry("") != nil {
		t.Fatal("empty dir must disable tracing")
	}
}

func TestTraceWritesOneJSONLFilePerRequest(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	trace := reg.Open("req-42")
	if trace == nil {
		t.Fatal("expected a live trace")
	}
	trace.DecisionStateAssembled("IMMINENT", "IRREVERSIBLE")
	trace.DeepThinkStopped("VALIDATION_FAIL", true)
	trace.Close("fallback")

	path := filepath.Join(dir, "req-42.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("trace file missing: %v", err)
	}
	defer f.Close()

	var kinds []EventKind
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", scanner.Text(), err)
		}
		if e.RequestID != "req-42" {
			t.Fatalf("wrong request id on line: %+v", e)
		}
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{KindRequestBegin, KindDecisionState, KindDeepThinkStopped, KindRequestEnd}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected %s, got %s", i, k, kinds[i])
		}
	}
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	trace := reg.Open("req-9")
	trace.Close("ok")
	// Must not panic or reopen the file.
	trace.PassCompleted("REFINE", true, 1, 1, 0)
}
