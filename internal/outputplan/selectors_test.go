package outputplan

import (
	"testing"

	"github.com/lumenforge/respondctl/internal/orchestrator"
	"github.com/lumenforge/respondctl/internal/types"
)

func baseState() types.DecisionState {
	return types.DecisionState{
		DecisionID:          "d1",
		TraceID:             "t1",
		SchemaVersion:       types.SchemaVersion,
		ProximityState:      types.ProximityLow,
		RiskDomains:         []types.RiskDomainRating{{Domain: types.DomainGeneric, Confidence: types.ConfidenceHigh}},
		ReversibilityClass:  types.ReversibilityReversible,
		ConsequenceHorizon:  types.HorizonShort,
		ResponsibilityScope: types.ResponsibilitySelf,
		OutcomeClasses:      []types.OutcomeClass{types.OutcomeBenefit},
	}
}

func mustControlPlan(t *testing.T, ds types.DecisionState, text string) types.ControlPlan {
	t.Helper()
	cp, err := orchestrator.Assemble(ds, orchestrator.TurnSignals{Text: text})
	if err != nil {
		t.Fatalf("control plan assembly failed: %v", err)
	}
	return cp
}

func TestAssembleBaselineAnswer(t *testing.T) {
	ds := baseState()
	cp := mustControlPlan(t, ds, "how do compilers work")
	op, err := Assemble("t1", ds, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Action != types.ActionAnswer {
		t.Fatalf("expected ANSWER, got %s", op.Action)
	}
	if op.Posture != types.PostureBaseline {
		t.Fatalf("safe conjunction should permit BASELINE posture, got %s", op.Posture)
	}
	if op.VerbosityCap != types.VerbosityTerse {
		t.Fatalf("baseline allow rule should permit TERSE, got %s", op.VerbosityCap)
	}
}

func TestAssembleRefusalForcesConstrainedPosture(t *testing.T) {
	ds := baseState()
	ds.ResponsibilityScope = types.ResponsibilitySystemicPublic
	ds.ConsequenceHorizon = types.HorizonLong
	ds.ExplicitUnknownZone = []types.UnknownSource{types.UnknownSourceHorizon}
	cp := mustControlPlan(t, ds, "rolling this out to all users")
	if cp.Action != types.ControlActionRefuse {
		t.Skipf("control path did not refuse (%s); refusal posture covered elsewhere", cp.Action)
	}
	op, err := Assemble("t1", ds, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Action != types.ActionRefuse || op.Posture != types.PostureConstrained {
		t.Fatalf("REFUSE requires CONSTRAINED posture, got %+v", op)
	}
	if op.RefusalSpec == nil || op.RefusalSpec.Category == types.RefusalNone {
		t.Fatalf("REFUSE requires a non-NONE category, got %+v", op.RefusalSpec)
	}
}

func TestAssembleAskForbidsDetailedVerbosity(t *testing.T) {
	ds := baseState()
	ds.RiskDomains = []types.RiskDomainRating{{Domain: types.DomainMedicalHealth, Confidence: types.ConfidenceMedium}}
	cp := mustControlPlan(t, ds, "what dosage")
	if cp.Action != types.ControlActionAskOneQuestion {
		t.Fatalf("expected ASK_ONE_QUESTION control action, got %s", cp.Action)
	}
	op, err := Assemble("t1", ds, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.VerbosityCap == types.VerbosityDetailed {
		t.Fatal("ASK_ONE_QUESTION forbids DETAILED verbosity")
	}
	if op.QuestionSpec == nil || op.QuestionSpec.QuestionClass != cp.QuestionClass {
		t.Fatalf("question spec must carry the compressed class, got %+v", op.QuestionSpec)
	}
}

func TestAssembleCloseCarriesClosureSpecOnly(t *testing.T) {
	ds := baseState()
	cp := mustControlPlan(t, ds, "never mind")
	op, err := Assemble("t1", ds, cp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Action != types.ActionClose || op.ClosureSpec == nil {
		t.Fatalf("expected CLOSE with closure spec, got %+v", op)
	}
	if op.QuestionSpec != nil || op.RefusalSpec != nil {
		t.Fatal("CLOSE forbids question/refusal specs")
	}
}

func TestUnknownDisclosureHardOverrideAtHighProximity(t *testing.T) {
	ds := baseState()
	ds.ProximityState = types.ProximityHigh
	ds.ExplicitUnknownZone = []types.UnknownSource{types.UnknownSourceHorizon}
	ds.ConsequenceHorizon = types.HorizonLong
	if got := selectUnknownDisclosure(ds); got != types.UnknownDisclosureDetailed {
		t.Fatalf("explicit unknowns at HIGH proximity must force DETAILED, got %s", got)
	}
	ds.ProximityState = types.ProximityLow
	if got := selectUnknownDisclosure(ds); got != types.UnknownDisclosureBrief {
		t.Fatalf("unknowns at LOW proximity disclose BRIEF, got %s", got)
	}
	ds.ExplicitUnknownZone = nil
	ds.ConsequenceHorizon = types.HorizonShort
	if got := selectUnknownDisclosure(ds); got != types.UnknownDisclosureNone {
		t.Fatalf("no unknowns means NONE, got %s", got)
	}
}

func TestConfidenceSignalingEscalatesForCriticalDomains(t *testing.T) {
	ds := baseState()
	ds.RiskDomains = []types.RiskDomainRating{{Domain: types.DomainMedicalHealth, Confidence: types.ConfidenceMedium}}
	cp := mustControlPlan(t, ds, "what dosage")
	if got := selectConfidenceSignaling(cp, ds); got != types.ConfidenceSignalingExplicit {
		t.Fatalf("critical domain at MEDIUM confidence must force EXPLICIT, got %s", got)
	}
}

func TestOutputPlanIDDeterministic(t *testing.T) {
	ds := baseState()
	cp := mustControlPlan(t, ds, "same input")
	a, errA := Assemble("t1", ds, cp)
	b, errB := Assemble("t1", ds, cp)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	if a.ID != b.ID {
		t.Fatal("OutputPlan id must be a deterministic UUIDv5 of its inputs")
	}
	c, _ := Assemble("t2", ds, cp)
	if a.ID == c.ID {
		t.Fatal("different trace ids must derive different plan ids")
	}
}
