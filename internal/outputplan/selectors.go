// Package outputplan runs the eight ordered expression selectors that turn a
// ControlPlan into an OutputPlan: posture, rigor disclosure, confidence
// signaling, unknown disclosure, assumption surfacing, refusal explanation
// mode, closure rendering mode, and final assembly. Each selector is a pure
// function of upstream outputs only, using a bump-only lattice with hard
// overrides — expression can tighten what the orchestrator decided, never
// loosen it.
package outputplan

import (
	"fmt"

	"github.com/lumenforge/respondctl/internal/types"
)

// selectPosture is selector 1. STOP friction, refusal, or non-OPEN closure
// force CONSTRAINED; irreversibility, systemic-public scope, or
// STRUCTURED-or-higher rigor force at least GUARDED; otherwise BASELINE.
func selectPosture(cp types.ControlPlan, ds types.DecisionState) types.Posture {
	posture := types.PostureBaseline
	if ds.ReversibilityClass == types.ReversibilityIrreversible || ds.ResponsibilityScope == types.ResponsibilitySystemicPublic {
		posture = bumpPosture(posture, types.PostureGuarded)
	}
	if cp.RigorLevel.Rank() >= types.RigorStructured.Rank() {
		posture = bumpPosture(posture, types.PostureGuarded)
	}
	if cp.FrictionPosture == types.FrictionStop || cp.RefusalRequired || cp.ClosureState != types.ClosureOpen {
		posture = bumpPosture(posture, types.PostureConstrained)
	}
	return posture
}

func bumpPosture(a, b types.Posture) types.Posture {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// selectRigorDisclosure is selector 2.
func selectRigorDisclosure(cp types.ControlPlan, ds types.DecisionState) types.RigorDisclosure {
	disclosure := types.RigorDisclosureNone
	if cp.RigorLevel.Rank() >= types.RigorStructured.Rank() {
		disclosure = bumpRigorDisclosure(disclosure, types.RigorDisclosureSummary)
	}
	if cp.FrictionPosture == types.FrictionStop || ds.HasCriticalDomainAtOrBelow(types.ConfidenceMedium) {
		disclosure = bumpRigorDisclosure(disclosure, types.RigorDisclosureFull)
	}
	return disclosure
}

func bumpRigorDisclosure(a, b types.RigorDisclosure) types.RigorDisclosure {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// selectConfidenceSignaling is selector 3.
func selectConfidenceSignaling(cp types.ControlPlan, ds types.DecisionState) types.ConfidenceSignaling {
	signaling := types.ConfidenceSignalingImplicit
	if len(ds.ExplicitUnknownZone) > 0 {
		signaling = bumpConfidenceSignaling(signaling, types.ConfidenceSignalingHedged)
	}
	if ds.HasCriticalDomainAtOrBelow(types.ConfidenceMedium) || ds.ReversibilityClass == types.ReversibilityIrreversible {
		signaling = bumpConfidenceSignaling(signaling, types.ConfidenceSignalingExplicit)
	}
	return signaling
}

func bumpConfidenceSignaling(a, b types.ConfidenceSignaling) types.ConfidenceSignaling {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// selectUnknownDisclosure is selector 4. Explicit unknowns at HIGH/IMMINENT
// proximity are a hard override to DETAILED.
func selectUnknownDisclosure(ds types.DecisionState) types.UnknownDisclosure {
	if len(ds.ExplicitUnknownZone) == 0 {
		return types.UnknownDisclosureNone
	}
	disclosure := types.UnknownDisclosureBrief
	if ds.ProximityState == types.ProximityHigh || ds.ProximityState == types.ProximityImminent {
		disclosure = bumpUnknownDisclosure(disclosure, types.UnknownDisclosureDetailed)
	}
	return disclosure
}

func bumpUnknownDisclosure(a, b types.UnknownDisclosure) types.UnknownDisclosure {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// selectAssumptionSurfacing is selector 5.
func selectAssumptionSurfacing(cp types.ControlPlan, ds types.DecisionState) types.AssumptionSurfacing {
	surfacing := types.AssumptionSurfacingNone
	if ds.ProximityUncertainty || len(ds.ExplicitUnknownZone) > 0 {
		surfacing = bumpAssumptionSurfacing(surfacing, types.AssumptionSurfacingListed)
	}
	if cp.RigorLevel.Rank() >= types.RigorEnforced.Rank() {
		surfacing = bumpAssumptionSurfacing(surfacing, types.AssumptionSurfacingDetailed)
	}
	return surfacing
}

func bumpAssumptionSurfacing(a, b types.AssumptionSurfacing) types.AssumptionSurfacing {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// selectVerbosityCap applies the posture/rigor baseline-allow rule: the
// minimum (TERSE) is permitted only when a comprehensive conjunction of safe
// conditions holds — baseline posture, minimal rigor disclosure, and no
// explicit unknowns. Any other case steps up the cap.
func selectVerbosityCap(posture types.Posture, rigorDisclosure types.RigorDisclosure, ds types.DecisionState) types.VerbosityCap {
	safe := posture == types.PostureBaseline && rigorDisclosure == types.RigorDisclosureNone && len(ds.ExplicitUnknownZone) == 0
	switch {
	case safe:
		return types.VerbosityTerse
	case posture == types.PostureConstrained:
		return types.VerbosityNormal
	default:
		return types.VerbosityNormal
	}
}

// buildQuestionSpec is the ASK_ONE_QUESTION sub-spec, carried unchanged from
// the ControlPlan's question compression result (orchestrator already chose
// exactly one class).
func buildQuestionSpec(cp types.ControlPlan) *types.QuestionSpec {
	return &types.QuestionSpec{QuestionClass: cp.QuestionClass, PriorityReason: cp.PriorityReason}
}

// buildRefusalSpec is selector 6 (refusal_explanation_mode), only run when
// refusal is required.
func buildRefusalSpec(cp types.ControlPlan) *types.RefusalSpec {
	return &types.RefusalSpec{Category: cp.RefusalCategory}
}

// buildClosureSpec is selector 7 (closure_rendering_mode), only run when
// closure is non-OPEN.
func buildClosureSpec(cp types.ControlPlan) *types.ClosureSpec {
	return &types.ClosureSpec{State: cp.ClosureState}
}

// controlActionToAction maps ControlPlan's permission-only action vocabulary
// to OutputPlan's rendered action vocabulary.
func controlActionToAction(a types.ControlAction) (types.Action, error) {
	switch a {
	case types.ControlActionAnswerAllowed:
		return types.ActionAnswer, nil
	case types.ControlActionAskOneQuestion:
		return types.ActionAskOneQuestion, nil
	case types.ControlActionRefuse:
		return types.ActionRefuse, nil
	case types.ControlActionClose:
		return types.ActionClose, nil
	}
	return "", fmt.Errorf("outputplan: unmapped control action %q", a)
}

// Assemble runs all eight selectors in order and returns a validated
// OutputPlan, or an OutputAssemblyInvariantViolation error.
// Every selector here is a pure function of the ControlPlan and DecisionState
// only — it can never change what the orchestrator decided, only how it is
// expressed.
func Assemble(traceID string, ds types.DecisionState, cp types.ControlPlan) (types.OutputPlan, error) {
	action, err := controlActionToAction(cp.Action)
	if err != nil {
		return types.OutputPlan{}, fmt.Errorf("outputplan: %w", err)
	}

	posture := selectPosture(cp, ds)
	rigorDisclosure := selectRigorDisclosure(cp, ds)
	confidenceSignaling := selectConfidenceSignaling(cp, ds)
	unknownDisclosure := selectUnknownDisclosure(ds)
	assumptionSurfacing := selectAssumptionSurfacing(cp, ds)
	verbosityCap := selectVerbosityCap(posture, rigorDisclosure, ds)

	op := types.OutputPlan{
		Action:              action,
		Posture:             posture,
		RigorDisclosure:     rigorDisclosure,
		ConfidenceSignaling: confidenceSignaling,
		AssumptionSurfacing: assumptionSurfacing,
		UnknownDisclosure:   unknownDisclosure,
		VerbosityCap:        verbosityCap,
	}

	switch action {
	case types.ActionAskOneQuestion:
		op.QuestionSpec = buildQuestionSpec(cp)
		if op.RigorDisclosure == types.RigorDisclosureFull {
			op.RigorDisclosure = types.RigorDisclosureSummary
		}
		if op.VerbosityCap == types.VerbosityDetailed {
			op.VerbosityCap = types.VerbosityNormal
		}
	case types.ActionRefuse:
		op.RefusalSpec = buildRefusalSpec(cp)
		op.Posture = types.PostureConstrained
	case types.ActionClose:
		op.ClosureSpec = buildClosureSpec(cp)
	case types.ActionAnswer:
		if cp.FrictionPosture == types.FrictionStop {
			return types.OutputPlan{}, fmt.Errorf("outputplan: OutputAssemblyInvariantViolation: ANSWER forbids STOP friction")
		}
	}

	op.ID = types.NewOutputPlanID(traceID, ds.DecisionID, cp.ID, action, ds.SchemaVersion)

	if err := op.Validate(); err != nil {
		return types.OutputPlan{}, fmt.Errorf("outputplan: OutputAssemblyInvariantViolation: %w", err)
	}
	return op, nil
}
