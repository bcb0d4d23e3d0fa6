// Package orchestrator assembles a ControlPlan from a DecisionState through
// a fixed ten-step pipeline: rigor, friction, clarification, question
// compression, initiative/warning budget, closure, refusal, override
// reconciliation, action resolution, validation. Every rule is an ordered
// first-match-wins table; rigor and friction only ever climb.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lumenforge/respondctl/internal/types"
)

// TurnSignals carries the request-level facts the orchestrator reads beyond
// the DecisionState itself — closure/user-intent text markers that belong
// to this turn only, never persisted.
type TurnSignals struct {
	Text string
	// GovernanceHold is an operator-level gate: when set, refusal is
	// mandatory at the highest tier regardless of stakes.
	GovernanceHold bool
}

var closingMarkers = []string{"thanks, that's all", "bye", "goodbye", "that's all i needed", "we're done here"}
var userTerminatedMarkers = []string{"stop", "cancel this", "forget it", "never mind"}

func detectClosure(text string) types.ClosureState {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, userTerminatedMarkers):
		return types.ClosureUserTerminated
	case containsAny(lower, closingMarkers):
		return types.ClosureClosing
	default:
		return types.ClosureOpen
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func hasCriticalDomain(ds types.DecisionState) (types.RiskDomainRating, bool) {
	for _, r := range ds.RiskDomains {
		if types.CriticalDomains[r.Domain] {
			return r, true
		}
	}
	return types.RiskDomainRating{}, false
}

// selectRigor is step 1: a bump-only lattice climb driven by proximity,
// critical domains, irreversibility, horizon, responsibility, and unknowns.
func selectRigor(ds types.DecisionState) types.RigorLevel {
	rigor := types.RigorMinimal
	if ds.ProximityState == types.ProximityHigh || ds.ProximityState == types.ProximityImminent {
		rigor = types.BumpRigor(rigor, types.RigorGuarded)
	}
	if crit, ok := hasCriticalDomain(ds); ok {
		rigor = types.BumpRigor(rigor, types.RigorStructured)
		if crit.Confidence != types.ConfidenceHigh {
			rigor = types.BumpRigor(rigor, types.RigorEnforced)
		}
	}
	if ds.ReversibilityClass == types.ReversibilityIrreversible {
		rigor = types.BumpRigor(rigor, types.RigorEnforced)
	}
	if ds.ConsequenceHorizon == types.HorizonLong {
		rigor = types.BumpRigor(rigor, types.RigorStructured)
	}
	if ds.ResponsibilityScope == types.ResponsibilitySystemicPublic {
		rigor = types.BumpRigor(rigor, types.RigorEnforced)
	}
	if len(ds.ExplicitUnknownZone) > 0 {
		rigor = types.BumpRigor(rigor, types.RigorGuarded)
	}
	return rigor
}

// selectFriction is step 2: rigor + stakes map to a friction posture.
func selectFriction(rigor types.RigorLevel, ds types.DecisionState) types.FrictionPosture {
	switch {
	case rigor == types.RigorEnforced && ds.ProximityState == types.ProximityImminent:
		return types.FrictionStop
	case rigor == types.RigorEnforced:
		return types.FrictionHardPause
	case rigor == types.RigorStructured:
		return types.FrictionSoftPause
	default:
		return types.FrictionNone
	}
}

// clarificationDecision is step 3: yes/no + reason.
func clarificationDecision(ds types.DecisionState, rigor types.RigorLevel) (bool, string) {
	if crit, ok := hasCriticalDomain(ds); ok && crit.Confidence != types.ConfidenceHigh {
		return true, "critical domain at non-HIGH confidence"
	}
	if ds.ReversibilityClass == types.ReversibilityIrreversible && len(ds.ExplicitUnknownZone) > 0 {
		return true, "irreversible action with unresolved unknowns"
	}
	if ds.ProximityState == types.ProximityImminent && len(ds.ExplicitUnknownZone) > 0 {
		return true, "imminent action with unresolved unknowns"
	}
	if ds.ProximityState == types.ProximityMedium && rigor.Rank() >= types.RigorStructured.Rank() {
		return true, "medium proximity under structured-or-higher rigor"
	}
	return false, ""
}

// selectQuestionClass is step 4: exactly one class by fixed priority.
func selectQuestionClass(ds types.DecisionState) (types.QuestionClass, string) {
	if crit, ok := hasCriticalDomain(ds); ok {
		return types.QuestionSafetyLegal, fmt.Sprintf("critical domain %s requires safety/legal clarification", crit.Domain)
	}
	if ds.ReversibilityClass == types.ReversibilityIrreversible {
		return types.QuestionIrreversibility, "irreversible consequence requires confirmation"
	}
	if ds.ResponsibilityScope == types.ResponsibilityThirdParty || ds.ResponsibilityScope == types.ResponsibilitySystemicPublic {
		return types.QuestionResponsibility, "consequences extend beyond the requester"
	}
	if len(ds.ExplicitUnknownZone) > 0 {
		return types.QuestionConstraints, "missing constraints needed to proceed safely"
	}
	if ds.ProximityUncertainty {
		return types.QuestionIntentAmbiguity, "intent is ambiguous"
	}
	return types.QuestionFallbackInformational, "no stronger signal; clarify informationally"
}

// selectInitiativeAndWarning is step 5.
func selectInitiativeAndWarning(clarificationRequired bool, rigor types.RigorLevel) (types.InitiativeBudget, int) {
	if clarificationRequired {
		return types.InitiativeNone, 0
	}
	switch {
	case rigor.Rank() >= types.RigorEnforced.Rank():
		return types.InitiativeStrictOnce, 1
	case rigor.Rank() >= types.RigorStructured.Rank():
		return types.InitiativeOnce, 1
	default:
		return types.InitiativeOnce, 0
	}
}

// selectRefusal is step 7: tiered refusal decision. Governance outranks
// everything; the remaining tiers fire only when no clarification path exists.
func selectRefusal(ds types.DecisionState, clarificationRequired bool, friction types.FrictionPosture, governanceHold bool) (bool, types.RefusalCategory) {
	if governanceHold {
		return true, types.RefusalGovernance
	}
	if _, ok := hasCriticalDomain(ds); ok && ds.ProximityState == types.ProximityImminent && !clarificationRequired {
		if len(ds.ExplicitUnknownZone) > 0 {
			return true, types.RefusalRisk
		}
	}
	if ds.ReversibilityClass == types.ReversibilityIrreversible && ds.ProximityState == types.ProximityImminent && !clarificationRequired {
		return true, types.RefusalIrreversibility
	}
	if ds.ResponsibilityScope == types.ResponsibilitySystemicPublic && !clarificationRequired {
		return true, types.RefusalThirdParty
	}
	if friction == types.FrictionStop && !clarificationRequired {
		return true, types.RefusalCapability
	}
	return false, types.RefusalNone
}

// Assemble runs the fixed ten-step pipeline and returns a validated
// ControlPlan, or a typed assembly error. Every inconsistency fails the
// request closed.
func Assemble(ds types.DecisionState, signals TurnSignals) (types.ControlPlan, error) {
	rigor := selectRigor(ds)
	friction := selectFriction(rigor, ds)
	clarificationRequired, clarificationReason := clarificationDecision(ds, rigor)

	var questionClass types.QuestionClass
	var priorityReason string
	questionBudget := 0
	if clarificationRequired {
		questionClass, priorityReason = selectQuestionClass(ds)
		questionBudget = 1
	}

	initiative, warningBudget := selectInitiativeAndWarning(clarificationRequired, rigor)

	closure := detectClosure(signals.Text)
	if closure != types.ClosureOpen {
		clarificationRequired = false
		questionBudget = 0
		warningBudget = 0
		initiative = types.InitiativeNone
	}

	refusalRequired, refusalCategory := selectRefusal(ds, clarificationRequired, friction, signals.GovernanceHold)
	if refusalRequired {
		clarificationRequired = false
		questionBudget = 0
		initiative = types.InitiativeNone
	}

	if closure != types.ClosureOpen {
		refusalRequired = false
		refusalCategory = types.RefusalNone
	}

	action := types.ControlActionAnswerAllowed
	switch {
	case closure != types.ClosureOpen:
		action = types.ControlActionClose
	case refusalRequired:
		action = types.ControlActionRefuse
	case clarificationRequired:
		action = types.ControlActionAskOneQuestion
	}

	cp := types.ControlPlan{
		Action:                action,
		RigorLevel:            rigor,
		FrictionPosture:       friction,
		ClarificationRequired: clarificationRequired,
		ClarificationReason:   clarificationReason,
		QuestionBudget:        questionBudget,
		QuestionClass:         questionClass,
		PriorityReason:        priorityReason,
		InitiativeBudget:      initiative,
		WarningBudget:         warningBudget,
		ClosureState:          closure,
		RefusalRequired:       refusalRequired,
		RefusalCategory:       refusalCategory,
	}
	cp.ID = types.DeterministicUUID(
		ds.TraceID, ds.DecisionID, string(action), string(rigor), string(friction),
		string(questionClass), string(initiative), string(closure), string(refusalCategory),
		ds.SchemaVersion,
	)
	if err := cp.Validate(); err != nil {
		return types.ControlPlan{}, fmt.Errorf("orchestrator: assembly invariant violated: %w", err)
	}
	return cp, nil
}
