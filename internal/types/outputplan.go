package types

import "fmt"

// QuestionSpec renders an ASK_ONE_QUESTION action.
type QuestionSpec struct {
	QuestionClass  QuestionClass `json:"question_class"`
	PriorityReason string        `json:"priority_reason"`
}

// RefusalSpec renders a REFUSE action.
type RefusalSpec struct {
	Category RefusalCategory `json:"category"`
}

// ClosureSpec renders a CLOSE action.
type ClosureSpec struct {
	State ClosureState `json:"state"`
}

// OutputPlan is the output of the expression selectors: how, not whether.
type OutputPlan struct {
	ID                  string              `json:"id"`
	Action              Action              `json:"action"`
	Posture             Posture             `json:"posture"`
	RigorDisclosure     RigorDisclosure     `json:"rigor_disclosure"`
	ConfidenceSignaling ConfidenceSignaling `json:"confidence_signaling"`
	AssumptionSurfacing AssumptionSurfacing `json:"assumption_surfacing"`
	UnknownDisclosure   UnknownDisclosure   `json:"unknown_disclosure"`
	VerbosityCap        VerbosityCap        `json:"verbosity_cap"`
	QuestionSpec        *QuestionSpec       `json:"question_spec,omitempty"`
	RefusalSpec         *RefusalSpec        `json:"refusal_spec,omitempty"`
	ClosureSpec         *ClosureSpec        `json:"closure_spec,omitempty"`
}

// NewOutputPlanID derives the plan's deterministic UUIDv5 id from its inputs.
func NewOutputPlanID(traceID, decisionStateID, controlPlanID string, action Action, schemaVersion string) string {
	return DeterministicUUID(traceID, decisionStateID, controlPlanID, string(action), schemaVersion)
}

// Validate enforces the action-specific assembly invariants.
func (o OutputPlan) Validate() error {
	if err := o.Action.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.Posture.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.RigorDisclosure.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.ConfidenceSignaling.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.AssumptionSurfacing.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.UnknownDisclosure.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	if err := o.VerbosityCap.Validate(); err != nil {
		return fmt.Errorf("output_plan: %w", err)
	}
	switch o.Action {
	case ActionClose:
		if o.QuestionSpec != nil || o.RefusalSpec != nil {
			return fmt.Errorf("output_plan: CLOSE forbids question_spec/refusal_spec")
		}
		if o.ClosureSpec == nil {
			return fmt.Errorf("output_plan: CLOSE requires closure_spec")
		}
	case ActionRefuse:
		if o.RefusalSpec == nil || o.RefusalSpec.Category == RefusalNone {
			return fmt.Errorf("output_plan: REFUSE requires a non-NONE refusal category")
		}
		if o.Posture != PostureConstrained {
			return fmt.Errorf("output_plan: REFUSE requires CONSTRAINED posture")
		}
	case ActionAskOneQuestion:
		if o.QuestionSpec == nil {
			return fmt.Errorf("output_plan: ASK_ONE_QUESTION requires question_spec")
		}
		if err := o.ForbidsEnforcedRigorAndDetailedVerbosity(); err != nil {
			return err
		}
	}
	return nil
}

// ForbidsEnforcedRigorAndDetailedVerbosity reports the ASK_ONE_QUESTION
// invariant: it forbids ENFORCED rigor disclosure and DETAILED verbosity.
func (o OutputPlan) ForbidsEnforcedRigorAndDetailedVerbosity() error {
	if o.Action != ActionAskOneQuestion {
		return nil
	}
	if o.RigorDisclosure == RigorDisclosureFull {
		return fmt.Errorf("output_plan: ASK_ONE_QUESTION forbids FULL (enforced-equivalent) rigor disclosure")
	}
	if o.VerbosityCap == VerbosityDetailed {
		return fmt.Errorf("output_plan: ASK_ONE_QUESTION forbids DETAILED verbosity")
	}
	return nil
}
