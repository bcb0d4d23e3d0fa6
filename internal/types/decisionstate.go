package types

import (
	"fmt"
	"sort"
)

// RiskDomainRating pairs a domain with the assembler's confidence in it.
type RiskDomainRating struct {
	Domain     RiskDomain `json:"domain"`
	Confidence Confidence `json:"confidence"`
}

// DecisionState is the immutable stakes snapshot for one request. It is
// constructed once by the assembler and never mutated afterward.
type DecisionState struct {
	DecisionID           string              `json:"decision_id"`
	TraceID              string              `json:"trace_id"`
	PhaseMarker          string              `json:"phase_marker"`
	SchemaVersion        string              `json:"schema_version"`
	ProximityState       ProximityState      `json:"proximity_state"`
	ProximityUncertainty bool                `json:"proximity_uncertainty"`
	RiskDomains          []RiskDomainRating  `json:"risk_domains"`
	ReversibilityClass   ReversibilityClass  `json:"reversibility_class"`
	ConsequenceHorizon   ConsequenceHorizon  `json:"consequence_horizon"`
	ResponsibilityScope  ResponsibilityScope `json:"responsibility_scope"`
	OutcomeClasses       []OutcomeClass      `json:"outcome_classes"`
	ExplicitUnknownZone  []UnknownSource     `json:"explicit_unknown_zone"`
}

// SchemaVersion is the current DecisionState/ControlPlan/OutputPlan schema tag.
const SchemaVersion = "1"

func hasUnknownSource(zone []UnknownSource, src UnknownSource) bool {
	for _, z := range zone {
		if z == src {
			return true
		}
	}
	return false
}

// Validate enforces every DecisionState invariant. Any violation is fatal:
// the request fails closed.
func (d DecisionState) Validate() error {
	if d.DecisionID == "" || d.TraceID == "" {
		return fmt.Errorf("decision_state: missing decision_id or trace_id")
	}
	if err := d.ProximityState.Validate(); err != nil {
		return fmt.Errorf("decision_state: %w", err)
	}
	if d.ProximityState == ProximityUnknown && !hasUnknownSource(d.ExplicitUnknownZone, UnknownSourceProximity) {
		return fmt.Errorf("decision_state: PROXIMITY_UNKNOWN without matching unknown source")
	}
	if len(d.RiskDomains) == 0 {
		return fmt.Errorf("decision_state: risk_domains must be non-empty")
	}
	seen := make(map[RiskDomain]bool, len(d.RiskDomains))
	for _, rd := range d.RiskDomains {
		if err := rd.Domain.Validate(); err != nil {
			return fmt.Errorf("decision_state: %w", err)
		}
		if err := rd.Confidence.Validate(); err != nil {
			return fmt.Errorf("decision_state: %w", err)
		}
		if seen[rd.Domain] {
			return fmt.Errorf("decision_state: duplicate risk domain %q", rd.Domain)
		}
		seen[rd.Domain] = true
		if rd.Domain == DomainUnknown && !hasUnknownSource(d.ExplicitUnknownZone, UnknownSourceDomain) {
			return fmt.Errorf("decision_state: DOMAIN_UNKNOWN without matching unknown source")
		}
	}
	if err := d.ReversibilityClass.Validate(); err != nil {
		return fmt.Errorf("decision_state: %w", err)
	}
	if d.ReversibilityClass == ReversibilityIrreversible && !hasUnknownSource(d.ExplicitUnknownZone, UnknownSourceReversibility) {
		return fmt.Errorf("decision_state: IRREVERSIBLE requires the reversibility source")
	}
	if err := d.ConsequenceHorizon.Validate(); err != nil {
		return fmt.Errorf("decision_state: %w", err)
	}
	if d.ConsequenceHorizon == HorizonLong && !hasUnknownSource(d.ExplicitUnknownZone, UnknownSourceHorizon) {
		return fmt.Errorf("decision_state: LONG_HORIZON requires the horizon source")
	}
	if err := d.ResponsibilityScope.Validate(); err != nil {
		return fmt.Errorf("decision_state: %w", err)
	}
	if d.ResponsibilityScope == ResponsibilitySystemicPublic && d.ConsequenceHorizon == HorizonShort &&
		!hasUnknownSource(d.ExplicitUnknownZone, UnknownSourceHorizon) {
		return fmt.Errorf("decision_state: SYSTEMIC_PUBLIC with SHORT_HORIZON requires the horizon source")
	}
	if len(d.OutcomeClasses) == 0 {
		return fmt.Errorf("decision_state: outcome_classes must be non-empty")
	}
	for _, oc := range d.OutcomeClasses {
		if err := oc.Validate(); err != nil {
			return fmt.Errorf("decision_state: %w", err)
		}
	}
	for _, u := range d.ExplicitUnknownZone {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("decision_state: %w", err)
		}
	}
	return nil
}

// SortedRiskDomains returns risk domains ordered for deterministic iteration
// (the assembler guarantees uniqueness; this guarantees stable ordering).
func (d DecisionState) SortedRiskDomains() []RiskDomainRating {
	out := make([]RiskDomainRating, len(d.RiskDomains))
	copy(out, d.RiskDomains)
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// HasCriticalDomainAtOrBelow reports whether any risk domain is in CriticalDomains at
// or below the given confidence ceiling (inclusive), e.g. "MEDIUM or LOW".
func (d DecisionState) HasCriticalDomainAtOrBelow(ceiling Confidence) bool {
	rank := map[Confidence]int{ConfidenceUnknown: 0, ConfidenceLow: 1, ConfidenceMedium: 2, ConfidenceHigh: 3}
	for _, rd := range d.RiskDomains {
		if CriticalDomains[rd.Domain] && rank[rd.Confidence] <= rank[ceiling] {
			return true
		}
	}
	return false
}
