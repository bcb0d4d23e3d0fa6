// Package decisionstate assembles the immutable stakes snapshot for one
// request: proximity, risk domains, reversibility, horizon, responsibility,
// and outcome classes, each derived by deterministic keyword/feature rules
// over closed domains. Proximity and responsibility take the first matching
// rule; risk domains and outcome classes collect every matching rule.
package decisionstate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lumenforge/respondctl/internal/types"
)

// RawFeatures is the input the caller derives from the incoming request
// before any classification runs. It carries only lowercase text and
// previously-known state — never raw user text persisted elsewhere.
type RawFeatures struct {
	Text            string
	PriorProximity  *types.ProximityState
	EntitlementTier types.EntitlementTier
}

var imminentMarkers = []string{"right now", "immediately", "about to", "sending now", "submitting now", "pressing enter", "about to click", "about to submit"}
var commitmentMarkers = []string{"i've decided", "going to do", "i will do", "planning to", "i'm going to", "locked in", "committed to"}
var validationMarkers = []string{"does this look right", "is this correct", "should i do this", "can you check", "is this a good idea"}
var exploratoryMarkers = []string{"what if", "just curious", "hypothetically", "thinking about", "considering", "wondering"}

// domainKeywords is the ordered classification table for risk_domains,
// sharing the closed domain set the STRESS_TEST pass classifies into so
// assembler and pass compose cleanly.
var domainKeywords = []struct {
	domain types.RiskDomain
	words  []string
}{
	{types.DomainSecurityPrivacy, []string{"password", "credential", "ssn", "social security", "private key", "leak", "breach", "pii"}},
	{types.DomainMedicalHealth, []string{"symptom", "diagnos", "medication", "dosage", "doctor", "pain", "treatment", "illness"}},
	{types.DomainLegalPolicy, []string{"lawsuit", "contract", "legal", "regulation", "compliance", "sue", "liability"}},
	{types.DomainFinanceTax, []string{"tax", "invest", "loan", "mortgage", "401k", "stock", "retirement", "budget"}},
	{types.DomainDeployDevOps, []string{"deploy", "production", "kubernetes", "rollback", "migration", "infra", "ci/cd"}},
	{types.DomainCodeTech, []string{"code", "bug", "function", "compile", "stack trace", "api", "script", "error message"}},
	{types.DomainTravelLocal, []string{"flight", "visa", "itinerary", "travel", "passport", "hotel"}},
	{types.DomainPurchaseRecommendation, []string{"buy", "purchase", "which one should i get", "recommend a", "worth buying"}},
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// classifyProximity implements the proximity ladder: immediate execution
// markers beat commitment markers beat validation markers beat exploratory
// markers; proximity never regresses relative to prior known state within
// the same turn.
func classifyProximity(text string, prior *types.ProximityState) (types.ProximityState, bool, *types.UnknownSource) {
	var state types.ProximityState
	uncertain := false
	switch {
	case containsAny(text, imminentMarkers):
		state = types.ProximityImminent
	case containsAny(text, commitmentMarkers):
		state = types.ProximityHigh
	case containsAny(text, validationMarkers):
		state = types.ProximityMedium
	case containsAny(text, exploratoryMarkers):
		state, uncertain = types.ProximityLow, true
	default:
		state, uncertain = types.ProximityVeryLow, true
	}

	if prior != nil && prior.Rank() > state.Rank() {
		state = *prior
	}

	if state == types.ProximityUnknown {
		src := types.UnknownSourceProximity
		return state, true, &src
	}
	return state, uncertain, nil
}

func classifyRiskDomains(text string) ([]types.RiskDomainRating, *types.UnknownSource) {
	var ratings []types.RiskDomainRating
	for _, rule := range domainKeywords {
		hits := 0
		for _, w := range rule.words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		// A single keyword hit is suggestive, not conclusive.
		confidence := types.ConfidenceMedium
		if hits >= 2 {
			confidence = types.ConfidenceHigh
		}
		ratings = append(ratings, types.RiskDomainRating{Domain: rule.domain, Confidence: confidence})
	}
	if len(ratings) == 0 {
		ratings = append(ratings, types.RiskDomainRating{Domain: types.DomainGeneric, Confidence: types.ConfidenceMedium})
	}
	sort.Slice(ratings, func(i, j int) bool { return ratings[i].Domain < ratings[j].Domain })
	return dedupeDomains(ratings), nil
}

func dedupeDomains(ratings []types.RiskDomainRating) []types.RiskDomainRating {
	seen := make(map[types.RiskDomain]bool)
	var out []types.RiskDomainRating
	for _, r := range ratings {
		if seen[r.Domain] {
			continue
		}
		seen[r.Domain] = true
		out = append(out, r)
	}
	return out
}

var irreversibleMarkers = []string{"delete", "permanently", "can't undo", "cannot undo", "wire the money", "send the payment", "sign the contract", "submit the application"}
var longHorizonMarkers = []string{"career", "years from now", "long-term", "retirement", "mortgage", "marriage", "permanent record"}
var systemicMarkers = []string{"everyone", "the whole team", "the company", "all users", "the public", "our customers"}
var thirdPartyMarkers = []string{"my friend", "my coworker", "my partner", "someone else", "another person"}

func classifyReversibility(text string) (types.ReversibilityClass, *types.UnknownSource) {
	if containsAny(text, irreversibleMarkers) {
		src := types.UnknownSourceReversibility
		return types.ReversibilityIrreversible, &src
	}
	return types.ReversibilityReversible, nil
}

func classifyHorizon(text string) (types.ConsequenceHorizon, *types.UnknownSource) {
	if containsAny(text, longHorizonMarkers) {
		src := types.UnknownSourceHorizon
		return types.HorizonLong, &src
	}
	return types.HorizonShort, nil
}

func classifyResponsibility(text string) types.ResponsibilityScope {
	switch {
	case containsAny(text, systemicMarkers):
		return types.ResponsibilitySystemicPublic
	case containsAny(text, thirdPartyMarkers):
		return types.ResponsibilityThirdParty
	default:
		return types.ResponsibilitySelf
	}
}

var outcomeKeywords = []struct {
	class types.OutcomeClass
	words []string
}{
	{types.OutcomeHarm, []string{"hurt", "harm", "danger", "risk of injury"}},
	{types.OutcomeFinancialLoss, []string{"lose money", "cost me", "financial loss", "debt"}},
	{types.OutcomeLegalExposure, []string{"lawsuit", "liable", "illegal", "violation"}},
	{types.OutcomeHealthImpact, []string{"health", "medical", "symptom", "injury"}},
	{types.OutcomeReputational, []string{"reputation", "embarrass", "public image"}},
}

func classifyOutcomes(text string) []types.OutcomeClass {
	var out []types.OutcomeClass
	for _, rule := range outcomeKeywords {
		if containsAny(text, rule.words) {
			out = append(out, rule.class)
		}
	}
	if len(out) == 0 {
		out = append(out, types.OutcomeBenefit)
	}
	return out
}

// Assemble builds a validated DecisionState or returns an
// INTERNAL_INCONSISTENCY-flavored error.
func Assemble(decisionID, traceID string, in RawFeatures) (types.DecisionState, error) {
	if decisionID == "" || traceID == "" {
		return types.DecisionState{}, fmt.Errorf("decisionstate: INTERNAL_INCONSISTENCY: missing decision_id or trace_id")
	}
	text := strings.ToLower(in.Text)

	proximity, uncertain, proxUnknown := classifyProximity(text, in.PriorProximity)
	domains, domainUnknown := classifyRiskDomains(text)
	reversibility, reversibilityUnknown := classifyReversibility(text)
	horizon, horizonUnknown := classifyHorizon(text)
	responsibility := classifyResponsibility(text)
	outcomes := classifyOutcomes(text)

	var unknownZone []types.UnknownSource
	for _, src := range []*types.UnknownSource{proxUnknown, domainUnknown, reversibilityUnknown, horizonUnknown} {
		if src != nil {
			unknownZone = append(unknownZone, *src)
		}
	}
	if responsibility == types.ResponsibilitySystemicPublic && horizon == types.HorizonShort {
		unknownZone = append(unknownZone, types.UnknownSourceHorizon)
	}

	ds := types.DecisionState{
		DecisionID:           decisionID,
		TraceID:              traceID,
		PhaseMarker:          "assembled",
		SchemaVersion:        types.SchemaVersion,
		ProximityState:       proximity,
		ProximityUncertainty: uncertain,
		RiskDomains:          domains,
		ReversibilityClass:   reversibility,
		ConsequenceHorizon:   horizon,
		ResponsibilityScope:  responsibility,
		OutcomeClasses:       outcomes,
		ExplicitUnknownZone:  unknownZone,
	}
	if err := ds.Validate(); err != nil {
		return types.DecisionState{}, fmt.Errorf("decisionstate: INTERNAL_INCONSISTENCY: %w", err)
	}
	return ds, nil
}
