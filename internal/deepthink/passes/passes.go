// Package passes implements the five deterministic, rule-based deep-think
// rewriters: COUNTERARG, STRESS_TEST, ALTERNATIVES, REGRET, REFINE. Each is a
// pure function of (pass type, DecisionState, current Decision content,
// EngineContext) returning a DecisionDelta plus a deterministic cost/duration
// estimate. No external calls, no randomness, no clock reads beyond the
// injected clock.
package passes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lumenforge/respondctl/internal/patch"
	"github.com/lumenforge/respondctl/internal/types"
)

// RunFunc is the pure pass-runner signature every registered pass implements.
type RunFunc func(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error)

// Registry is the tagged lookup table mapping a PassType to its pure
// function — no reflection, no dynamic loading.
var Registry = map[types.PassType]RunFunc{
	types.PassRefine:       runRefine,
	types.PassCounterarg:   runCounterarg,
	types.PassStressTest:   runStressTest,
	types.PassAlternatives: runAlternatives,
	types.PassRegret:       runRegret,
}

// forbiddenInClarify is the blacklist sanitized out of any generated clarify
// question. Matching is whole-word so "runtime" survives while "run" does not.
var forbiddenInClarify = []string{
	"upload", "attach", "run", "command", "terminal", "log", "credentials",
	"token", "api key", "screenshot", "execute", "shell", "script", "install",
}

var forbiddenClarifyPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenInClarify, "|") + `)\b`)

const genericSafeQuestion = "Could you share a bit more detail about what you're trying to accomplish so I can help safely?"

func sanitizeClarifyQuestion(q string) string {
	if forbiddenClarifyPattern.MatchString(q) {
		return genericSafeQuestion
	}
	return q
}

func clampChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// costAndDuration is the deterministic cost/duration model: a function of
// input sizes and patch op count, capped per pass at 40 units / 120ms.
func costAndDuration(current patch.Decision, delta types.DecisionDelta) (int, int64) {
	size := len(current.Answer) + len(current.Rationale) + len(current.ClarifyQuestion)
	for _, a := range current.Alternatives {
		size += len(a)
	}
	cost := 5 + len(delta.Ops)*3 + size/200
	if cost > 40 {
		cost = 40
	}
	duration := int64(10 + len(delta.Ops)*15 + size/10)
	if duration > 120 {
		duration = 120
	}
	return cost, duration
}

func setOp(path types.PatchPath, value any) types.PatchOp {
	return types.PatchOp{Op: "set", Path: path, Value: value}
}

// --- REFINE -----------------------------------------------------------

// runRefine mildly tightens rationale/answer; it never changes the action
// and never originates content, so an empty answer is left untouched.
func runRefine(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error) {
	var ops []types.PatchOp
	rationale := strings.TrimSpace(current.Rationale)
	if rationale != "" && !strings.HasSuffix(rationale, ".") {
		ops = append(ops, setOp(types.PathDecisionRationale, clampChars(rationale+".", 600)))
	}
	if current.Answer != "" {
		tightened := strings.TrimSpace(current.Answer)
		if tightened != current.Answer {
			ops = append(ops, setOp(types.PathDecisionAnswer, clampChars(tightened, 1200)))
		}
	}
	delta := types.DecisionDelta{Ops: ops}
	cost, dur := costAndDuration(current, delta)
	return delta, cost, dur, nil
}

// --- COUNTERARG ---------------------------------------------------------

var absoluteLanguageMarkers = []string{
	"always", "never", "guaranteed", "100%", "definitely", "certainly will",
	"impossible to fail", "no risk at all",
}

// runCounterarg detects overconfident absolute language in the current
// answer. If found, it either tightens the rationale with a bounded caveat,
// or — when critical inputs are missing (a critical domain below HIGH
// confidence, or an unresolved unknown zone) — converts ANSWER into
// ASK_CLARIFY with a generic, safe clarification question.
func runCounterarg(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error) {
	lower := strings.ToLower(current.Answer)
	overconfident := false
	for _, m := range absoluteLanguageMarkers {
		if strings.Contains(lower, m) {
			overconfident = true
			break
		}
	}

	var ops []types.PatchOp
	if overconfident {
		missingCritical := ds.HasCriticalDomainAtOrBelow(types.ConfidenceMedium) || len(ds.ExplicitUnknownZone) > 0
		if missingCritical {
			ops = append(ops,
				setOp(types.PathDecisionAction, "ASK_CLARIFY"),
				setOp(types.PathDecisionClarifyQuestion, sanitizeClarifyQuestion(genericSafeQuestion)),
			)
		} else {
			caveat := "This isn't guaranteed in every case; confirm it fits your specific situation."
			rationale := strings.TrimSpace(current.Rationale)
			if rationale != "" {
				rationale += " " + caveat
			} else {
				rationale = caveat
			}
			ops = append(ops, setOp(types.PathDecisionRationale, clampChars(rationale, 600)))
		}
	}

	delta := types.DecisionDelta{Ops: ops}
	cost, dur := costAndDuration(current, delta)
	return delta, cost, dur, nil
}

// --- STRESS_TEST ----------------------------------------------------------

// stressDomainInputs is the fixed table of critical input classes per
// domain, consulted by STRESS_TEST. Order is preserved for deterministic
// humanized-name rendering.
var stressDomainInputs = map[types.RiskDomain][]string{
	types.DomainGeneric:                {"the specific goal", "any constraints"},
	types.DomainCodeTech:               {"the programming language", "the runtime or environment", "the exact error message"},
	types.DomainDeployDevOps:           {"the target environment", "the rollback plan", "the change window"},
	types.DomainSecurityPrivacy:        {"the data sensitivity level", "who has access", "applicable compliance requirements"},
	types.DomainLegalPolicy:            {"the jurisdiction", "the contractual context", "whether counsel has reviewed this"},
	types.DomainMedicalHealth:          {"the relevant medical history", "whether a clinician has been consulted"},
	types.DomainFinanceTax:             {"the relevant tax jurisdiction", "the time horizon", "risk tolerance"},
	types.DomainTravelLocal:            {"the destination", "the travel dates", "visa or entry requirements"},
	types.DomainPurchaseRecommendation: {"the budget", "the intended use case", "any brand or feature preferences"},
}

// topDomain returns the DecisionState's most critical/first risk domain in
// the fixed ordered-keyword-domain precedence, first match wins.
func topDomain(ds types.DecisionState) types.RiskDomainRating {
	precedence := []types.RiskDomain{
		types.DomainSecurityPrivacy, types.DomainMedicalHealth, types.DomainLegalPolicy,
		types.DomainFinanceTax, types.DomainDeployDevOps, types.DomainCodeTech,
		types.DomainTravelLocal, types.DomainPurchaseRecommendation, types.DomainGeneric,
	}
	byDomain := make(map[types.RiskDomain]types.RiskDomainRating, len(ds.RiskDomains))
	for _, r := range ds.RiskDomains {
		byDomain[r.Domain] = r
	}
	for _, d := range precedence {
		if r, ok := byDomain[d]; ok {
			return r
		}
	}
	if len(ds.RiskDomains) > 0 {
		return ds.RiskDomains[0]
	}
	return types.RiskDomainRating{Domain: types.DomainGeneric, Confidence: types.ConfidenceMedium}
}

// runStressTest classifies the request into its top domain and, when that
// domain's confidence indicates a missing critical input, forces ASK_CLARIFY
// with a deterministic, multi-item clarifying question built from humanized
// input-class names, capped at three items.
func runStressTest(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error) {
	rating := topDomain(ds)
	missing := rating.Confidence != types.ConfidenceHigh

	var ops []types.PatchOp
	if missing {
		classes := stressDomainInputs[rating.Domain]
		if len(classes) > 3 {
			classes = classes[:3]
		}
		question := fmt.Sprintf("Before I answer, could you tell me %s?", humanizeList(classes))
		ops = append(ops,
			setOp(types.PathDecisionAction, "ASK_CLARIFY"),
			setOp(types.PathDecisionClarifyQuestion, clampChars(sanitizeClarifyQuestion(question), 300)),
		)
	}

	delta := types.DecisionDelta{Ops: ops}
	cost, dur := costAndDuration(current, delta)
	return delta, cost, dur, nil
}

func humanizeList(items []string) string {
	switch len(items) {
	case 0:
		return "a bit more about the situation"
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// --- ALTERNATIVES -----------------------------------------------------

type alternativeCandidate struct {
	name    string
	action  string
	risk    int
	clarity int
	cost    int
}

// candidateTieBreak derives a deterministic SHA-256-prefix tie-break for
// stable sorting among equally-scored candidates.
func candidateTieBreak(decisionID, name string) string {
	sum := sha256.Sum256([]byte(decisionID + "|" + name))
	return hex.EncodeToString(sum[:])[:8]
}

// runAlternatives generates the fixed candidate triple, scores and sorts
// them by (risk ASC, clarity DESC, cost ASC, tie_break ASC), and rewrites the
// decision to the top candidate. It optionally writes a bounded alternatives
// list of the remaining candidates.
func runAlternatives(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error) {
	candidates := []alternativeCandidate{
		{name: "stay-the-course-tightened", action: "ANSWER", risk: riskScore(ds), clarity: 3, cost: 1},
		{name: "clarify-first", action: "ASK_CLARIFY", risk: riskScore(ds) - 1, clarity: 2, cost: 2},
		{name: "fallback-safe", action: "FALLBACK", risk: 0, clarity: 1, cost: 3},
	}
	for i := range candidates {
		if candidates[i].risk < 0 {
			candidates[i].risk = 0
		}
	}

	tieBreaks := make(map[string]string, len(candidates))
	for _, c := range candidates {
		tieBreaks[c.name] = candidateTieBreak(ds.DecisionID, c.name)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.risk != b.risk {
			return a.risk < b.risk
		}
		if a.clarity != b.clarity {
			return a.clarity > b.clarity
		}
		if a.cost != b.cost {
			return a.cost < b.cost
		}
		return tieBreaks[a.name] < tieBreaks[b.name]
	})

	top := candidates[0]
	ops := []types.PatchOp{setOp(types.PathDecisionAction, top.action)}
	if top.action == "ASK_CLARIFY" {
		ops = append(ops, setOp(types.PathDecisionClarifyQuestion, sanitizeClarifyQuestion(genericSafeQuestion)))
	}

	var altText []string
	for _, c := range candidates[1:] {
		altText = append(altText, clampChars(fmt.Sprintf("%s (risk=%d, clarity=%d, cost=%d)", c.name, c.risk, c.clarity, c.cost), 200))
	}
	if len(altText) > 0 {
		if len(altText) > 3 {
			altText = altText[:3]
		}
		ops = append(ops, setOp(types.PathDecisionAlternatives, altText))
	}

	delta := types.DecisionDelta{Ops: ops}
	cost, dur := costAndDuration(current, delta)
	return delta, cost, dur, nil
}

// riskScore derives a small deterministic integer risk score from the
// decision state, used only to order ALTERNATIVES candidates.
func riskScore(ds types.DecisionState) int {
	score := 1
	if ds.ReversibilityClass == types.ReversibilityIrreversible {
		score += 2
	}
	if ds.HasCriticalDomainAtOrBelow(types.ConfidenceMedium) {
		score += 2
	}
	if ds.ResponsibilityScope == types.ResponsibilitySystemicPublic {
		score++
	}
	return score
}

// --- REGRET -------------------------------------------------------------

// RegretModelVersion tags the scorer's rule set.
const RegretModelVersion = "regret-v1"

const (
	weightSafetyRisk = 0.40
	weightMisinfo    = 0.30
	weightConfusion  = 0.20
	weightUserCost   = 0.10

	thresholdSafetyHard   = 70.0
	thresholdForceClarify = 60.0
)

// regretInputs derives the four deterministic 0-100 sub-scores from the
// decision state; no randomness, no model scoring.
func regretInputs(ds types.DecisionState) (safetyRisk, misinfoRisk, confusion, userCost float64) {
	if ds.HasCriticalDomainAtOrBelow(types.ConfidenceMedium) {
		safetyRisk += 50
	}
	if ds.ReversibilityClass == types.ReversibilityIrreversible {
		safetyRisk += 30
	}
	if ds.ProximityState == types.ProximityImminent {
		safetyRisk += 20
	}
	if safetyRisk > 100 {
		safetyRisk = 100
	}

	if len(ds.ExplicitUnknownZone) > 0 {
		misinfoRisk += 40
	}
	if ds.ProximityUncertainty {
		misinfoRisk += 20
	}
	if misinfoRisk > 100 {
		misinfoRisk = 100
	}

	if ds.ProximityUncertainty {
		confusion += 30
	}
	if len(ds.RiskDomains) > 1 {
		confusion += 20
	}
	if confusion > 100 {
		confusion = 100
	}

	if ds.ConsequenceHorizon == types.HorizonLong {
		userCost += 30
	}
	if ds.ResponsibilityScope == types.ResponsibilityThirdParty || ds.ResponsibilityScope == types.ResponsibilitySystemicPublic {
		userCost += 30
	}
	if userCost > 100 {
		userCost = 100
	}
	return
}

func totalRegret(safetyRisk, misinfoRisk, confusion, userCost float64) float64 {
	return weightSafetyRisk*safetyRisk + weightMisinfo*misinfoRisk + weightConfusion*confusion + weightUserCost*userCost
}

// runRegret scores the current decision with explicit weights and
// thresholds. safety_risk >= 70 forces FALLBACK with a safety rationale;
// otherwise total regret >= 60 forces ASK_CLARIFY; otherwise it tightens the
// rationale only.
func runRegret(ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (types.DecisionDelta, int, int64, error) {
	safetyRisk, misinfoRisk, confusion, userCost := regretInputs(ds)
	total := totalRegret(safetyRisk, misinfoRisk, confusion, userCost)

	var ops []types.PatchOp
	switch {
	case safetyRisk >= thresholdSafetyHard:
		ops = append(ops,
			setOp(types.PathDecisionAction, "FALLBACK"),
			setOp(types.PathDecisionRationale, clampChars("This falls into territory where a confident direct answer carries real safety risk; a cautious, bounded response is safer than a specific one.", 600)),
		)
	case total >= thresholdForceClarify:
		ops = append(ops,
			setOp(types.PathDecisionAction, "ASK_CLARIFY"),
			setOp(types.PathDecisionClarifyQuestion, sanitizeClarifyQuestion(genericSafeQuestion)),
		)
	default:
		rationale := strings.TrimSpace(current.Rationale)
		if rationale != "" {
			ops = append(ops, setOp(types.PathDecisionRationale, clampChars(rationale, 600)))
		}
	}

	delta := types.DecisionDelta{Ops: ops}
	cost, dur := costAndDuration(current, delta)
	return delta, cost, dur, nil
}
