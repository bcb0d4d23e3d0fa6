package types

// Plan is the deep-think router's output.
type Plan struct {
	EffectivePassCount int               `json:"effective_pass_count"`
	PassPlan           []PassType        `json:"pass_plan"`
	PerPassBudget      []int             `json:"per_pass_budget"`
	PerPassTimeoutMs   []int             `json:"per_pass_timeout_ms"`
	StopReason         *StopReason       `json:"stop_reason,omitempty"`
	Policy             map[string]string `json:"policy"`
}

// Blocked reports whether the router already decided to stop before any
// pass runs (pass_count=0 with a stop reason set).
func (p Plan) Blocked() bool {
	return p.StopReason != nil && p.EffectivePassCount == 0
}

// PassPlanTemplates are the fixed pass sequences keyed by effective pass
// count.
var PassPlanTemplates = map[int][]PassType{
	2: {PassRefine, PassStressTest},
	3: {PassRefine, PassCounterarg, PassStressTest},
	4: {PassRefine, PassCounterarg, PassAlternatives, PassStressTest},
	5: {PassRefine, PassCounterarg, PassStressTest, PassAlternatives, PassRegret},
}

// PassWeights are the fixed per-pass-type resource weights used by the
// router's floor+remainder allocation.
var PassWeights = map[PassType]int{
	PassRefine:       1,
	PassCounterarg:   2,
	PassStressTest:   2,
	PassAlternatives: 3,
	PassRegret:       3,
}
