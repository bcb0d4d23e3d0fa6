// Package router maps a request's entitlement tier, mode, budget, timeout,
// and gate signals to a deep-think Plan: how many passes run, which passes,
// and each pass's resource slice. Hard blocks fail closed before any
// allocation happens.
package router

import (
	"strconv"

	"github.com/lumenforge/respondctl/internal/types"
)

// Input carries the process-configured floor values so nothing here reads
// global config directly.
type Input struct {
	EntitlementTier  types.EntitlementTier
	DeepthinkEnabled bool
	RequestedMode    string
	BreakerTripped   bool
	AbuseBlocked     bool
	TotalBudgetUnits int
	TotalTimeoutMs   int
	MinPassTimeoutMs int
	MinBudgetPerPass int
}

// TierCaps maps entitlement tier to its deep-think pass-count cap.
var TierCaps = map[types.EntitlementTier]int{
	types.TierFree: 0,
	types.TierPro:  3,
	types.TierMax:  5,
}

const maxPassesEver = 5

func blocked(reason types.StopReason) types.Plan {
	r := reason
	return types.Plan{
		EffectivePassCount: 0,
		PassPlan:           nil,
		PerPassBudget:      nil,
		PerPassTimeoutMs:   nil,
		StopReason:         &r,
		Policy:             map[string]string{},
	}
}

// Route derives a Plan from in. Hard blocks fail closed with pass_count=0
// and a stop reason set; otherwise effective_pass_count is clamped to
// [2,5] and resources are allocated by fixed per-pass-type weights, floor
// then round-robin remainder.
func Route(in Input) types.Plan {
	if in.EntitlementTier == types.TierFree || !in.DeepthinkEnabled {
		return blocked(types.StopEntitlementCap)
	}
	if in.AbuseBlocked {
		return blocked(types.StopAbuse)
	}
	if in.BreakerTripped {
		return blocked(types.StopBreakerTripped)
	}
	if in.RequestedMode != "deep" {
		return blocked(types.StopEntitlementCap)
	}

	minPassTimeout := in.MinPassTimeoutMs
	if minPassTimeout <= 0 {
		minPassTimeout = 250
	}
	minBudgetPerPass := in.MinBudgetPerPass
	if minBudgetPerPass <= 0 {
		minBudgetPerPass = 50
	}

	if in.TotalTimeoutMs < 2*minPassTimeout || in.TotalBudgetUnits <= 0 {
		return blocked(types.StopBudgetExhausted)
	}

	tierCap := TierCaps[in.EntitlementTier]
	byTimeout := in.TotalTimeoutMs / minPassTimeout
	byBudget := in.TotalBudgetUnits / minBudgetPerPass

	effective := tierCap
	if byTimeout < effective {
		effective = byTimeout
	}
	if byBudget < effective {
		effective = byBudget
	}
	if effective > maxPassesEver {
		effective = maxPassesEver
	}
	if effective < 2 {
		return blocked(types.StopBudgetExhausted)
	}

	passPlan := types.PassPlanTemplates[effective]
	budgets := allocate(passPlan, in.TotalBudgetUnits, minBudgetPerPass)
	timeouts := allocate(passPlan, in.TotalTimeoutMs, minPassTimeout)

	return types.Plan{
		EffectivePassCount: effective,
		PassPlan:           passPlan,
		PerPassBudget:      budgets,
		PerPassTimeoutMs:   timeouts,
		StopReason:         nil,
		Policy: map[string]string{
			"tier_cap":   strconv.Itoa(tierCap),
			"by_timeout": strconv.Itoa(byTimeout),
			"by_budget":  strconv.Itoa(byBudget),
		},
	}
}

// allocate distributes total across passPlan by fixed PassWeights: each
// pass gets its floor share (weight/sum(weights) * total, never below
// floorMin), then the remainder is distributed one unit at a time in plan
// order (round-robin on index) until the sum matches total exactly.
func allocate(passPlan []types.PassType, total int, floorMin int) []int {
	n := len(passPlan)
	if n == 0 {
		return nil
	}
	weights := make([]int, n)
	sumWeights := 0
	for i, p := range passPlan {
		weights[i] = types.PassWeights[p]
		sumWeights += weights[i]
	}

	out := make([]int, n)
	allocated := 0
	for i := range passPlan {
		share := total * weights[i] / sumWeights
		if share < floorMin {
			share = floorMin
		}
		out[i] = share
		allocated += share
	}

	remainder := total - allocated
	i := 0
	for remainder > 0 {
		out[i%n]++
		remainder--
		i++
	}
	for remainder < 0 {
		idx := i % n
		if out[idx] > floorMin {
			out[idx]--
			remainder++
		}
		i++
		if i > n*total+n {
			break // defensive: should be unreachable given total>=2*floorMin was already checked upstream
		}
	}
	return out
}
