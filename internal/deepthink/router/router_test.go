package router

import (
	"testing"

	"github.com/lumenforge/respondctl/internal/types"
)

func deepInput() Input {
	return Input{
		EntitlementTier:  types.TierMax,
		DeepthinkEnabled: true,
		RequestedMode:    "deep",
		TotalBudgetUnits: 500,
		TotalTimeoutMs:   2000,
		MinPassTimeoutMs: 250,
		MinBudgetPerPass: 50,
	}
}

func TestRouteFreeTierBlocksWithEntitlementCap(t *testing.T) {
	in := deepInput()
	in.EntitlementTier = types.TierFree
	plan := Route(in)
	if !plan.Blocked() || *plan.StopReason != types.StopEntitlementCap {
		t.Fatalf("expected ENTITLEMENT_CAP block, got %+v", plan)
	}
	if plan.EffectivePassCount != 0 || len(plan.PassPlan) != 0 {
		t.Fatalf("blocked plan must be empty, got %+v", plan)
	}
}

func TestRouteHardBlocks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   types.StopReason
	}{
		{"feature disabled", func(in *Input) { in.DeepthinkEnabled = false }, types.StopEntitlementCap},
		{"abuse blocked", func(in *Input) { in.AbuseBlocked = true }, types.StopAbuse},
		{"breaker tripped", func(in *Input) { in.BreakerTripped = true }, types.StopBreakerTripped},
		{"non-deep mode", func(in *Input) { in.RequestedMode = "standard" }, types.StopEntitlementCap},
		{"timeout below two pass floors", func(in *Input) { in.TotalTimeoutMs = 499 }, types.StopBudgetExhausted},
		{"zero budget", func(in *Input) { in.TotalBudgetUnits = 0 }, types.StopBudgetExhausted},
		{"budget supports under two passes", func(in *Input) { in.TotalBudgetUnits = 60 }, types.StopBudgetExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := deepInput()
			tt.mutate(&in)
			plan := Route(in)
			if !plan.Blocked() || *plan.StopReason != tt.want {
				t.Fatalf("expected %s block, got %+v", tt.want, plan)
			}
		})
	}
}

func TestRouteTierCaps(t *testing.T) {
	in := deepInput()
	in.TotalTimeoutMs = 10000
	in.TotalBudgetUnits = 10000

	in.EntitlementTier = types.TierPro
	if plan := Route(in); plan.EffectivePassCount != 3 {
		t.Fatalf("PRO should cap at 3, got %d", plan.EffectivePassCount)
	}
	in.EntitlementTier = types.TierMax
	if plan := Route(in); plan.EffectivePassCount != 5 {
		t.Fatalf("MAX should cap at 5, got %d", plan.EffectivePassCount)
	}
}

func TestRoutePassPlanTemplates(t *testing.T) {
	tests := []struct {
		budget int
		want   []types.PassType
	}{
		{100, []types.PassType{types.PassRefine, types.PassStressTest}},
		{150, []types.PassType{types.PassRefine, types.PassCounterarg, types.PassStressTest}},
		{200, []types.PassType{types.PassRefine, types.PassCounterarg, types.PassAlternatives, types.PassStressTest}},
		{10000, []types.PassType{types.PassRefine, types.PassCounterarg, types.PassStressTest, types.PassAlternatives, types.PassRegret}},
	}
	for _, tt := range tests {
		in := deepInput()
		in.TotalTimeoutMs = 10000
		in.TotalBudgetUnits = tt.budget
		plan := Route(in)
		if len(plan.PassPlan) != len(tt.want) {
			t.Fatalf("budget %d: expected %d passes, got %+v", tt.budget, len(tt.want), plan.PassPlan)
		}
		for i, p := range tt.want {
			if plan.PassPlan[i] != p {
				t.Fatalf("budget %d: expected plan %v, got %v", tt.budget, tt.want, plan.PassPlan)
			}
		}
	}
}

func TestRouteAllocationSumsExactly(t *testing.T) {
	for _, budget := range []int{100, 137, 500, 999} {
		for _, timeout := range []int{500, 777, 2000, 5003} {
			in := deepInput()
			in.TotalBudgetUnits = budget
			in.TotalTimeoutMs = timeout
			plan := Route(in)
			if plan.Blocked() {
				continue
			}
			if got := sum(plan.PerPassBudget); got != budget {
				t.Fatalf("budget %d/timeout %d: per-pass budgets sum to %d", budget, timeout, got)
			}
			if got := sum(plan.PerPassTimeoutMs); got != timeout {
				t.Fatalf("budget %d/timeout %d: per-pass timeouts sum to %d", budget, timeout, got)
			}
			for i, b := range plan.PerPassBudget {
				if b < in.MinBudgetPerPass {
					t.Fatalf("pass %d budget %d below floor", i, b)
				}
			}
			for i, ms := range plan.PerPassTimeoutMs {
				if ms < in.MinPassTimeoutMs {
					t.Fatalf("pass %d timeout %d below floor", i, ms)
				}
			}
		}
	}
}

func TestRouteDeterministic(t *testing.T) {
	a := Route(deepInput())
	b := Route(deepInput())
	if a.EffectivePassCount != b.EffectivePassCount || len(a.PassPlan) != len(b.PassPlan) {
		t.Fatal("identical inputs must produce identical plans")
	}
	for i := range a.PerPassBudget {
		if a.PerPassBudget[i] != b.PerPassBudget[i] || a.PerPassTimeoutMs[i] != b.PerPassTimeoutMs[i] {
			t.Fatal("identical inputs must produce identical allocations")
		}
	}
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
