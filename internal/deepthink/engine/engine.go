// Package engine drives a deep-think Plan: a strictly sequential loop over
// pass_plan that enforces the fixed stop-reason priority, the two-strikes
// validator rule, and budget/timeout accounting. It never generates text —
// it only invokes rule-based passes and applies their DecisionDeltas.
package engine

import (
	"fmt"

	"github.com/lumenforge/respondctl/internal/deepthink/passes"
	"github.com/lumenforge/respondctl/internal/patch"
	"github.com/lumenforge/respondctl/internal/types"
)

const maxPassesEver = 5

// Result is everything the engine produces for one run. Given identical
// inputs, every field is bit-identical across runs.
type Result struct {
	FinalState        patch.Decision
	StopReason        types.StopReason
	ValidatorFailures int
	Downgraded        bool
	ExecutedPasses    int
	PassSummaries     []types.PassSummary
	DeltaShapes       [][]types.OpMeta
}

// Run executes plan.PassPlan in order starting from initial, using ectx for
// budget/timeout/gate accounting. ds is the request's DecisionState, threaded
// read-only into every pass; startMs anchors elapsed-time accounting against
// the injected clock.
func Run(initial patch.Decision, ds types.DecisionState, plan types.Plan, ectx types.EngineContext, startMs int64) Result {
	if plan.Blocked() {
		return Result{FinalState: initial, StopReason: *plan.StopReason, Downgraded: true}
	}

	current := initial
	strikes := 0
	executed := 0
	var summaries []types.PassSummary
	var shapes [][]types.OpMeta
	totalTimeoutMs := sumInts(plan.PerPassTimeoutMs)

	for _, passType := range plan.PassPlan {
		if stop, ok := evaluateStopConditions(ectx, strikes, executed, totalTimeoutMs, startMs); ok {
			return Result{
				FinalState:        initial,
				StopReason:        stop,
				ValidatorFailures: strikes,
				Downgraded:        true,
				ExecutedPasses:    executed,
				PassSummaries:     summaries,
				DeltaShapes:       shapes,
			}
		}

		delta, cost, duration, err := invokePass(passType, ds, current, ectx)
		if err != nil {
			summaries = append(summaries, types.PassSummary{Type: passType, Executed: false, Strikes: strikes})
			return Result{
				FinalState:        initial,
				StopReason:        types.StopInternalInconsistency,
				ValidatorFailures: strikes,
				Downgraded:        true,
				ExecutedPasses:    executed,
				PassSummaries:     summaries,
				DeltaShapes:       shapes,
			}
		}

		ectx.BudgetUnitsRemaining -= cost
		shapes = append(shapes, types.DeltaStructure(delta))

		result := patch.Validate(delta, strikes)
		if !result.OK {
			strikes = result.TotalStrikes
			summaries = append(summaries, types.PassSummary{Type: passType, Executed: true, CostUnits: cost, DurationMs: duration, Strikes: strikes})
			if result.Downgrade {
				return Result{
					FinalState:        initial,
					StopReason:        types.StopValidationFail,
					ValidatorFailures: strikes,
					Downgraded:        true,
					ExecutedPasses:    executed + 1,
					PassSummaries:     summaries,
					DeltaShapes:       shapes,
				}
			}
			executed++
			continue
		}

		next, applyErr := patch.Apply(current, delta)
		if applyErr != nil {
			strikes++
			summaries = append(summaries, types.PassSummary{Type: passType, Executed: true, CostUnits: cost, DurationMs: duration, Strikes: strikes})
			if strikes >= 2 {
				return Result{
					FinalState:        initial,
					StopReason:        types.StopValidationFail,
					ValidatorFailures: strikes,
					Downgraded:        true,
					ExecutedPasses:    executed + 1,
					PassSummaries:     summaries,
					DeltaShapes:       shapes,
				}
			}
			executed++
			continue
		}

		current = next
		executed++
		summaries = append(summaries, types.PassSummary{Type: passType, Executed: true, CostUnits: cost, DurationMs: duration, Strikes: strikes})
	}

	return Result{
		FinalState:        current,
		StopReason:        types.StopSuccessCompleted,
		ValidatorFailures: strikes,
		Downgraded:        false,
		ExecutedPasses:    executed,
		PassSummaries:     summaries,
		DeltaShapes:       shapes,
	}
}

// invokePass looks up and calls the pass runner, converting any panic into
// an INTERNAL_INCONSISTENCY error.
func invokePass(passType types.PassType, ds types.DecisionState, current patch.Decision, ectx types.EngineContext) (delta types.DecisionDelta, cost int, duration int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: pass %s panicked: %v", passType, r)
		}
	}()
	runner, ok := passes.Registry[passType]
	if !ok {
		return types.DecisionDelta{}, 0, 0, fmt.Errorf("engine: no runner registered for pass %s", passType)
	}
	delta, cost, duration, err = runner(ds, current, ectx)
	return
}

// evaluateStopConditions checks all triggered stop conditions and returns
// the highest-priority one.
func evaluateStopConditions(ectx types.EngineContext, strikes, executed, totalTimeoutMs int, startMs int64) (types.StopReason, bool) {
	candidates := map[types.StopReason]bool{
		types.StopAbuse:            ectx.AbuseBlocked,
		types.StopBreakerTripped:   ectx.BreakerTripped,
		types.StopBudgetExhausted:  ectx.BudgetUnitsRemaining <= 0,
		types.StopTimeout:          ectx.NowMs != nil && ectx.ElapsedMs(startMs) >= int64(totalTimeoutMs),
		types.StopValidationFail:   strikes >= 2,
		types.StopPassLimitReached: executed >= maxPassesEver,
	}
	return types.HighestPriorityStop(candidates)
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
