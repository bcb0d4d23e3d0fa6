package types

// EngineContext is the per-request scheduling record the deep-think engine
// threads through every pass. NowMs is the injected clock: passes and the
// engine must never read a global clock. No text fields live here.
type EngineContext struct {
	BudgetUnitsRemaining int
	BreakerTripped       bool
	AbuseBlocked         bool
	NowMs                func() int64
}

// ElapsedMs returns ms since startMs using the injected clock.
func (c EngineContext) ElapsedMs(startMs int64) int64 {
	return c.NowMs() - startMs
}
