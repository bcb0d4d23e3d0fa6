package breaker

import (
	"testing"
	"time"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New(3, 60, 30)
	if b.Tripped() {
		t.Fatal("new breaker must start closed")
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.Tripped() {
		t.Fatal("breaker must stay closed below threshold")
	}
	b.RecordFailure()
	if !b.Tripped() {
		t.Fatal("breaker must trip at threshold")
	}
}

func TestBreakerSuccessClearsFailures(t *testing.T) {
	b := New(2, 60, 30)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.Tripped() {
		t.Fatal("success must clear the failure count")
	}
}

func TestBreakerReclosesAfterOpenDuration(t *testing.T) {
	b := New(1, 60, 0)
	b.RecordFailure()
	// openUntil is now+0s, so the breaker immediately re-closes.
	time.Sleep(time.Millisecond)
	if b.Tripped() {
		t.Fatal("breaker with zero open duration must re-close immediately")
	}
}
