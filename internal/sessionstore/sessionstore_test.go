package sessionstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions"), ttl)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.db.Close() })
	return s
}

// putNow writes synchronously, bypassing the async queue, so tests don't
// depend on the Run goroutine's scheduling.
func putNow(t *testing.T, s *Store, sessionID string, field Field, value any, expiry time.Time) {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.persist(writeRequest{key: sessionKey(sessionID, field), payload: data, expiry: expiry})
}

func TestFieldValidation(t *testing.T) {
	s := openTestStore(t, time.Hour)
	if err := s.Set("sess", Field("other"), Style{}); err == nil {
		t.Fatal("unknown field must be rejected")
	}
	var out Style
	if _, err := s.Get(context.Background(), "sess", Field("other"), &out); err == nil {
		t.Fatal("unknown field must be rejected on read")
	}
}

func TestRoundTripSummary(t *testing.T) {
	s := openTestStore(t, time.Hour)
	in := Summary{LastAction: "ANSWER", LastStopReason: "SUCCESS_COMPLETED", LastProximity: "HIGH", TurnCount: 3}
	putNow(t, s, "sess-1", FieldSummary, in, time.Now().UTC().Add(time.Hour))

	var out Summary
	ok, err := s.Get(context.Background(), "sess-1", FieldSummary, &out)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestGetMissingKeyReportsAbsent(t *testing.T) {
	s := openTestStore(t, time.Hour)
	var out Summary
	ok, err := s.Get(context.Background(), "nobody", FieldSummary, &out)
	if err != nil || ok {
		t.Fatalf("expected clean absence, got ok=%v err=%v", ok, err)
	}
}

func TestExpiredKeyLazilyDeleted(t *testing.T) {
	s := openTestStore(t, time.Hour)
	putNow(t, s, "sess-2", FieldStyle, Style{PreferredVerbosity: "TERSE"}, time.Now().UTC().Add(-time.Minute))

	var out Style
	ok, err := s.Get(context.Background(), "sess-2", FieldStyle, &out)
	if err != nil || ok {
		t.Fatalf("expired key must read as absent, got ok=%v err=%v", ok, err)
	}
	// The lazy delete means the raw key is gone too.
	if _, err := s.db.Get([]byte(sessionKey("sess-2", FieldStyle)), nil); err == nil {
		t.Fatal("expired key must be deleted on read")
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := openTestStore(t, time.Hour)
	putNow(t, s, "old", FieldSummary, Summary{TurnCount: 1}, time.Now().UTC().Add(-time.Minute))
	putNow(t, s, "live", FieldSummary, Summary{TurnCount: 2}, time.Now().UTC().Add(time.Hour))

	s.sweep()

	if _, err := s.db.Get([]byte(sessionKey("old", FieldSummary)), nil); err == nil {
		t.Fatal("expired record must be swept")
	}
	var out Summary
	ok, err := s.Get(context.Background(), "live", FieldSummary, &out)
	if err != nil || !ok || out.TurnCount != 2 {
		t.Fatalf("live record must survive sweep: ok=%v err=%v out=%+v", ok, err, out)
	}
}

func TestSetEnqueuesWithoutBlocking(t *testing.T) {
	s := openTestStore(t, time.Hour)
	if err := s.Set("sess-3", FieldHypotheses, Hypotheses{Items: []string{"needs runtime version"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case req := <-s.writeCh:
		if req.key != sessionKey("sess-3", FieldHypotheses) {
			t.Fatalf("unexpected queued key %q", req.key)
		}
	default:
		t.Fatal("expected a queued write")
	}
}
