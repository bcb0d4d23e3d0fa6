package decisionstate

import (
	"testing"

	"github.com/lumenforge/respondctl/internal/types"
)

func TestAssembleRequiresIDs(t *testing.T) {
	if _, err := Assemble("", "t1", RawFeatures{Text: "hello"}); err == nil {
		t.Fatal("expected error for missing decision_id")
	}
}

func TestAssembleClassifiesImminentProximity(t *testing.T) {
	ds, err := Assemble("d1", "t1", RawFeatures{Text: "I'm about to click submit on this wire transfer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.ProximityState != "IMMINENT" {
		t.Fatalf("expected IMMINENT proximity, got %s", ds.ProximityState)
	}
}

func TestAssembleClassifiesMedicalDomain(t *testing.T) {
	ds, err := Assemble("d1", "t1", RawFeatures{Text: "what dosage of this medication is safe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, r := range ds.RiskDomains {
		if r.Domain == "MEDICAL_HEALTH" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MEDICAL_HEALTH domain, got %+v", ds.RiskDomains)
	}
}

func TestAssembleProximityNeverRegresses(t *testing.T) {
	high := types.ProximityHigh
	ds, err := Assemble("d1", "t1", RawFeatures{Text: "just curious what if", PriorProximity: &high})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.ProximityState != "HIGH" {
		t.Fatalf("expected proximity to hold at HIGH, got %s", ds.ProximityState)
	}
}

func TestAssembleIrreversibleRecordsUnknownSource(t *testing.T) {
	ds, err := Assemble("d1", "t1", RawFeatures{Text: "I want to permanently delete this account"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.ReversibilityClass != "IRREVERSIBLE" {
		t.Fatalf("expected IRREVERSIBLE, got %s", ds.ReversibilityClass)
	}
	found := false
	for _, s := range ds.ExplicitUnknownZone {
		if s == "REVERSIBILITY_UNKNOWN" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected REVERSIBILITY_UNKNOWN recorded in unknown zone")
	}
}
