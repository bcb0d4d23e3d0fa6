// Package patch applies and validates DecisionDeltas against a deep-copied
// Decision value (the mutable, pass-facing subset of decision fields: action,
// answer, rationale, clarify_question, alternatives). The allowlist is a
// closed map — any miss is a violation — and repeat violations terminate the
// run under the validator's two-strikes rule.
package patch

import (
	"fmt"
	"sort"

	"github.com/lumenforge/respondctl/internal/types"
)

// Decision is the mutable subset of decision content a pass may patch. It is
// deep-copied before every application so the original is never aliased.
type Decision struct {
	Action          string   `json:"action"`
	Answer          string   `json:"answer"`
	Rationale       string   `json:"rationale"`
	ClarifyQuestion string   `json:"clarify_question"`
	Alternatives    []string `json:"alternatives"`
}

// Clone returns a structurally independent deep copy of d.
func (d Decision) Clone() Decision {
	out := d
	if d.Alternatives != nil {
		out.Alternatives = append([]string(nil), d.Alternatives...)
	}
	return out
}

// ValidateResult is the outcome of validating one DecisionDelta against the
// current strike count.
type ValidateResult struct {
	OK           bool
	Errors       []string
	StrikesAdded int
	TotalStrikes int
	StopReason   *types.StopReason
	Downgrade    bool
}

// Validate checks every op in delta against the allowlist, forbidden
// substrings, and per-path bounds. It never mutates state; Apply does that
// separately once a delta is known-valid. Errors are sorted alphabetically
// before emission for determinism.
func Validate(delta types.DecisionDelta, currentStrikes int) ValidateResult {
	var errs []string
	for _, op := range delta.Ops {
		if op.Op != "set" {
			errs = append(errs, fmt.Sprintf("op %q is not \"set\"", op.Op))
			continue
		}
		if err := types.ValidatePath(op.Path); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if err := validateValue(op.Path, op.Value); err != nil {
			errs = append(errs, err.Error())
		}
	}
	sort.Strings(errs)

	if len(errs) == 0 {
		return ValidateResult{OK: true, TotalStrikes: currentStrikes}
	}

	strikes := currentStrikes + 1
	res := ValidateResult{OK: false, Errors: errs, StrikesAdded: 1, TotalStrikes: strikes}
	if strikes >= 2 {
		reason := types.StopValidationFail
		res.StopReason = &reason
		res.Downgrade = true
	}
	return res
}

func validateValue(path types.PatchPath, value any) error {
	bound, ok := types.PathBounds[path]
	if !ok {
		return fmt.Errorf("patch path %q has no declared bound", path)
	}
	switch path {
	case types.PathDecisionAlternatives:
		items, ok := toStringSlice(value)
		if !ok {
			return fmt.Errorf("value for %q must be a string list", path)
		}
		if len(items) > bound.MaxItems {
			return fmt.Errorf("value for %q exceeds max items %d", path, bound.MaxItems)
		}
		for _, it := range items {
			if len(it) > bound.MaxItemChars {
				return fmt.Errorf("value for %q has an item exceeding max chars %d", path, bound.MaxItemChars)
			}
		}
		return nil
	default:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("value for %q must be a string", path)
		}
		if bound.AllowedEnum != nil {
			if !bound.AllowedEnum[s] {
				return fmt.Errorf("value %q for %q is not in the allowed enum", s, path)
			}
			return nil
		}
		if bound.MaxChars > 0 && len(s) > bound.MaxChars {
			return fmt.Errorf("value for %q exceeds max chars %d", path, bound.MaxChars)
		}
		return nil
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Apply applies delta's ops, in ascending path order, to a deep copy of base.
// The original is untouched. Apply assumes delta has already passed Validate
// — it re-validates defensively and returns an error (counted as one
// validator strike by the caller) if any op is rejected; on error the
// original base is returned unmodified.
func Apply(base Decision, delta types.DecisionDelta) (Decision, error) {
	result := Validate(delta, 0)
	if !result.OK {
		return base, fmt.Errorf("patch: rejected delta: %v", result.Errors)
	}

	next := base.Clone()
	ops := append([]types.PatchOp(nil), delta.Ops...)
	sort.Slice(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })

	for _, op := range ops {
		switch op.Path {
		case types.PathDecisionAction:
			next.Action = op.Value.(string)
		case types.PathDecisionAnswer:
			next.Answer = op.Value.(string)
		case types.PathDecisionRationale:
			next.Rationale = op.Value.(string)
		case types.PathDecisionClarifyQuestion:
			next.ClarifyQuestion = op.Value.(string)
		case types.PathDecisionAlternatives:
			items, _ := toStringSlice(op.Value)
			next.Alternatives = items
		default:
			return base, fmt.Errorf("patch: unreachable path %q passed validation", op.Path)
		}
	}
	return next, nil
}
