package types

import (
	"fmt"
	"strings"
)

// PatchOp is a single allowlisted "set" operation produced by a pass.
type PatchOp struct {
	Op    string    `json:"op"`
	Path  PatchPath `json:"path"`
	Value any       `json:"value"`
}

// DecisionDelta is the ordered patch sequence a pass returns. It is produced
// per pass and discarded after application.
type DecisionDelta struct {
	Ops []PatchOp `json:"ops"`
}

// Bound declares the per-path type/enum/length constraints the validator and
// applier enforce.
type Bound struct {
	MaxChars     int
	MaxItems     int
	MaxItemChars int
	AllowedEnum  map[string]bool // nil means "free text within MaxChars"
}

// PathBounds is the fixed per-path type/enum/length bound table consulted by
// the validator and applier.
var PathBounds = map[PatchPath]Bound{
	PathDecisionAction:          {AllowedEnum: map[string]bool{"ANSWER": true, "ASK_CLARIFY": true, "FALLBACK": true}},
	PathDecisionAnswer:          {MaxChars: 1200},
	PathDecisionRationale:       {MaxChars: 600},
	PathDecisionClarifyQuestion: {MaxChars: 300},
	PathDecisionAlternatives:    {MaxItems: 3, MaxItemChars: 200},
}

// ValueMeta records only the type and size of a patched value — never its
// content. It is the only thing a delta contributes to the decision signature.
type ValueMeta struct {
	Type   string `json:"type"`
	Length int    `json:"length"`
}

// OpMeta is the structural shadow of one PatchOp used by telemetry.
type OpMeta struct {
	Op        string    `json:"op"`
	Path      string    `json:"path"`
	ValueMeta ValueMeta `json:"value_meta"`
}

// DeltaStructure reduces a delta to its content-free structural shape:
// per op, only {op, path, value_meta} where value_meta records type and
// length/count.
func DeltaStructure(d DecisionDelta) []OpMeta {
	out := make([]OpMeta, 0, len(d.Ops))
	for _, op := range d.Ops {
		out = append(out, OpMeta{Op: op.Op, Path: string(op.Path), ValueMeta: valueMeta(op.Value)})
	}
	return out
}

func valueMeta(v any) ValueMeta {
	switch vv := v.(type) {
	case string:
		return ValueMeta{Type: "string", Length: len(vv)}
	case []string:
		return ValueMeta{Type: "list", Length: len(vv)}
	case []any:
		return ValueMeta{Type: "list", Length: len(vv)}
	default:
		return ValueMeta{Type: fmt.Sprintf("%T", v), Length: 0}
	}
}

// ValidatePath reports whether path is both in the allowlist and free of any
// forbidden substring (defense in depth against a future allowlist typo).
func ValidatePath(path PatchPath) error {
	if !AllowedPatchPaths[path] {
		return fmt.Errorf("patch path %q is not in the allowlist", path)
	}
	lower := strings.ToLower(string(path))
	for _, bad := range ForbiddenPathSubstrings {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("patch path %q matches forbidden substring %q", path, bad)
		}
	}
	return nil
}
