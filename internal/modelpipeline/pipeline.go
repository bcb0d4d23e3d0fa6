// Package modelpipeline renders user-visible text from a final OutputPlan:
// it builds a bounded prompt envelope, makes a single timeout-bounded model
// call, strictly verifies the response, sanitizes it, and falls back to a
// deterministic template on any failure. It has no authority to change
// action or disclosures — those are already final by the time this package
// runs.
package modelpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenforge/respondctl/internal/modelclient"
	"github.com/lumenforge/respondctl/internal/types"
)

// Caller is the minimal transport surface the pipeline needs, satisfied by
// *modelclient.Client and trivially fakeable in tests.
type Caller interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// bannedEnvelopeTerms must never appear in a built envelope — internal
// identifiers the model is never shown.
var bannedEnvelopeTerms = []string{
	"decisionstate", "controlplan", "trace_id", "audit", "governance", "memory",
}

// RenderInput carries everything the pipeline needs beyond the OutputPlan
// itself: the bounded question/answer seed content a pass loop produced (if
// any), used only to build the envelope's task framing — never raw user
// text verbatim beyond what the caller chooses to include.
type RenderInput struct {
	OutputPlan  types.OutputPlan
	TaskSummary string // bounded, caller-supplied one-line task framing; never logged
}

// Render runs the full pipeline: validate, build envelope, call, parse,
// verify, sanitize; on any failure it renders the deterministic fallback.
func Render(ctx context.Context, caller Caller, in RenderInput) (string, error) {
	if err := in.OutputPlan.Validate(); err != nil {
		return Fallback(in.OutputPlan), fmt.Errorf("modelpipeline: invalid output plan: %w", err)
	}

	envelope, err := buildEnvelope(in)
	if err != nil {
		return Fallback(in.OutputPlan), err
	}

	raw, err := caller.Chat(ctx, envelope.system, envelope.user)
	if err != nil {
		return Fallback(in.OutputPlan), fmt.Errorf("modelpipeline: PROVIDER_ERROR: %w", err)
	}

	rendered, err := parseAndVerify(raw, in.OutputPlan)
	if err != nil {
		return Fallback(in.OutputPlan), err
	}
	return sanitize(rendered), nil
}

type builtEnvelope struct {
	system string
	user   string
}

// requiresJSON reports whether action's output format is JSON.
// ASK_ONE_QUESTION always is; REFUSE also is so its category can be
// verified structurally against the OutputPlan's refusal category. ANSWER
// and CLOSE render bounded free text.
func requiresJSON(action types.Action) bool {
	return action == types.ActionAskOneQuestion || action == types.ActionRefuse
}

func buildEnvelope(in RenderInput) (builtEnvelope, error) {
	op := in.OutputPlan
	tags := []string{
		"ACTION=" + string(op.Action),
		"POSTURE=" + string(op.Posture),
		"RIGOR_DISCLOSURE=" + string(op.RigorDisclosure),
		"CONFIDENCE_SIGNALING=" + string(op.ConfidenceSignaling),
		"UNKNOWN_DISCLOSURE=" + string(op.UnknownDisclosure),
		"ASSUMPTION_SURFACING=" + string(op.AssumptionSurfacing),
		"VERBOSITY_CAP=" + string(op.VerbosityCap),
	}

	format := "text"
	if requiresJSON(op.Action) {
		format = "json"
	}

	system := "CONSTRAINT_TAGS: " + strings.Join(tags, ", ") + "\nOUTPUT FORMAT: " + format +
		"\nRender exactly one bounded, safe response matching these constraints. Do not add content beyond what the constraints permit."

	user := "TASK: " + in.TaskSummary
	if op.Action == types.ActionAskOneQuestion && op.QuestionSpec != nil {
		user += "\nQUESTION_CLASS: " + string(op.QuestionSpec.QuestionClass)
	}
	if op.Action == types.ActionRefuse && op.RefusalSpec != nil {
		user += "\nREFUSAL_CATEGORY: " + string(op.RefusalSpec.Category)
	}

	lower := strings.ToLower(system + " " + user)
	for _, term := range bannedEnvelopeTerms {
		if strings.Contains(lower, term) {
			return builtEnvelope{}, fmt.Errorf("modelpipeline: CONTRACT_VIOLATION: envelope contains banned term %q", term)
		}
	}
	return builtEnvelope{system: system, user: user}, nil
}

// --- parsing & verification --------------------------------------------

type askPayload struct {
	Question string `json:"question"`
}

type refusePayload struct {
	RefusalCategory string `json:"refusal_category"`
	RefusalText     string `json:"refusal_text"`
}

var forbiddenPolicyPhrases = []string{
	"as an ai model", "as an ai language model", "policy", "i'm not allowed", "i am not allowed",
}

var forbiddenAuthorityPhrases = []string{
	"i remember", "i accessed", "i executed", "internal policy", "according to my instructions",
}

var multiQuestionHints = []string{"and also", "also", "plus", "another question"}

func parseAndVerify(raw string, op types.OutputPlan) (string, error) {
	cleaned := modelclient.StripFences(raw)

	if requiresJSON(op.Action) {
		if strings.Contains(raw, "```") {
			return "", fmt.Errorf("modelpipeline: NON_JSON: response contains markdown fences")
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
			return "", fmt.Errorf("modelpipeline: NON_JSON: %w", err)
		}
		switch op.Action {
		case types.ActionAskOneQuestion:
			if err := requireExactKeys(obj, "question"); err != nil {
				return "", err
			}
			var p askPayload
			if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
				return "", fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: %w", err)
			}
			return verifyQuestion(p.Question)
		case types.ActionRefuse:
			if err := requireExactKeys(obj, "refusal_category", "refusal_text"); err != nil {
				return "", err
			}
			var p refusePayload
			if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
				return "", fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: %w", err)
			}
			return verifyRefusal(p, op)
		}
	}

	switch op.Action {
	case types.ActionAnswer:
		return verifyAnswer(cleaned, op)
	case types.ActionClose:
		return verifyClosure(cleaned)
	}
	return "", fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: unhandled action %q", op.Action)
}

func requireExactKeys(obj map[string]json.RawMessage, allowed ...string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for k := range obj {
		if !allowedSet[k] {
			return fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: unexpected key %q", k)
		}
	}
	for _, a := range allowed {
		if _, ok := obj[a]; !ok {
			return fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: missing key %q", a)
		}
	}
	return nil
}

func verifyQuestion(q string) (string, error) {
	if err := checkAuthorityClaims(q); err != nil {
		return "", err
	}
	if strings.Count(q, "?") != 1 {
		return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: question must contain exactly one '?'")
	}
	lower := strings.ToLower(q)
	for _, hint := range multiQuestionHints {
		if strings.Contains(lower, hint) {
			return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: question contains multi-question hint %q", hint)
		}
	}
	return q, nil
}

func verifyRefusal(p refusePayload, op types.OutputPlan) (string, error) {
	if op.RefusalSpec == nil || p.RefusalCategory != string(op.RefusalSpec.Category) {
		return "", fmt.Errorf("modelpipeline: SCHEMA_MISMATCH: refusal category mismatch")
	}
	lower := strings.ToLower(p.RefusalText)
	for _, bad := range forbiddenPolicyPhrases {
		if strings.Contains(lower, bad) {
			return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: refusal text contains %q", bad)
		}
	}
	if err := checkAuthorityClaims(p.RefusalText); err != nil {
		return "", err
	}
	return p.RefusalText, nil
}

var absoluteLanguageTokens = []string{"always", "never", "guaranteed", "100%", "definitely", "certainly"}

func verifyAnswer(text string, op types.OutputPlan) (string, error) {
	lower := strings.ToLower(text)
	for _, bad := range forbiddenPolicyPhrases {
		if strings.Contains(lower, bad) {
			return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: answer contains policy/refusal language %q", bad)
		}
	}
	if err := checkAuthorityClaims(text); err != nil {
		return "", err
	}
	if op.ConfidenceSignaling != types.ConfidenceSignalingExplicit {
		for _, tok := range absoluteLanguageTokens {
			if strings.Contains(lower, tok) {
				return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: absolute language %q without EXPLICIT confidence signaling", tok)
			}
		}
	}
	if op.UnknownDisclosure != types.UnknownDisclosureNone {
		if !strings.Contains(lower, "uncertain") && !strings.Contains(lower, "not sure") && !strings.Contains(lower, "unclear") && !strings.Contains(lower, "don't know") {
			return "", fmt.Errorf("modelpipeline: CONTRACT_VIOLATION: missing required unknown-disclosure token")
		}
	}
	limit := types.VerbosityCharLimit[op.VerbosityCap]
	if len(text) > limit {
		return "", fmt.Errorf("modelpipeline: CONTRACT_VIOLATION: answer exceeds verbosity cap %d", limit)
	}
	return text, nil
}

func verifyClosure(text string) (string, error) {
	if strings.Contains(text, "?") {
		return "", fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: closure must not contain '?'")
	}
	return text, checkAuthorityClaims(text)
}

func checkAuthorityClaims(text string) error {
	lower := strings.ToLower(text)
	for _, bad := range forbiddenAuthorityPhrases {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("modelpipeline: FORBIDDEN_CONTENT: contains authority/memory/tool claim %q", bad)
		}
	}
	return nil
}

// sanitize strips zero-width characters, normalizes line endings, and trims.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// --- deterministic fallback ----------------------------------------------

// Fallback renders a deterministic, bounded template from the OutputPlan
// alone, capped by verbosity_cap character limits. It never calls the model.
func Fallback(op types.OutputPlan) string {
	limit := types.VerbosityCharLimit[op.VerbosityCap]
	var text string
	switch op.Action {
	case types.ActionAskOneQuestion:
		qc := types.QuestionFallbackInformational
		reason := "no stronger signal available"
		if op.QuestionSpec != nil {
			qc = op.QuestionSpec.QuestionClass
			reason = op.QuestionSpec.PriorityReason
		}
		text = fmt.Sprintf("Before I continue, could you clarify (%s — %s)?", humanizeQuestionClass(qc), reason)
	case types.ActionRefuse:
		cat := types.RefusalCapability
		if op.RefusalSpec != nil {
			cat = op.RefusalSpec.Category
		}
		text = fmt.Sprintf("I can't help with that. (%s)", humanizeRefusalCategory(cat))
	case types.ActionClose:
		text = "Understood — closing this conversation here."
	default:
		text = "I don't have enough information to give a specific answer right now; here is what I can safely say based on what's known."
	}
	return sanitize(clampToLimit(text, limit))
}

func clampToLimit(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}

func humanizeQuestionClass(qc types.QuestionClass) string {
	return strings.ToLower(strings.ReplaceAll(string(qc), "_", " "))
}

func humanizeRefusalCategory(c types.RefusalCategory) string {
	return strings.ToLower(strings.ReplaceAll(string(c), "_", " "))
}
