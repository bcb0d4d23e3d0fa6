package httpapi

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lumenforge/respondctl/internal/types"
)

// maxFailureReasonBytes bounds failure_reason in the public error shape.
// Truncation is by byte count, trimmed back to a rune boundary.
const maxFailureReasonBytes = 200

var (
	secretKeyPattern   = regexp.MustCompile(`sk-[A-Za-z0-9_-]{4,}`)
	bearerTokenPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization:\s*\S+(\s+\S+)?`)
)

// redactSecrets strips API keys and Authorization bearer material from a
// string before it can reach the HTTP response or telemetry.
func redactSecrets(s string) string {
	s = authHeaderPattern.ReplaceAllString(s, "[redacted]")
	s = bearerTokenPattern.ReplaceAllString(s, "[redacted]")
	s = secretKeyPattern.ReplaceAllString(s, "[redacted]")
	return s
}

// truncateReason caps s at maxFailureReasonBytes bytes without splitting a
// multi-byte rune.
func truncateReason(s string) string {
	if len(s) <= maxFailureReasonBytes {
		return s
	}
	cut := maxFailureReasonBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// failureMarkers maps internal error-text markers to the closed public
// taxonomy, consulted in order: first match wins. Internal exception text
// never reaches the response — only the marker-derived code and a sanitized,
// bounded reason.
var failureMarkers = []struct {
	marker string
	ftype  types.FailureType
	reason string
}{
	{"INTERNAL_INCONSISTENCY", types.FailureInternalInconsistency, "internal inconsistency"},
	{"OutputAssemblyInvariantViolation", types.FailureInvariantViolation, "output assembly invariant violated"},
	{"assembly invariant", types.FailureInvariantViolation, "control assembly invariant violated"},
	{"PROVIDER_ERROR", types.FailureProviderError, "model provider error"},
	{"NON_JSON", types.FailureNonJSON, "model returned non-JSON output"},
	{"SCHEMA_MISMATCH", types.FailureSchemaMismatch, "model output did not match the required schema"},
	{"FORBIDDEN_CONTENT", types.FailureForbiddenContent, "model output contained forbidden content"},
	{"CONTRACT_VIOLATION", types.FailureContractViolation, "model output violated the rendering contract"},
	{"VALIDATION_FAIL", types.FailureValidationFail, "delta validation failed"},
	{"BUDGET_EXHAUSTED", types.FailureBudgetExhausted, "request budget exhausted"},
	{"TIMEOUT", types.FailureTimeout, "request timed out"},
	{"context deadline exceeded", types.FailureTimeout, "request timed out"},
}

// translateFailure maps any internal error to its public failure_type and a
// sanitized, bounded failure_reason.
func translateFailure(err error) (types.FailureType, string) {
	if err == nil {
		return types.FailureInternalInconsistency, "unknown failure"
	}
	msg := err.Error()
	for _, fm := range failureMarkers {
		if strings.Contains(msg, fm.marker) {
			return fm.ftype, truncateReason(redactSecrets(fm.reason))
		}
	}
	return types.FailureInternalInconsistency, "internal error"
}
