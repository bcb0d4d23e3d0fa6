package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// idNamespace roots every deterministic UUIDv5 derived in this package.
// Any fixed namespace works as long as it is stable across process restarts;
// this one is generated once and frozen.
var idNamespace = uuid.MustParse("6f6e1c0a-6b62-4c2a-9e1d-6a7a2f7c9b10")

// ComputeHash returns the lowercase hex SHA-256 digest of s.
func ComputeHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeterministicUUID derives a UUIDv5 from parts joined with "|", matching
// the canonical-string-then-hash idiom used throughout this package.
func DeterministicUUID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(CanonicalJoin(parts))).String()
}

// CanonicalJoin joins parts with a separator that cannot appear inside any
// individual part's expected charset (ids, enum values, action strings).
func CanonicalJoin(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "|"
		}
		out += p
	}
	return out
}
