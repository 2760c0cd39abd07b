// Package identity computes the single canonical string identity
// ("effective ID") of a knowledge point. Every other package keys
// maps, de-duplication and routing decisions off this string so that
// the four identifier schemas never leak past this file.
package identity

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/example/lingpoint/pkg/models"
)

// FallbackPrefix marks effective IDs derived from the correct phrase
// rather than from a numeric identifier.
const FallbackPrefix = "fallback_"

// EffectiveID resolves the canonical identity of a point. It is total
// and deterministic. Resolution order, first match wins:
//
//  1. composite identifier, as "{ownerId}:{sequenceId}"
//  2. legacy numeric identifier, decimal string
//  3. ancient numeric identifier, decimal string
//  4. fallback: a stable hash of the correct phrase
//
// A record carrying both a composite and a legacy identifier resolves
// to the composite form; the legacy field is kept only for
// backward-compatible server calls.
func EffectiveID(p *models.KnowledgePoint) string {
	if p.Composite != nil {
		return p.Composite.String()
	}
	if p.LegacyID != nil {
		return strconv.FormatInt(*p.LegacyID, 10)
	}
	if p.AncientID != nil {
		return strconv.FormatInt(*p.AncientID, 10)
	}
	return FallbackPrefix + stableHash(p.CorrectPhrase)
}

// Validate reports ErrIdentityUnresolvable for a record with no
// identifier and an empty correct phrase. Upstream validation should
// make this unreachable; mutation paths still check so a bad record
// surfaces as an error instead of hashing an empty phrase.
func Validate(p *models.KnowledgePoint) error {
	if p.Composite == nil && p.LegacyID == nil && p.AncientID == nil && p.CorrectPhrase == "" {
		return fmt.Errorf("%w: no identifier and empty correct phrase", models.ErrIdentityUnresolvable)
	}
	return nil
}

// stableHash must be process-stable: fallback IDs are compared across
// app launches, so a seeded or address-based hash would break
// de-duplication. FNV-1a over the raw phrase bytes.
func stableHash(phrase string) string {
	h := fnv.New64a()
	h.Write([]byte(phrase))
	return strconv.FormatUint(h.Sum64(), 16)
}
