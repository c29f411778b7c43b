// Package store implements content-addressed result caching: deterministic
// cache keys, a Redis-backed primary store, and a Postgres sidecar index
// for listing/search.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/arclight-ai/resolve/researchtype"
)

// KeyInput is everything the cache key is a deterministic function of.
type KeyInput struct {
	OriginalQuery     string
	ResearchType      researchtype.Type
	AudienceLevel     string
	DomainTechnology  string
	ContextLabels     []string
	OverallConfidence float64 // rounded to the nearest percentage point before hashing
	Provider          string  // empty unless this is an enhanced (provider-specific) variant
}

// ComputeKey builds the deterministic cache key described in the caching
// component: a hash of every field in KeyInput, rendered as a hex
// fingerprint. Same inputs always yield the same key; a differing provider
// or context always yields a different one. Enhanced (provider-tagged)
// variants are prefixed "enhanced_".
func ComputeKey(in KeyInput) string {
	labels := append([]string(nil), in.ContextLabels...)
	sort.Strings(labels)

	roundedConfidence := int(in.OverallConfidence*100 + 0.5)

	var sb strings.Builder
	sb.WriteString(in.OriginalQuery)
	sb.WriteByte(0)
	sb.WriteString(string(in.ResearchType))
	sb.WriteByte(0)
	sb.WriteString(in.AudienceLevel)
	sb.WriteByte(0)
	sb.WriteString(in.DomainTechnology)
	sb.WriteByte(0)
	sb.WriteString(strings.Join(labels, ","))
	sb.WriteByte(0)
	fmt.Fprintf(&sb, "%d", roundedConfidence)
	if in.Provider != "" {
		sb.WriteByte(0)
		sb.WriteString(in.Provider)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	fingerprint := hex.EncodeToString(sum[:])

	if in.Provider != "" {
		return "enhanced_" + fingerprint
	}
	return fingerprint
}
