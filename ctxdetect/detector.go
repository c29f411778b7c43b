// Package ctxdetect extracts audience/domain/urgency dimensions from a query.
// Detection is pure and synchronous and must complete in O(|query|).
package ctxdetect

import (
	"strings"
	"time"

	"github.com/arclight-ai/resolve/researchtype"
)

const fallbackConfidence = 0.5

var urgencyCues = []string{"urgent", "asap", "production is down", "critical", "emergency", "right now", "immediately"}

// domainCues is checked in this fixed order so that a query matching cues
// for more than one domain always resolves to the same TechnicalDomain
// across runs; TechnicalDomain feeds store.ComputeKey and must be
// deterministic.
var domainCues = []struct {
	domain researchtype.TechnicalDomain
	cues   []string
}{
	{"rust", []string{"rust", "cargo", "tokio", "async-std"}},
	{"go", []string{"golang", " go ", "goroutine", "gorm"}},
	{"python", []string{"python", "django", "flask", "pandas"}},
	{"kubernetes", []string{"kubernetes", "k8s", "kubectl", "helm"}},
	{"javascript", []string{"javascript", "typescript", "node.js", "react"}},
}

var advancedCues = []string{"advanced", "production-grade", "at scale", "internals", "low-level"}
var beginnerCues = []string{"beginner", "new to", "just starting", "eli5", "simple explanation"}

// Detector extracts the three context dimensions from a query.
type Detector struct{}

// New creates a Detector.
func New() *Detector { return &Detector{} }

// Detect runs all three dimension extractors against query. researchType is
// accepted for forward-compatibility with type-specific cue sets but does
// not currently change detection behavior.
func (d *Detector) Detect(query string, _ researchtype.Type) researchtype.ContextDetectionResult {
	start := time.Now()
	normalized := " " + strings.ToLower(query) + " "

	audience, audienceConf := detectAudience(normalized)
	domain, domainConf := detectDomain(normalized)
	urgency, urgencyConf := detectUrgency(normalized)

	fallback := audienceConf < fallbackConfidence || domainConf < fallbackConfidence || urgencyConf < fallbackConfidence

	confidences := map[string]float64{
		"audience": audienceConf,
		"domain":   domainConf,
		"urgency":  urgencyConf,
	}
	overall := (audienceConf + domainConf + urgencyConf) / 3.0

	return researchtype.ContextDetectionResult{
		AudienceLevel:        audience,
		TechnicalDomain:      domain,
		UrgencyLevel:         urgency,
		DimensionConfidences: confidences,
		OverallConfidence:    overall,
		ProcessingTimeMS:     time.Since(start).Milliseconds(),
		FallbackUsed:         fallback,
	}
}

func detectAudience(normalized string) (researchtype.AudienceLevel, float64) {
	for _, cue := range advancedCues {
		if strings.Contains(normalized, cue) {
			return researchtype.AudienceAdvanced, 0.9
		}
	}
	for _, cue := range beginnerCues {
		if strings.Contains(normalized, cue) {
			return researchtype.AudienceBeginner, 0.9
		}
	}
	return researchtype.AudienceIntermediate, fallbackConfidence - 0.01
}

func detectDomain(normalized string) (researchtype.TechnicalDomain, float64) {
	for _, entry := range domainCues {
		for _, cue := range entry.cues {
			if strings.Contains(normalized, cue) {
				return entry.domain, 0.85
			}
		}
	}
	return researchtype.DomainGeneral, fallbackConfidence - 0.01
}

func detectUrgency(normalized string) (researchtype.UrgencyLevel, float64) {
	for _, cue := range urgencyCues {
		if strings.Contains(normalized, cue) {
			return researchtype.UrgencyCritical, 0.9
		}
	}
	return researchtype.UrgencyNormal, fallbackConfidence - 0.01
}
