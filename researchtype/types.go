// Package researchtype holds the data model shared across the research
// pipeline: the classified request, context detection result, and the
// cached research artifact produced by the multi-provider engine.
package researchtype

import "time"

// Type is the research category assigned by the classifier. Ordering here
// is load-bearing: tie-breaks during classification use this declaration
// order as the deterministic fallback.
type Type string

const (
	Decision        Type = "decision"
	Implementation  Type = "implementation"
	Troubleshooting Type = "troubleshooting"
	Learning        Type = "learning"
	Validation      Type = "validation"
)

// Ordered is the fixed tie-break ordering required by the classifier spec.
var Ordered = []Type{Decision, Implementation, Troubleshooting, Learning, Validation}

// AudienceContext captures who the answer is for and how it should be shaped.
type AudienceContext struct {
	Level  string `json:"level"`  // e.g. "beginner", "advanced"
	Domain string `json:"domain"` // e.g. "rust", "kubernetes"
	Format string `json:"format"` // e.g. "markdown", "plain"
}

// DomainContext captures the technical surface the query is about.
type DomainContext struct {
	Technology  string   `json:"technology"`
	ProjectType string   `json:"project_type"`
	Frameworks  []string `json:"frameworks,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ClassifiedRequest is immutable after construction; every field is set once
// by the classifier (and optionally the context detector) and never mutated
// afterward by downstream stages.
type ClassifiedRequest struct {
	OriginalQuery    string          `json:"original_query"`
	ResearchType     Type            `json:"research_type"`
	AudienceContext  AudienceContext `json:"audience_context"`
	DomainContext    DomainContext   `json:"domain_context"`
	Confidence       float64         `json:"confidence"`
	MatchedKeywords  []string        `json:"matched_keywords"`
}

// AudienceLevel, TechnicalDomain and UrgencyLevel are the tagged-variant
// dimensions the context detector emits one label for each of.
type AudienceLevel string
type TechnicalDomain string
type UrgencyLevel string

const (
	AudienceBeginner     AudienceLevel = "beginner"
	AudienceIntermediate AudienceLevel = "intermediate"
	AudienceAdvanced     AudienceLevel = "advanced"

	UrgencyLow      UrgencyLevel = "low"
	UrgencyNormal   UrgencyLevel = "normal"
	UrgencyCritical UrgencyLevel = "critical"

	DomainGeneral TechnicalDomain = "general"
)

// ContextDetectionResult is the optional output of the context detector.
type ContextDetectionResult struct {
	AudienceLevel        AudienceLevel           `json:"audience_level"`
	TechnicalDomain       TechnicalDomain         `json:"technical_domain"`
	UrgencyLevel          UrgencyLevel            `json:"urgency_level"`
	DimensionConfidences  map[string]float64      `json:"dimension_confidences"`
	OverallConfidence     float64                 `json:"overall_confidence"`
	ProcessingTimeMS      int64                   `json:"processing_time_ms"`
	FallbackUsed          bool                    `json:"fallback_used"`
}

// EvidenceItem is one entry of ResearchResult.SupportingEvidence.
type EvidenceItem struct {
	Source       string `json:"source"`
	EvidenceType string `json:"evidence_type"`
	Content      string `json:"content"`
}

// ImplementationDetail is one entry of ResearchResult.ImplementationDetails.
type ImplementationDetail struct {
	Category string `json:"category"`
	Priority string `json:"priority"`
	Content  string `json:"content"`
}

// ResultMetadata is the bookkeeping envelope attached to every ResearchResult.
type ResultMetadata struct {
	CompletedAt       time.Time         `json:"completed_at"`
	ProcessingTimeMS  int64             `json:"processing_time_ms"`
	SourcesConsulted  []string          `json:"sources_consulted"`
	QualityScore      float64           `json:"quality_score"`
	CacheKey          string            `json:"cache_key"`
	Tags              map[string]string `json:"tags"`
}

// ResearchResult is the cached research artifact. metadata.CacheKey must
// always equal the context-aware key computed from Request and the context
// used to produce it; any mismatch observed in storage is corruption.
type ResearchResult struct {
	Request                ClassifiedRequest      `json:"request"`
	ImmediateAnswer        string                 `json:"immediate_answer"`
	SupportingEvidence     []EvidenceItem         `json:"supporting_evidence"`
	ImplementationDetails  []ImplementationDetail `json:"implementation_details"`
	Metadata               ResultMetadata         `json:"metadata"`

	// Version and ContentHash support incremental re-indexing of a result
	// whose answer has since been regenerated under the same cache key.
	Version     int    `json:"version"`
	ContentHash string `json:"content_hash"`
}

// PlaceholderFallbackSource is the sentinel sources_consulted entry used
// when every provider fails; part of the public contract (spec §9).
const PlaceholderFallbackSource = "placeholder_fallback"
