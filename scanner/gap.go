// Package scanner defines the interface contract between the research
// pipeline and an external proactive gap scanner (§4.K). The pipeline
// itself never walks a filesystem; it only consumes DetectedGap values the
// scanner enqueues as synthetic research queries.
package scanner

import "github.com/arclight-ai/resolve/researchtype"

// GapType is the category of documentation/implementation gap a scanner
// reports.
type GapType string

const (
	TodoComment           GapType = "todo_comment"
	ApiDocumentationGap    GapType = "api_documentation_gap"
	UndocumentedTechnology GapType = "undocumented_technology"
	MissingDocumentation   GapType = "missing_documentation"
	ConfigurationGap       GapType = "configuration_gap"
)

// gapResearchType maps each GapType to the research_type its synthetic
// query is classified as, per §4.K.
var gapResearchType = map[GapType]researchtype.Type{
	TodoComment:            researchtype.Implementation,
	ApiDocumentationGap:    researchtype.Learning,
	UndocumentedTechnology: researchtype.Learning,
	MissingDocumentation:   researchtype.Learning,
	ConfigurationGap:       researchtype.Implementation,
}

// DetectedGap is one unit of work a scanner enqueues.
type DetectedGap struct {
	GapType    GapType `json:"gap_type"`
	FilePath   string  `json:"file_path"`
	LineNumber int     `json:"line_number"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
	Priority   float64 `json:"priority"`
}

// ResearchType resolves which research_type a gap maps to. Unknown gap
// types fall back to Learning, the safest default for a documentation gap.
func (g DetectedGap) ResearchType() researchtype.Type {
	if rt, ok := gapResearchType[g.GapType]; ok {
		return rt
	}
	return researchtype.Learning
}

// ToQuery renders a gap into the synthetic natural-language query the
// pipeline classifies and researches as if a user had typed it.
func (g DetectedGap) ToQuery() string {
	switch g.GapType {
	case TodoComment:
		return "Implement the following TODO at " + g.FilePath + ": " + g.Context
	case ApiDocumentationGap:
		return "Document the following undocumented API surface in " + g.FilePath + ": " + g.Context
	case UndocumentedTechnology:
		return "Explain how to use the following technology found in " + g.FilePath + ": " + g.Context
	case MissingDocumentation:
		return "Write documentation for " + g.FilePath + ": " + g.Context
	case ConfigurationGap:
		return "Fill in the following missing configuration in " + g.FilePath + ": " + g.Context
	default:
		return g.Context
	}
}

// ToClassifiedRequest builds a ClassifiedRequest pinning research_type to
// the gap's mapped type so the pipeline's classifier stage need not
// re-derive it; confidence carries through from the scanner's own
// detection confidence.
func (g DetectedGap) ToClassifiedRequest() researchtype.ClassifiedRequest {
	return researchtype.ClassifiedRequest{
		OriginalQuery: g.ToQuery(),
		ResearchType:  g.ResearchType(),
		Confidence:    g.Confidence,
	}
}

// ByPriority sorts gaps highest-priority first; used by callers that want
// to drain a bounded worker pool in priority order rather than FIFO.
type ByPriority []DetectedGap

func (b ByPriority) Len() int      { return len(b) }
func (b ByPriority) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByPriority) Less(i, j int) bool {
	return b[i].Priority > b[j].Priority
}
