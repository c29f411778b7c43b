package scanner

import (
	"sort"
	"testing"

	"github.com/arclight-ai/resolve/researchtype"
	"github.com/stretchr/testify/assert"
)

func TestDetectedGap_ResearchTypeMapping(t *testing.T) {
	cases := map[GapType]researchtype.Type{
		TodoComment:            researchtype.Implementation,
		ApiDocumentationGap:    researchtype.Learning,
		UndocumentedTechnology: researchtype.Learning,
		MissingDocumentation:   researchtype.Learning,
		ConfigurationGap:       researchtype.Implementation,
	}
	for gapType, want := range cases {
		gap := DetectedGap{GapType: gapType}
		assert.Equal(t, want, gap.ResearchType())
	}
}

func TestDetectedGap_UnknownGapTypeFallsBackToLearning(t *testing.T) {
	gap := DetectedGap{GapType: "something_new"}
	assert.Equal(t, researchtype.Learning, gap.ResearchType())
}

func TestDetectedGap_ToClassifiedRequestCarriesConfidence(t *testing.T) {
	gap := DetectedGap{GapType: TodoComment, FilePath: "main.go", Context: "handle shutdown", Confidence: 0.8}
	req := gap.ToClassifiedRequest()

	assert.Equal(t, researchtype.Implementation, req.ResearchType)
	assert.Equal(t, 0.8, req.Confidence)
	assert.Contains(t, req.OriginalQuery, "main.go")
}

func TestByPriority_SortsHighestFirst(t *testing.T) {
	gaps := []DetectedGap{
		{FilePath: "low", Priority: 0.1},
		{FilePath: "high", Priority: 0.9},
		{FilePath: "mid", Priority: 0.5},
	}
	sort.Sort(ByPriority(gaps))

	assert.Equal(t, "high", gaps[0].FilePath)
	assert.Equal(t, "mid", gaps[1].FilePath)
	assert.Equal(t, "low", gaps[2].FilePath)
}
