package engine

import (
	"strings"

	"github.com/arclight-ai/resolve/researchtype"
)

type parsedSections struct {
	Answer         string
	Evidence       string
	Implementation string
}

var sectionHeaders = []string{"## Answer", "## Evidence", "## Implementation"}

// parseSections splits a provider's raw answer into its Answer/Evidence/
// Implementation sections. Missing sections are left empty; callers use
// coverage (how many of the three are non-empty) to discount quality_score.
func parseSections(raw string) parsedSections {
	sections := map[string]string{}
	current := ""
	var body strings.Builder

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		matched := false
		for _, header := range sectionHeaders {
			if strings.HasPrefix(trimmed, header) {
				flush()
				current = header
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()

	return parsedSections{
		Answer:         sections["## Answer"],
		Evidence:       sections["## Evidence"],
		Implementation: sections["## Implementation"],
	}
}

func (p parsedSections) coverage() float64 {
	count := 0
	if p.Answer != "" {
		count++
	}
	if p.Evidence != "" {
		count++
	}
	if p.Implementation != "" {
		count++
	}
	return float64(count) / 3.0
}

// keywordCoverage returns the fraction of matchedKeywords that appear
// (case-insensitively) anywhere in the raw answer text.
func keywordCoverage(raw string, matchedKeywords []string) float64 {
	if len(matchedKeywords) == 0 {
		return 1.0
	}
	lower := strings.ToLower(raw)
	hits := 0
	for _, kw := range matchedKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(matchedKeywords))
}

func toEvidenceAndDetails(p parsedSections) ([]researchtype.EvidenceItem, []researchtype.ImplementationDetail) {
	var evidence []researchtype.EvidenceItem
	if p.Evidence != "" {
		evidence = append(evidence, researchtype.EvidenceItem{Source: "provider_response", EvidenceType: "narrative", Content: p.Evidence})
	}
	var details []researchtype.ImplementationDetail
	if p.Implementation != "" {
		details = append(details, researchtype.ImplementationDetail{Category: "general", Priority: "normal", Content: p.Implementation})
	}
	return evidence, details
}
