// Package engine builds provider-neutral research prompts, dispatches them
// through the provider manager, and scores the resulting answer quality.
package engine

import (
	"fmt"
	"strings"

	"github.com/arclight-ai/resolve/researchtype"
)

// promptTemplates maps each research type to a format string. Every
// template asks for the same three sections so parseSections can score
// structure coverage uniformly.
var promptTemplates = map[researchtype.Type]string{
	researchtype.Decision: "You are advising a %s-level engineer on a decision in the %s domain. " +
		"Weigh the tradeoffs and recommend one option.\n\nQuestion: %s\n%s" +
		"\n\nRespond with sections: ## Answer (the recommendation), ## Evidence (tradeoffs considered), ## Implementation (how to act on it).",
	researchtype.Implementation: "You are helping a %s-level engineer implement something in the %s domain. " +
		"Provide a concrete, working approach.\n\nRequest: %s\n%s" +
		"\n\nRespond with sections: ## Answer (the approach), ## Evidence (why it works), ## Implementation (concrete steps/code).",
	researchtype.Troubleshooting: "You are debugging an issue for a %s-level engineer in the %s domain. " +
		"Diagnose the root cause and propose a fix.\n\nProblem: %s\n%s" +
		"\n\nRespond with sections: ## Answer (the diagnosis), ## Evidence (symptoms matched), ## Implementation (the fix).",
	researchtype.Learning: "You are teaching a %s-level learner about the %s domain.\n\nQuestion: %s\n%s" +
		"\n\nRespond with sections: ## Answer (the explanation), ## Evidence (supporting facts), ## Implementation (how to try it yourself).",
	researchtype.Validation: "You are reviewing a %s-level engineer's work in the %s domain for correctness.\n\nSubmission: %s\n%s" +
		"\n\nRespond with sections: ## Answer (is it correct), ## Evidence (what was checked), ## Implementation (fixes if any).",
}

// BuildPrompt renders the template for req.ResearchType, injecting audience
// level, domain, and up to the top-K discovered context snippets.
func BuildPrompt(req researchtype.ClassifiedRequest, contextSnippets []string, topK int) string {
	template, ok := promptTemplates[req.ResearchType]
	if !ok {
		template = promptTemplates[researchtype.Learning]
	}

	audience := string(req.AudienceContext.Level)
	if audience == "" {
		audience = "intermediate"
	}
	domain := req.DomainContext.Technology
	if domain == "" {
		domain = "general software engineering"
	}

	var contextBlock string
	if len(contextSnippets) > 0 {
		n := topK
		if n <= 0 || n > len(contextSnippets) {
			n = len(contextSnippets)
		}
		var sb strings.Builder
		sb.WriteString("\nRelated prior research:\n")
		for i, snippet := range contextSnippets[:n] {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, snippet)
		}
		contextBlock = sb.String()
	}

	return fmt.Sprintf(template, audience, domain, req.OriginalQuery, contextBlock)
}
