package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arclight-ai/resolve/provider/manager"
	"github.com/arclight-ai/resolve/researchtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/arclight-ai/resolve/engine")

// Dispatcher is the subset of *manager.Manager the engine depends on, kept
// narrow so tests can supply a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, query string, preferred string) (answer string, usedProvider string, err error)
	DispatchParallel(ctx context.Context, query string, n int, preferred string) []manager.Outcome
}

// Options controls one Generate call; fields mirror the process_query
// parameters that vary per request rather than per engine.
type Options struct {
	ContextSnippets         []string
	TopK                    int
	ProviderPreference      string
	CrossValidate           bool
	CrossValidationN        int
	MinQualityThreshold     float64
	CacheKey                string
}

// Engine builds prompts, dispatches them through a Dispatcher, and scores
// the resulting answers.
type Engine struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates an Engine.
func New(dispatcher Dispatcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{dispatcher: dispatcher, logger: logger}
}

// Generate runs the full §4.H algorithm: build prompt, dispatch, parse,
// score, and fill metadata. Never returns an error — total provider failure
// degrades to the placeholder fallback instead.
func (e *Engine) Generate(ctx context.Context, req researchtype.ClassifiedRequest, opts Options) researchtype.ResearchResult {
	ctx, span := tracer.Start(ctx, "engine.Generate", trace.WithAttributes(
		attribute.String("research.type", string(req.ResearchType)),
		attribute.Bool("cross_validate", opts.CrossValidate),
	))
	defer span.End()

	start := time.Now()
	prompt := BuildPrompt(req, opts.ContextSnippets, opts.TopK)

	var (
		answer         string
		providersUsed  []string
		crossValidated bool
		consensus      float64
	)

	switch {
	case opts.CrossValidate && opts.CrossValidationN > 1:
		n := opts.CrossValidationN
		outcomes := e.dispatcher.DispatchParallel(ctx, prompt, n, opts.ProviderPreference)
		successes := successfulOutcomes(outcomes)
		if len(successes) == 0 {
			return e.placeholder(req, opts, start)
		}
		crossValidated = true
		answer, providersUsed, consensus = resolveCrossValidated(successes)
	default:
		result, used, err := e.dispatcher.Dispatch(ctx, prompt, opts.ProviderPreference)
		if err != nil {
			e.logger.Warn("all providers failed", zap.Error(err))
			return e.placeholder(req, opts, start)
		}
		answer = result
		providersUsed = []string{used}
	}

	sections := parseSections(answer)
	evidence, details := toEvidenceAndDetails(sections)

	threshold := opts.MinQualityThreshold
	quality := scoreQuality(sections, answer, req.MatchedKeywords, crossValidated, consensus, threshold)

	if threshold > 0 && quality < threshold {
		e.logger.Warn("research result below quality threshold",
			zap.Float64("quality_score", quality), zap.Float64("threshold", threshold))
	}

	tags := map[string]string{
		"cross_validated":   fmt.Sprintf("%t", crossValidated),
		"quality_threshold": fmt.Sprintf("%.2f", threshold),
	}
	if len(providersUsed) > 0 {
		tags["provider"] = providersUsed[0]
	}
	if crossValidated {
		tags["consensus"] = fmt.Sprintf("%.2f", consensus)
	}

	span.SetAttributes(
		attribute.StringSlice("providers_used", providersUsed),
		attribute.Float64("quality_score", quality),
	)

	return researchtype.ResearchResult{
		Request:               req,
		ImmediateAnswer:       sections.Answer,
		SupportingEvidence:    evidence,
		ImplementationDetails: details,
		Metadata: researchtype.ResultMetadata{
			CompletedAt:      time.Now(),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			SourcesConsulted: providersUsed,
			QualityScore:     quality,
			CacheKey:         opts.CacheKey,
			Tags:             tags,
		},
		Version: 1,
	}
}

func (e *Engine) placeholder(req researchtype.ClassifiedRequest, opts Options, start time.Time) researchtype.ResearchResult {
	answer := placeholderAnswer(req.ResearchType)
	return researchtype.ResearchResult{
		Request:         req,
		ImmediateAnswer: answer,
		Metadata: researchtype.ResultMetadata{
			CompletedAt:      time.Now(),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
			SourcesConsulted: []string{researchtype.PlaceholderFallbackSource},
			QualityScore:     0.5,
			CacheKey:         opts.CacheKey,
			Tags:             map[string]string{"cross_validated": "false"},
		},
		Version: 1,
	}
}

func placeholderAnswer(t researchtype.Type) string {
	switch t {
	case researchtype.Decision:
		return "## Answer\nNo provider was able to weigh in on this decision; please retry shortly.\n"
	case researchtype.Implementation:
		return "## Answer\nNo provider was able to produce an implementation for this request; please retry shortly.\n"
	case researchtype.Troubleshooting:
		return "## Answer\nNo provider was able to diagnose this issue; please retry shortly.\n"
	case researchtype.Validation:
		return "## Answer\nNo provider was able to validate this submission; please retry shortly.\n"
	default:
		return "## Answer\nNo provider was able to answer this question; please retry shortly.\n"
	}
}

func successfulOutcomes(outcomes []manager.Outcome) []manager.Outcome {
	ok := make([]manager.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil && o.Answer != "" {
			ok = append(ok, o)
		}
	}
	return ok
}

// resolveCrossValidated picks the best of several concurrent provider
// answers and reports the pairwise token-overlap consensus among them, per
// spec §4.H: "consensus quality by token-overlap/semantic-similarity
// heuristic". Token overlap (Jaccard over lower-cased word sets) stands in
// for semantic similarity since no embedding call is made here.
func resolveCrossValidated(outcomes []manager.Outcome) (answer string, providers []string, consensus float64) {
	for _, o := range outcomes {
		providers = append(providers, o.Provider)
	}
	sort.Strings(providers)

	if len(outcomes) == 1 {
		return outcomes[0].Answer, providers, 1.0
	}

	scores := make([]float64, len(outcomes))
	for i := range outcomes {
		var total float64
		for j := range outcomes {
			if i == j {
				continue
			}
			total += jaccardWordOverlap(outcomes[i].Answer, outcomes[j].Answer)
		}
		scores[i] = total / float64(len(outcomes)-1)
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	consensus = sum / float64(len(scores))

	return outcomes[best].Answer, providers, consensus
}

func jaccardWordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// scoreQuality implements §4.H.4: a weighted sum of structure coverage
// (baseline 0.5 + 0.5*coverage_fraction per §4.H.3), keyword-term coverage,
// and — when cross-validated — consensus agreement. When cross-validation
// consensus falls below minQualityThreshold, §4.H's "pick the highest-
// scoring response" premium (+0.1) is added on top of the weighted sum,
// which still includes the consensus term; the result is clamped to 1.0.
func scoreQuality(sections parsedSections, raw string, matchedKeywords []string, crossValidated bool, consensus float64, minQualityThreshold float64) float64 {
	structureScore := 0.5 + 0.5*sections.coverage()
	kwScore := keywordCoverage(raw, matchedKeywords)

	var quality float64
	if crossValidated {
		quality = 0.45*structureScore + 0.25*kwScore + 0.3*consensus
		if minQualityThreshold > 0 && consensus < minQualityThreshold {
			quality += 0.1
		}
	} else {
		quality = 0.6*structureScore + 0.4*kwScore
	}

	if quality > 1.0 {
		quality = 1.0
	}
	if quality < 0 {
		quality = 0
	}
	return quality
}
