// Package pipeline orchestrates the nine-stage research flow described in
// the component design: classify, detect context, adapt from prior
// feedback, look up the cache, generate an answer, store it, index it,
// and record feedback/metrics. Classification is the only hard-failing
// stage; every later stage degrades gracefully.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arclight-ai/resolve/classify"
	"github.com/arclight-ai/resolve/ctxdetect"
	"github.com/arclight-ai/resolve/embedding"
	"github.com/arclight-ai/resolve/engine"
	"github.com/arclight-ai/resolve/feedback"
	"github.com/arclight-ai/resolve/fusion"
	"github.com/arclight-ai/resolve/researchtype"
	"github.com/arclight-ai/resolve/store"
	"github.com/arclight-ai/resolve/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("github.com/arclight-ai/resolve/pipeline")

// StageFailedError surfaces a hard failure: at the classification stage,
// per the error handling design's "exactly one stage — classification — is
// hard-failing" rule, or at admission when the context ends before a
// concurrency slot is acquired. It is the only error process_query returns.
type StageFailedError struct {
	Stage string
	Inner error
}

func (e *StageFailedError) Error() string {
	return fmt.Sprintf("pipeline: stage %q failed: %v", e.Stage, e.Inner)
}

func (e *StageFailedError) Unwrap() error { return e.Inner }

// Config controls which optional stages run and the pipeline's resource
// limits.
type Config struct {
	EnableContextDetection  bool
	EnableLearningAdaptation bool
	EnableContextDiscovery  bool
	AutoIndexResults        bool

	MaxConcurrent   int
	TimeoutSeconds  int
	ContextTopK     int

	DefaultCacheTTL time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		EnableContextDetection:   true,
		EnableLearningAdaptation: false,
		EnableContextDiscovery:   false,
		AutoIndexResults:         false,
		MaxConcurrent:            5,
		TimeoutSeconds:           300,
		ContextTopK:              3,
		DefaultCacheTTL:          24 * time.Hour,
	}
}

// FeedbackHistory supplies prior positive feedback for the learning
// adaptation stage. An implementation backed by the cache store's sidecar
// index, or a no-op returning 0 always, both satisfy the pipeline.
type FeedbackHistory interface {
	// PositiveFeedbackRate returns the fraction, in [0,1], of recorded
	// positive feedback for queries similar to query. 0 when unknown.
	PositiveFeedbackRate(ctx context.Context, query string) float64
}

// noHistory is the null-object FeedbackHistory used when learning
// adaptation is disabled, so the pipeline body stays free of conditional
// branching beyond construction (§9 design note).
type noHistory struct{}

func (noHistory) PositiveFeedbackRate(ctx context.Context, query string) float64 { return 0 }

// Options are the per-call parameters of process_query.
type Options struct {
	Audience           string
	Domain             string
	ProviderPreference string
	CrossValidate      bool
	CrossValidationN   int
	QualityThreshold   float64
}

// Pipeline wires together every component-design stage into process_query.
type Pipeline struct {
	classifier *classify.Classifier
	detector   *ctxdetect.Detector
	cache      *store.Store
	engine     *engine.Engine
	vectorIdx  vector.Store
	embedder   embedding.Provider
	feedback   *feedback.Sink
	history    FeedbackHistory

	cfg Config
	sem *semaphore.Weighted

	logger *zap.Logger
}

// New creates a Pipeline. vectorIdx/embedder may be nil when context
// discovery and auto-indexing are both disabled.
func New(
	classifier *classify.Classifier,
	detector *ctxdetect.Detector,
	cache *store.Store,
	researchEngine *engine.Engine,
	vectorIdx vector.Store,
	embedder embedding.Provider,
	feedbackSink *feedback.Sink,
	history FeedbackHistory,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if history == nil {
		history = noHistory{}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	return &Pipeline{
		classifier: classifier,
		detector:   detector,
		cache:      cache,
		engine:     researchEngine,
		vectorIdx:  vectorIdx,
		embedder:   embedder,
		feedback:   feedbackSink,
		history:    history,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		logger:     logger,
	}
}

// ProcessQuery runs the nine pipeline stages for one query. The returned
// error is non-nil only when admission (acquiring a concurrency slot before
// the context ends) or stage 1 (classification) fails; every other
// degradation is folded into the returned ResearchResult.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string, opts Options) (researchtype.ResearchResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ProcessQuery", trace.WithAttributes(
		attribute.Int("query.length", len(query)),
		attribute.String("provider.preference", opts.ProviderPreference),
	))
	defer span.End()

	timeout := time.Duration(p.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission failed")
		return researchtype.ResearchResult{}, &StageFailedError{Stage: "admission", Inner: err}
	}
	defer p.sem.Release(1)

	start := time.Now()

	// Stage 1: classify. Hard-fail.
	classified, err := p.classifier.Classify(query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return researchtype.ResearchResult{}, &StageFailedError{Stage: "classification", Inner: err}
	}
	span.SetAttributes(attribute.String("research.type", string(classified.ResearchType)))
	req := researchtype.ClassifiedRequest{
		OriginalQuery:   query,
		ResearchType:    classified.ResearchType,
		Confidence:      classified.Confidence,
		MatchedKeywords: classified.MatchedKeywords,
		AudienceContext: researchtype.AudienceContext{Level: opts.Audience},
		DomainContext:   researchtype.DomainContext{Technology: opts.Domain},
	}

	// Stage 2: context detect [soft-fail].
	var ctxResult researchtype.ContextDetectionResult
	var contextLabels []string
	if p.cfg.EnableContextDetection && p.detector != nil {
		ctxResult = p.safeDetectContext(query, req.ResearchType)
		contextLabels = []string{string(ctxResult.AudienceLevel), string(ctxResult.TechnicalDomain), string(ctxResult.UrgencyLevel)}
		if opts.Audience == "" {
			req.AudienceContext.Level = string(ctxResult.AudienceLevel)
		}
		if opts.Domain == "" {
			req.DomainContext.Technology = string(ctxResult.TechnicalDomain)
		}
	}

	// Stage 3: learning adaptation [soft-fail].
	if p.cfg.EnableLearningAdaptation {
		rate := p.history.PositiveFeedbackRate(ctx, query)
		bump := 0.05 * rate
		if bump > 0.05 {
			bump = 0.05
		}
		req.Confidence += bump * (1.0 - req.Confidence)
		if req.Confidence > 1.0 {
			req.Confidence = 1.0
		}
	}

	// Stage 4: cache lookup [soft-fail].
	cacheKey := store.ComputeKey(store.KeyInput{
		OriginalQuery:     req.OriginalQuery,
		ResearchType:      req.ResearchType,
		AudienceLevel:     req.AudienceContext.Level,
		DomainTechnology:  req.DomainContext.Technology,
		ContextLabels:     contextLabels,
		OverallConfidence: ctxResult.OverallConfidence,
		Provider:          opts.ProviderPreference,
	})

	if p.cache != nil {
		cached, err := p.cache.Retrieve(ctx, cacheKey)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("cache.hit", true))
			p.recordCacheHit()
			p.recordMetrics(cached, time.Since(start))
			return cached, nil
		case errors.Is(err, store.ErrNotFound):
			span.SetAttributes(attribute.Bool("cache.hit", false))
			p.recordCacheMiss()
		default:
			p.logger.Warn("cache lookup failed, treating as miss", zap.Error(err))
			p.recordStageFailure("cache_lookup")
			p.recordCacheMiss()
		}
	}

	// Stage 5: generate [soft-fail internally, hard fallback to placeholder].
	var snippets []string
	if p.cfg.EnableContextDiscovery {
		snippets = p.discoverContext(ctx, query, req.MatchedKeywords)
	}

	genOpts := engine.Options{
		ContextSnippets:     snippets,
		TopK:                p.cfg.ContextTopK,
		ProviderPreference:  opts.ProviderPreference,
		CrossValidate:       opts.CrossValidate,
		CrossValidationN:    opts.CrossValidationN,
		MinQualityThreshold: opts.QualityThreshold,
		CacheKey:            cacheKey,
	}
	result := p.engine.Generate(ctx, req, genOpts)
	if len(snippets) > 0 && isFallback(result) {
		// retry once without context, per §4.J step 5
		genOpts.ContextSnippets = nil
		result = p.engine.Generate(ctx, req, genOpts)
	}

	// Stage 6: store [soft-fail].
	if p.cache != nil {
		if err := p.cache.Store(ctx, cacheKey, result, p.cfg.DefaultCacheTTL); err != nil {
			p.logger.Warn("cache store failed", zap.Error(err))
			p.recordStageFailure("store")
		}
	}

	// Stage 7: index [soft-fail].
	if p.cfg.AutoIndexResults && p.vectorIdx != nil && p.embedder != nil {
		if err := p.indexResult(ctx, cacheKey, result); err != nil {
			p.logger.Warn("result indexing failed", zap.Error(err))
			p.recordStageFailure("index")
		}
	}

	// Stage 8: feedback [soft-fail] — recorded by the caller via RecordFeedback
	// once a user rating is available; the pipeline itself has nothing to
	// report at generation time.

	// Stage 9: metrics [soft-fail].
	p.recordMetrics(result, time.Since(start))

	span.SetAttributes(attribute.Float64("result.quality_score", result.Metadata.QualityScore))
	return result, nil
}

func (p *Pipeline) safeDetectContext(query string, researchType researchtype.Type) (result researchtype.ContextDetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("context detection panicked, dropping context", zap.Any("recover", r))
			p.recordStageFailure("context_detect")
			result = researchtype.ContextDetectionResult{FallbackUsed: true}
		}
	}()
	return p.detector.Detect(query, researchType)
}

func isFallback(result researchtype.ResearchResult) bool {
	return len(result.Metadata.SourcesConsulted) == 1 && result.Metadata.SourcesConsulted[0] == researchtype.PlaceholderFallbackSource
}

// discoverContext embeds query, searches the vector index, and fuses that
// ranking with a cheap lexical ranking over the same candidate set (§4.E
// hybrid search), returning the fused results' content as prompt snippets.
func (p *Pipeline) discoverContext(ctx context.Context, query string, matchedKeywords []string) []string {
	queryVec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		p.logger.Warn("context discovery embed failed", zap.Error(err))
		p.recordStageFailure("context_discovery")
		return nil
	}

	topK := p.cfg.ContextTopK * 3
	if topK <= 0 {
		topK = 9
	}
	hits, err := p.vectorIdx.Search(ctx, queryVec, topK, 0, nil)
	if err != nil {
		p.logger.Warn("context discovery search failed", zap.Error(err))
		p.recordStageFailure("context_discovery")
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	vectorRanking := make([]fusion.Ranked, len(hits))
	for i, h := range hits {
		vectorRanking[i] = fusion.Ranked{DocID: h.Document.ID, Score: h.Score, Content: h.Document.Content}
	}

	lexicalRanking := rankByKeywordOverlap(hits, matchedKeywords)

	fused := fusion.Fuse(map[string][]fusion.Ranked{
		"vector":  vectorRanking,
		"lexical": lexicalRanking,
	}, fusion.Config{Method: fusion.ReciprocalRankFusion, RRFK: fusion.DefaultRRFK, Diversify: true, TopK: p.cfg.ContextTopK, SemanticSource: "vector"})

	snippets := make([]string, 0, len(fused))
	for _, f := range fused {
		snippets = append(snippets, f.Content)
	}
	return snippets
}

// rankByKeywordOverlap ranks search hits by raw keyword-match count against
// matchedKeywords, descending; a minimal lexical counterpart to the vector
// ranking so hybrid fusion has two independent rankings to combine.
func rankByKeywordOverlap(hits []vector.SearchResult, matchedKeywords []string) []fusion.Ranked {
	type scored struct {
		ranked fusion.Ranked
		count  int
	}
	scoredHits := make([]scored, len(hits))
	for i, h := range hits {
		lower := strings.ToLower(h.Document.Content)
		count := 0
		for _, kw := range matchedKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				count++
			}
		}
		scoredHits[i] = scored{ranked: fusion.Ranked{DocID: h.Document.ID, Content: h.Document.Content}, count: count}
	}
	sort.SliceStable(scoredHits, func(i, j int) bool { return scoredHits[i].count > scoredHits[j].count })

	ranking := make([]fusion.Ranked, len(scoredHits))
	for i, s := range scoredHits {
		r := s.ranked
		r.Score = float64(s.count)
		ranking[i] = r
	}
	return ranking
}

// indexResult converts a completed ResearchResult into a vector document
// (concatenating answer/evidence/details with section headers, per §4.J
// step 7) and upserts it.
func (p *Pipeline) indexResult(ctx context.Context, cacheKey string, result researchtype.ResearchResult) error {
	var sb strings.Builder
	sb.WriteString("## Answer\n")
	sb.WriteString(result.ImmediateAnswer)
	for _, ev := range result.SupportingEvidence {
		sb.WriteString("\n## Evidence\n")
		sb.WriteString(ev.Content)
	}
	for _, d := range result.ImplementationDetails {
		sb.WriteString("\n## Implementation\n")
		sb.WriteString(d.Content)
	}

	content := sb.String()
	vec, err := p.embedder.EmbedDocuments(ctx, []string{content})
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return errors.New("pipeline: embedder returned no vectors")
	}

	doc := vector.Document{
		ID:      "research_" + cacheKey,
		Content: content,
		Metadata: map[string]any{
			"research_type": string(result.Request.ResearchType),
			"quality_score": result.Metadata.QualityScore,
		},
		Embedding: vec[0],
	}
	return p.vectorIdx.Upsert(ctx, []vector.Document{doc})
}

func (p *Pipeline) recordCacheHit() {
	if p.feedback != nil {
		p.feedback.RecordCacheHit()
	}
}

func (p *Pipeline) recordCacheMiss() {
	if p.feedback != nil {
		p.feedback.RecordCacheMiss()
	}
}

func (p *Pipeline) recordStageFailure(stage string) {
	if p.feedback != nil {
		p.feedback.RecordStageFailure(stage)
	}
}

func (p *Pipeline) recordMetrics(result researchtype.ResearchResult, duration time.Duration) {
	if p.feedback != nil {
		p.feedback.RecordMetrics(result, duration)
	}
}
