// Package classify maps a free-form query to a research type with a
// confidence score, using rule-based keyword matching. The classifier is a
// pure function: no I/O, no suspension, deterministic for a given config.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arclight-ai/resolve/researchtype"
)

// ErrConfidenceThresholdNotMet is returned when the top-scoring type's
// confidence falls below the configured threshold.
type ErrConfidenceThresholdNotMet struct {
	Confidence float64
	Threshold  float64
}

func (e *ErrConfidenceThresholdNotMet) Error() string {
	return fmt.Sprintf("classification confidence %.3f below threshold %.3f", e.Confidence, e.Threshold)
}

// KeywordWeight pairs a keyword/phrase with its contribution to a type's score.
type KeywordWeight struct {
	Keyword string
	Weight  float64
}

// KeywordSet maps each research type to its weighted keyword dictionary.
type KeywordSet map[researchtype.Type][]KeywordWeight

// DefaultKeywordSets restores the fuller per-type keyword tables used by the
// original implementation (the distilled spec only sketches five buckets).
func DefaultKeywordSets() KeywordSet {
	return KeywordSet{
		researchtype.Decision: {
			{"should i", 1.0}, {"which is better", 1.0}, {"vs", 0.6}, {"versus", 0.6},
			{"compare", 0.8}, {"comparison", 0.8}, {"pros and cons", 1.0}, {"trade-off", 0.9},
			{"tradeoff", 0.9}, {"recommend", 0.7}, {"decide", 0.8}, {"choose", 0.7},
			{"alternative", 0.6}, {"better approach", 0.8},
		},
		researchtype.Implementation: {
			{"how do i implement", 1.0}, {"how to implement", 1.0}, {"how to build", 0.9},
			{"write a", 0.6}, {"code for", 0.7}, {"example of", 0.6}, {"implement", 0.8},
			{"integrate", 0.7}, {"set up", 0.6}, {"configure", 0.6}, {"create a", 0.6},
			{"build a", 0.6}, {"add support for", 0.7},
		},
		researchtype.Troubleshooting: {
			{"error", 0.8}, {"crash", 0.9}, {"crashes", 0.9}, {"bug", 0.8}, {"fails", 0.7},
			{"failing", 0.7}, {"not working", 0.9}, {"doesn't work", 0.9}, {"broken", 0.8},
			{"exception", 0.8}, {"segfault", 1.0}, {"panic", 0.9}, {"stack trace", 0.8},
			{"debug", 0.6}, {"fix", 0.6}, {"why does", 0.5},
		},
		researchtype.Learning: {
			{"what is", 1.0}, {"what are", 1.0}, {"explain", 0.8}, {"understand", 0.6},
			{"learn", 0.7}, {"tutorial", 0.7}, {"introduction to", 0.8}, {"how does", 0.6},
			{"concept", 0.5}, {"overview of", 0.7}, {"basics of", 0.8}, {"difference between", 0.6},
		},
		researchtype.Validation: {
			{"is this correct", 1.0}, {"is it safe to", 0.9}, {"review my", 0.8}, {"validate", 0.9},
			{"best practice", 0.7}, {"am i doing this right", 0.9}, {"verify", 0.8},
			{"sanity check", 0.9}, {"double check", 0.7}, {"correct way", 0.7},
		},
	}
}

// Config configures the classifier.
type Config struct {
	Keywords            KeywordSet
	ConfidenceThreshold float64
}

// DefaultConfig returns the low, interactive-mode threshold from the spec.
func DefaultConfig() Config {
	return Config{Keywords: DefaultKeywordSets(), ConfidenceThreshold: 0.05}
}

// AdvancedConfig returns the stricter advanced-mode threshold from the spec.
func AdvancedConfig() Config {
	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.6
	return cfg
}

// Classifier is a pure, stateless keyword scorer.
type Classifier struct {
	cfg Config
}

// New creates a Classifier from cfg. A zero-value Config falls back to
// DefaultConfig's keyword tables but keeps the caller's threshold.
func New(cfg Config) *Classifier {
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultKeywordSets()
	}
	return &Classifier{cfg: cfg}
}

// Result is the outcome of Classify.
type Result struct {
	ResearchType    researchtype.Type
	Confidence      float64
	MatchedKeywords []string
}

// Classify scores query against every type's keyword dictionary and returns
// the top-scoring type. Ties are broken by researchtype.Ordered.
func (c *Classifier) Classify(query string) (Result, error) {
	normalized := strings.ToLower(query)

	type scored struct {
		t        researchtype.Type
		score    float64
		matched  []string
	}

	scores := make([]scored, 0, len(researchtype.Ordered))
	for _, t := range researchtype.Ordered {
		weights := c.cfg.Keywords[t]
		var total float64
		var matched []string
		for _, kw := range weights {
			if strings.Contains(normalized, kw.Keyword) {
				total += kw.Weight
				matched = append(matched, kw.Keyword)
			}
		}
		scores = append(scores, scored{t: t, score: total, matched: matched})
	}

	// Normalize to [0,1] against the best possible score across types so a
	// single strong match doesn't automatically yield confidence 1.0 when
	// other types also partially matched.
	maxPossible := 0.0
	for _, weights := range c.cfg.Keywords {
		var sum float64
		for _, kw := range weights {
			sum += kw.Weight
		}
		if sum > maxPossible {
			maxPossible = sum
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	best := scores[0]
	confidence := 0.0
	if maxPossible > 0 {
		confidence = best.score / maxPossible
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	if confidence < c.cfg.ConfidenceThreshold {
		return Result{}, &ErrConfidenceThresholdNotMet{Confidence: confidence, Threshold: c.cfg.ConfidenceThreshold}
	}

	return Result{
		ResearchType:    best.t,
		Confidence:      confidence,
		MatchedKeywords: best.matched,
	}, nil
}
