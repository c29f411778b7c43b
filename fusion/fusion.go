// Package fusion combines ranked result lists from multiple retrieval
// sources (vector search, keyword search, ...) into a single ranking.
package fusion

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Method selects the scoring strategy Fuse uses to combine rankings.
type Method string

const (
	// ReciprocalRankFusion scores each document by 1/(k+rank) summed across
	// every source ranking it appears in. Score contributions only depend on
	// rank, not on the source's raw similarity scale, so it composes cleanly
	// across heterogeneous sources (cosine similarity vs BM25 vs keyword hits).
	ReciprocalRankFusion Method = "rrf"

	// WeightedScoreSum combines each source's raw score directly, scaled by
	// a per-source weight. Requires scores to already be comparable across
	// sources (e.g. all in [0,1]).
	WeightedScoreSum Method = "weighted_score_sum"
)

// DefaultRRFK is the standard Reciprocal Rank Fusion smoothing constant.
const DefaultRRFK = 60

// Ranked is one entry in a single source's ranked result list.
type Ranked struct {
	DocID   string
	Score   float64
	Content string
}

// Config controls how Fuse combines multiple source rankings.
type Config struct {
	Method Method

	// RRFK is the smoothing constant for ReciprocalRankFusion. Zero uses
	// DefaultRRFK.
	RRFK int

	// Weights maps source name to its contribution weight under both
	// ReciprocalRankFusion and WeightedScoreSum. Sources absent from the map
	// get weight 1.0.
	Weights map[string]float64

	// Diversify drops later duplicates whose content hashes to the same
	// value as an earlier, higher-ranked result (e.g. two near-identical
	// passages surfaced by different sources).
	Diversify bool

	// TopK truncates the fused ranking. Zero means no truncation.
	TopK int

	// SemanticSource names the entry in rankings that holds the semantic
	// (vector) search results. When two results tie on FusedScore, the tie
	// is broken by this source's rank (lower rank wins) before falling
	// back to DocID. Empty disables the rank-based tie-break.
	SemanticSource string
}

// DefaultConfig returns RRF fusion with diversification enabled, breaking
// fused-score ties on the "vector" source's rank.
func DefaultConfig() Config {
	return Config{Method: ReciprocalRankFusion, RRFK: DefaultRRFK, Diversify: true, SemanticSource: "vector"}
}

// Result is one entry in the fused ranking.
type Result struct {
	DocID       string
	Content     string
	FusedScore  float64
	SourceRanks map[string]int
}

// Fuse combines per-source ranked lists (keyed by source name, e.g.
// "vector" or "keyword") into a single ranking. Each source's list must
// already be sorted best-first.
func Fuse(rankings map[string][]Ranked, cfg Config) []Result {
	if cfg.Method == "" {
		cfg = DefaultConfig()
	}
	k := cfg.RRFK
	if k <= 0 {
		k = DefaultRRFK
	}

	type accum struct {
		docID       string
		content     string
		score       float64
		sourceRanks map[string]int
	}
	byDoc := make(map[string]*accum)

	for source, list := range rankings {
		weight := 1.0
		if cfg.Weights != nil {
			if w, ok := cfg.Weights[source]; ok {
				weight = w
			}
		}
		for rank, entry := range list {
			a, ok := byDoc[entry.DocID]
			if !ok {
				a = &accum{docID: entry.DocID, content: entry.Content, sourceRanks: make(map[string]int)}
				byDoc[entry.DocID] = a
			}
			if a.content == "" {
				a.content = entry.Content
			}
			a.sourceRanks[source] = rank + 1

			switch cfg.Method {
			case WeightedScoreSum:
				a.score += weight * entry.Score
			default: // ReciprocalRankFusion
				a.score += weight * (1.0 / float64(k+rank+1))
			}
		}
	}

	results := make([]Result, 0, len(byDoc))
	for _, a := range byDoc {
		results = append(results, Result{
			DocID:       a.docID,
			Content:     a.content,
			FusedScore:  a.score,
			SourceRanks: a.sourceRanks,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if cfg.SemanticSource != "" {
			ri, ok1 := results[i].SourceRanks[cfg.SemanticSource]
			rj, ok2 := results[j].SourceRanks[cfg.SemanticSource]
			if ok1 && ok2 && ri != rj {
				return ri < rj
			}
			if ok1 != ok2 {
				// a result absent from the semantic ranking ties last
				// among equal-score peers that are present in it.
				return ok1
			}
		}
		return results[i].DocID < results[j].DocID
	})

	if cfg.Diversify {
		results = diversify(results)
	}

	if cfg.TopK > 0 && cfg.TopK < len(results) {
		results = results[:cfg.TopK]
	}
	return results
}

// diversify drops results whose content hash collides with an
// already-kept, higher-ranked result, using the leading 100 characters of
// content as the fingerprint so minor trailing differences between
// near-duplicate passages don't defeat dedup. Results without content carry
// no fingerprint and are always kept.
func diversify(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Content == "" {
			out = append(out, r)
			continue
		}
		hash := contentFingerprint(r.Content)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		out = append(out, r)
	}
	return out
}

func contentFingerprint(content string) string {
	const prefixLen = 100
	prefix := content
	if len(prefix) > prefixLen {
		prefix = prefix[:prefixLen]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:])
}
