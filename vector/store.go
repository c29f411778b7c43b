// Package vector defines the vector index abstraction the research pipeline
// indexes completed results into and searches for related prior work.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Document is a unit of indexed content: a research result's immediate
// answer plus enough metadata to reconstruct a citation.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float64
}

// SearchResult pairs a Document with its similarity to the query.
type SearchResult struct {
	Document Document
	Score    float64
	Distance float64
}

// FilterOp is a comparison operator applied to a Document's Metadata field
// in a Filter condition.
type FilterOp string

const (
	FilterEquals      FilterOp = "eq"
	FilterNotEquals   FilterOp = "neq"
	FilterContains    FilterOp = "contains"
	FilterGreaterThan FilterOp = "gt"
	FilterLessThan    FilterOp = "lt"
	FilterIn          FilterOp = "in"
	FilterNotIn       FilterOp = "not_in"
)

// Filter is a single condition on a Document's Metadata field. When Search
// is given more than one Filter, they are AND-ed together — a Document must
// satisfy every Filter to be eligible.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Store is the vector index abstraction. Concrete stores (in-memory,
// Qdrant) implement upsert/search/get/delete over this interface so the
// fusion and pipeline layers never depend on a specific backend.
type Store interface {
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, queryEmbedding []float64, topK int, threshold float64, filters []Filter) ([]SearchResult, error)
	GetByIDs(ctx context.Context, ids []string) ([]Document, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// matchFilters reports whether doc satisfies every filter (AND semantics).
func matchFilters(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

func matchFilter(doc Document, f Filter) bool {
	actual, ok := doc.Metadata[f.Field]
	switch f.Op {
	case FilterEquals:
		return ok && actual == f.Value
	case FilterNotEquals:
		return !ok || actual != f.Value
	case FilterContains:
		s, sok := actual.(string)
		want, wok := f.Value.(string)
		return ok && sok && wok && strings.Contains(s, want)
	case FilterGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(f.Value)
		return ok && aok && bok && a > b
	case FilterLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(f.Value)
		return ok && aok && bok && a < b
	case FilterIn:
		return ok && containsValue(f.Value, actual)
	case FilterNotIn:
		return !ok || !containsValue(f.Value, actual)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsValue(set any, want any) bool {
	values, ok := set.([]any)
	if !ok {
		return false
	}
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// InMemoryStore is a brute-force cosine-similarity store suitable for tests
// and small deployments that don't warrant a Qdrant instance.
type InMemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	order  []string
	logger *zap.Logger
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{docs: make(map[string]Document), logger: logger}
}

// Upsert implements Store.
func (s *InMemoryStore) Upsert(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("vector: document %q has no embedding", doc.ID)
		}
		if _, exists := s.docs[doc.ID]; !exists {
			s.order = append(s.order, doc.ID)
		}
		s.docs[doc.ID] = doc
	}
	s.logger.Debug("documents upserted", zap.Int("count", len(docs)), zap.Int("total", len(s.docs)))
	return nil
}

// Search implements Store. threshold, when > 0, drops hits scoring below
// it; filters, when non-empty, are AND-ed together over Document.Metadata.
func (s *InMemoryStore) Search(ctx context.Context, queryEmbedding []float64, topK int, threshold float64, filters []Filter) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.docs) == 0 || topK <= 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(s.docs))
	for _, doc := range s.docs {
		if !matchFilters(doc, filters) {
			continue
		}
		similarity := cosineSimilarity(queryEmbedding, doc.Embedding)
		if threshold > 0 && similarity < threshold {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: similarity, Distance: 1.0 - similarity})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// GetByIDs implements Store.
func (s *InMemoryStore) GetByIDs(ctx context.Context, ids []string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
		delete(s.docs, id)
	}
	filtered := s.order[:0:0]
	for _, id := range s.order {
		if !remove[id] {
			filtered = append(filtered, id)
		}
	}
	s.order = filtered
	return nil
}

// Count implements Store.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
