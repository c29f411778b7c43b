package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant-backed Store.
//
// Qdrant point IDs are UUIDs; resolve derives a stable UUID from Document.ID
// and recovers the original ID from payload on read.
type QdrantConfig struct {
	BaseURL              string
	APIKey               string
	Collection           string
	Timeout              time.Duration
	AutoCreateCollection bool
	Distance             string // Cosine (default), Dot, Euclid
	VectorSize           int    // optional override; defaults to len(embedding)
	Wait                 bool
}

// QdrantStore implements Store against Qdrant's REST API.
type QdrantStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

const (
	payloadIDField       = "doc_id"
	payloadContentField  = "content"
	payloadMetadataField = "metadata"
)

// NewQdrantStore creates a Qdrant-backed Store.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("d9bde6d4-4f3a-4e6b-8f7a-5d8d2f3b4c1a")

func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("vector: qdrant collection is required")
	}
	if vectorSize <= 0 {
		return fmt.Errorf("vector: qdrant vector size must be > 0")
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{"size": vectorSize, "distance": s.cfg.Distance},
		}
		endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(s.cfg.Collection))
		reqBody, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			s.ensureErr = err
			return
		}
		s.applyHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			s.ensureErr = err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusConflict {
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			s.ensureErr = fmt.Errorf("vector: qdrant create collection failed: status=%d body=%s", resp.StatusCode, string(raw))
		}
	})

	return s.ensureErr
}

func (s *QdrantStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vector: qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *QdrantStore) waitSuffix() string {
	if s.cfg.Wait {
		return "?wait=true"
	}
	return ""
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("vector: qdrant collection is required")
	}

	vectorSize := s.cfg.VectorSize
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("vector: document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("vector: document[%d] has no embedding", i)
		}
		if vectorSize == 0 {
			vectorSize = len(doc.Embedding)
		}
		if len(doc.Embedding) != vectorSize {
			return fmt.Errorf("vector: document[%d] embedding dimension mismatch: got=%d want=%d", i, len(doc.Embedding), vectorSize)
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(docs))
	for _, doc := range docs {
		points = append(points, qdrantPoint{
			ID:     qdrantPointID(doc.ID),
			Vector: doc.Embedding,
			Payload: map[string]any{
				payloadIDField:       doc.ID,
				payloadContentField:  doc.Content,
				payloadMetadataField: doc.Metadata,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points%s", url.PathEscape(s.cfg.Collection), s.waitSuffix())
	var resp any
	if err := s.doJSON(ctx, http.MethodPut, path, struct {
		Points []qdrantPoint `json:"points"`
	}{Points: points}, &resp); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(docs)))
	return nil
}

type qdrantSearchHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func documentFromPayload(id any, payload map[string]any) Document {
	doc := Document{Metadata: map[string]any{}}
	if payload != nil {
		if v, ok := payload[payloadIDField].(string); ok {
			doc.ID = v
		}
		if v, ok := payload[payloadContentField].(string); ok {
			doc.Content = v
		}
		if v, ok := payload[payloadMetadataField].(map[string]any); ok {
			doc.Metadata = v
		}
	}
	if doc.ID == "" {
		doc.ID = fmt.Sprint(id)
	}
	return doc
}

// qdrantFilterCondition is Qdrant's field-condition wire shape. Only one of
// Match/Range is set, depending on the source Filter's operator.
type qdrantFilterCondition struct {
	Key   string              `json:"key"`
	Match *qdrantMatch        `json:"match,omitempty"`
	Range *qdrantRange        `json:"range,omitempty"`
}

type qdrantMatch struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
	Text  string `json:"text,omitempty"`
}

type qdrantRange struct {
	Gt *float64 `json:"gt,omitempty"`
	Lt *float64 `json:"lt,omitempty"`
}

// buildQdrantFilter translates Filters into Qdrant's must/must_not clauses.
// Filters are AND-ed per the Store contract: Equals/Contains/GreaterThan/
// LessThan/In land in "must", NotEquals/NotIn land in "must_not".
func buildQdrantFilter(filters []Filter) map[string]any {
	if len(filters) == 0 {
		return nil
	}

	var must, mustNot []qdrantFilterCondition
	for _, f := range filters {
		key := payloadMetadataField + "." + f.Field
		switch f.Op {
		case FilterEquals:
			must = append(must, qdrantFilterCondition{Key: key, Match: &qdrantMatch{Value: f.Value}})
		case FilterNotEquals:
			mustNot = append(mustNot, qdrantFilterCondition{Key: key, Match: &qdrantMatch{Value: f.Value}})
		case FilterContains:
			if s, ok := f.Value.(string); ok {
				must = append(must, qdrantFilterCondition{Key: key, Match: &qdrantMatch{Text: s}})
			}
		case FilterGreaterThan:
			if v, ok := toFloat(f.Value); ok {
				must = append(must, qdrantFilterCondition{Key: key, Range: &qdrantRange{Gt: &v}})
			}
		case FilterLessThan:
			if v, ok := toFloat(f.Value); ok {
				must = append(must, qdrantFilterCondition{Key: key, Range: &qdrantRange{Lt: &v}})
			}
		case FilterIn:
			if values, ok := f.Value.([]any); ok {
				must = append(must, qdrantFilterCondition{Key: key, Match: &qdrantMatch{Any: values}})
			}
		case FilterNotIn:
			if values, ok := f.Value.([]any); ok {
				mustNot = append(mustNot, qdrantFilterCondition{Key: key, Match: &qdrantMatch{Any: values}})
			}
		}
	}

	out := map[string]any{}
	if len(must) > 0 {
		out["must"] = must
	}
	if len(mustNot) > 0 {
		out["must_not"] = mustNot
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Search implements Store. threshold maps to Qdrant's score_threshold;
// filters map to Qdrant's must/must_not payload filter clauses.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float64, topK int, threshold float64, filters []Filter) ([]SearchResult, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("vector: qdrant collection is required")
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("vector: query embedding is required")
	}

	req := struct {
		Vector        []float64      `json:"vector"`
		Limit         int            `json:"limit"`
		WithPayload   bool           `json:"with_payload"`
		ScoreThreshold *float64      `json:"score_threshold,omitempty"`
		Filter        map[string]any `json:"filter,omitempty"`
	}{Vector: queryEmbedding, Limit: topK, WithPayload: true, Filter: buildQdrantFilter(filters)}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	var resp struct {
		Result []qdrantSearchHit `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(resp.Result))
	for _, hit := range resp.Result {
		doc := documentFromPayload(hit.ID, hit.Payload)
		out = append(out, SearchResult{Document: doc, Score: hit.Score, Distance: 1.0 - hit.Score})
	}
	return out, nil
}

// GetByIDs implements Store, retrieving points by their derived Qdrant IDs.
func (s *QdrantStore) GetByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("vector: qdrant collection is required")
	}

	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrantPointID(id)
	}

	req := struct {
		IDs         []string `json:"ids"`
		WithPayload bool     `json:"with_payload"`
	}{IDs: pointIDs, WithPayload: true}

	var resp struct {
		Result []qdrantSearchHit `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(resp.Result))
	for _, hit := range resp.Result {
		out = append(out, documentFromPayload(hit.ID, hit.Payload))
	}
	return out, nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("vector: qdrant collection is required")
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			points = append(points, qdrantPointID(id))
		}
	}

	path := fmt.Sprintf("/collections/%s/points/delete%s", url.PathEscape(s.cfg.Collection), s.waitSuffix())
	var resp any
	return s.doJSON(ctx, http.MethodPost, path, struct {
		Points []string `json:"points"`
	}{Points: points}, &resp)
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return 0, fmt.Errorf("vector: qdrant collection is required")
	}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, struct {
		Exact bool `json:"exact"`
	}{Exact: true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}
