package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey string

func makeCacheKey(model, input string) cacheKey {
	h := sha256.Sum256([]byte(model + "\x00" + input))
	return cacheKey(hex.EncodeToString(h[:]))
}

type cacheEntry struct {
	embedding []float64
	expiresAt time.Time
}

// CachingProvider wraps a Provider with an LRU cache keyed by (model, input
// text), so repeated lookups of the same document or query skip the network
// round trip entirely.
type CachingProvider struct {
	inner Provider
	cache *lru.Cache[cacheKey, cacheEntry]
	ttl   time.Duration

	hits   int64
	misses int64
}

// NewCachingProvider wraps inner with an LRU cache of the given size and TTL.
// A zero ttl means cached entries never expire.
func NewCachingProvider(inner Provider, size int, ttl time.Duration) (*CachingProvider, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: cache, ttl: ttl}, nil
}

func (c *CachingProvider) Name() string    { return c.inner.Name() }
func (c *CachingProvider) Dimensions() int { return c.inner.Dimensions() }

// Embed implements Provider. Cache hits and misses are resolved per input
// string; only the misses are sent upstream, in a single batched call.
func (c *CachingProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	now := time.Now()
	result := make([]Data, len(req.Input))
	missIdx := make([]int, 0, len(req.Input))
	missInput := make([]string, 0, len(req.Input))

	model := req.Model
	if model == "" {
		model = c.inner.Name()
	}

	for i, text := range req.Input {
		key := makeCacheKey(model, text)
		if entry, ok := c.cache.Get(key); ok {
			if c.ttl == 0 || now.Before(entry.expiresAt) {
				result[i] = Data{Index: i, Embedding: entry.embedding}
				c.hits++
				continue
			}
			c.cache.Remove(key)
		}
		c.misses++
		missIdx = append(missIdx, i)
		missInput = append(missInput, text)
	}

	if len(missInput) > 0 {
		resp, err := c.inner.Embed(ctx, &Request{
			Input:      missInput,
			Model:      req.Model,
			Dimensions: req.Dimensions,
			InputType:  req.InputType,
		})
		if err != nil {
			return nil, err
		}
		for j, d := range resp.Data {
			origIdx := missIdx[j]
			result[origIdx] = Data{Index: origIdx, Embedding: d.Embedding}

			expiresAt := time.Time{}
			if c.ttl > 0 {
				expiresAt = now.Add(c.ttl)
			}
			c.cache.Add(makeCacheKey(model, missInput[j]), cacheEntry{embedding: d.Embedding, expiresAt: expiresAt})
		}
	}

	return &Response{Provider: c.inner.Name(), Model: model, Data: result}, nil
}

// EmbedQuery implements Provider.
func (c *CachingProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := c.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Data[0].Embedding, nil
}

// EmbedDocuments implements Provider.
func (c *CachingProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := c.Embed(ctx, &Request{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Stats reports cumulative hit/miss counts since creation.
func (c *CachingProvider) Stats() (hits, misses int64) { return c.hits, c.misses }
