package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) Dimensions() int { return 3 }

func (p *countingProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	p.calls++
	data := make([]Data, len(req.Input))
	for i := range req.Input {
		data[i] = Data{Index: i, Embedding: []float64{1, 2, 3}}
	}
	return &Response{Provider: "counting", Model: "test", Data: data}, nil
}

func (p *countingProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: []string{query}})
	if err != nil {
		return nil, err
	}
	return resp.Data[0].Embedding, nil
}

func (p *countingProvider) EmbedDocuments(ctx context.Context, docs []string) ([][]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: docs})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func TestCachingProvider_RepeatedQuerySkipsUpstream(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachingProvider(inner, 100, time.Minute)
	require.NoError(t, err)

	_, err = cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	_, err = cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachingProvider_PartialBatchHit(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachingProvider(inner, 100, 0)
	require.NoError(t, err)

	_, err = cached.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	out, err := cached.EmbedDocuments(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "only the miss for c triggers a new upstream call")
	assert.Len(t, out, 2)
	assert.Equal(t, []float64{1, 2, 3}, out[0])
}

func TestCachingProvider_ExpiredEntryIsRefetched(t *testing.T) {
	inner := &countingProvider{}
	cached, err := NewCachingProvider(inner, 100, time.Millisecond)
	require.NoError(t, err)

	_, err = cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = cached.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
