package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/arclight-ai/resolve/provider/manager"
	"github.com/arclight-ai/resolve/researchtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	answer     string
	used       string
	err        error
	parallel   []manager.Outcome
	preferred  string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, query string, preferred string) (string, string, error) {
	f.preferred = preferred
	if f.err != nil {
		return "", "", f.err
	}
	return f.answer, f.used, nil
}

func (f *fakeDispatcher) DispatchParallel(ctx context.Context, query string, n int, preferred string) []manager.Outcome {
	f.preferred = preferred
	return f.parallel
}

func testRequest() researchtype.ClassifiedRequest {
	return researchtype.ClassifiedRequest{
		OriginalQuery:   "how do I cache results in redis",
		ResearchType:    researchtype.Implementation,
		MatchedKeywords: []string{"cache", "redis"},
	}
}

const wellFormedAnswer = "## Answer\nUse a Redis cache with a TTL.\n\n## Evidence\nRedis supports key expiry natively.\n\n## Implementation\nCall SET with EX option.\n"

func TestEngine_Generate_SingleProviderSuccess(t *testing.T) {
	d := &fakeDispatcher{answer: wellFormedAnswer, used: "openai"}
	e := New(d, nil)

	result := e.Generate(context.Background(), testRequest(), Options{CacheKey: "k1"})

	assert.Equal(t, "Use a Redis cache with a TTL.", result.ImmediateAnswer)
	assert.Equal(t, []string{"openai"}, result.Metadata.SourcesConsulted)
	assert.Greater(t, result.Metadata.QualityScore, 0.5)
	assert.Equal(t, "k1", result.Metadata.CacheKey)
	assert.Equal(t, "false", result.Metadata.Tags["cross_validated"])
}

func TestEngine_Generate_ThreadsProviderPreferenceToDispatch(t *testing.T) {
	d := &fakeDispatcher{answer: wellFormedAnswer, used: "anthropic"}
	e := New(d, nil)

	e.Generate(context.Background(), testRequest(), Options{ProviderPreference: "anthropic"})

	assert.Equal(t, "anthropic", d.preferred)
}

func TestEngine_Generate_AllProvidersFailReturnsPlaceholder(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("manager: all candidates failed")}
	e := New(d, nil)

	result := e.Generate(context.Background(), testRequest(), Options{})

	assert.Equal(t, []string{researchtype.PlaceholderFallbackSource}, result.Metadata.SourcesConsulted)
	assert.Equal(t, 0.5, result.Metadata.QualityScore)
}

func TestEngine_Generate_MissingSectionsDegradeQuality(t *testing.T) {
	d := &fakeDispatcher{answer: "## Answer\nJust use a map.\n", used: "gemini"}
	e := New(d, nil)

	result := e.Generate(context.Background(), testRequest(), Options{})

	full := New(&fakeDispatcher{answer: wellFormedAnswer, used: "gemini"}, nil).
		Generate(context.Background(), testRequest(), Options{})

	assert.Less(t, result.Metadata.QualityScore, full.Metadata.QualityScore)
}

func TestEngine_Generate_CrossValidationUsesBestAgreeingAnswer(t *testing.T) {
	d := &fakeDispatcher{
		parallel: []manager.Outcome{
			{Provider: "openai", Answer: wellFormedAnswer},
			{Provider: "anthropic", Answer: wellFormedAnswer},
			{Provider: "gemini", Answer: "## Answer\ncompletely different unrelated text about bananas\n"},
		},
	}
	e := New(d, nil)

	result := e.Generate(context.Background(), testRequest(), Options{
		CrossValidate:    true,
		CrossValidationN: 3,
	})

	assert.Equal(t, "true", result.Metadata.Tags["cross_validated"])
	assert.Len(t, result.Metadata.SourcesConsulted, 3)
	assert.Equal(t, "Use a Redis cache with a TTL.", result.ImmediateAnswer)
}

func TestEngine_Generate_CrossValidationAllFailFallsBackToPlaceholder(t *testing.T) {
	d := &fakeDispatcher{
		parallel: []manager.Outcome{
			{Provider: "openai", Err: errors.New("timeout")},
			{Provider: "anthropic", Err: errors.New("rate limited")},
		},
	}
	e := New(d, nil)

	result := e.Generate(context.Background(), testRequest(), Options{CrossValidate: true, CrossValidationN: 2})

	assert.Equal(t, []string{researchtype.PlaceholderFallbackSource}, result.Metadata.SourcesConsulted)
}

func TestJaccardWordOverlap_IdenticalTextIsFullOverlap(t *testing.T) {
	require.Equal(t, 1.0, jaccardWordOverlap("use redis cache", "use redis cache"))
}

func TestJaccardWordOverlap_DisjointTextIsZero(t *testing.T) {
	require.Equal(t, 0.0, jaccardWordOverlap("use redis cache", "eat fresh bananas"))
}
