package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arclight-ai/resolve/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProvider_Name(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	assert.Equal(t, "openai", p.Name())
}

func TestProvider_ValidateQuery_RejectsEmpty(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	err := p.ValidateQuery("   ")
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CodeConfigurationError, perr.Code)
}

func TestProvider_ResearchQuery_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello world"}},
			},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "test"}, zap.NewNop())
	answer, err := p.ResearchQuery(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "hello world", answer)

	stats := p.UsageStats()
	assert.Equal(t, int64(1), stats.Successful)
	assert.Equal(t, int64(5), stats.TotalInputTokens)
}

func TestProvider_ResearchQuery_MapsRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "test"}, zap.NewNop())
	_, err := p.ResearchQuery(context.Background(), "ping")
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CodeRateLimitExceeded, perr.Code)
	assert.True(t, perr.Retryable())

	stats := p.UsageStats()
	assert.Equal(t, int64(1), stats.Failed)
}

func TestProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "test"}, zap.NewNop())
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
