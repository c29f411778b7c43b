package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arclight-ai/resolve/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Name(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "anthropic", p.Name())
}

func TestProvider_ValidateQuery_RejectsEmpty(t *testing.T) {
	p := New(Config{}, nil)
	err := p.ValidateQuery("")
	require.Error(t, err)
}

func TestProvider_ResearchQuery_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		resp := map[string]any{
			"content": []map[string]string{{"type": "text", "text": "answer"}},
			"usage":   map[string]int{"input_tokens": 3, "output_tokens": 1},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "test-key"}, nil)
	answer, err := p.ResearchQuery(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "answer", answer)
}

func TestProvider_ResearchQuery_AuthFailureNonRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "bad"}, nil)
	_, err := p.ResearchQuery(context.Background(), "ping")
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CodeAuthenticationFailed, perr.Code)
	assert.False(t, perr.Retryable())
}
