package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Name(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "gemini", p.Name())
}

func TestProvider_ResearchQuery_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "gemini says hi"}}}},
			},
			"usageMetadata": map[string]int{"promptTokenCount": 4, "candidatesTokenCount": 3},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL, APIKey: "test"}, nil)
	answer, err := p.ResearchQuery(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "gemini says hi", answer)
}
