package embedding

import (
	"context"
	"encoding/json"
	"time"
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIProvider generates embeddings through OpenAI's /v1/embeddings API.
type OpenAIProvider struct {
	*base
	cfg OpenAIConfig
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-large"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 3072
	}
	return &OpenAIProvider{
		base: newBase(baseConfig{
			Name:       "openai-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   2048,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	model := chooseModel(req.Model, p.cfg.Model, "text-embedding-3-large")
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	body := openAIEmbedRequest{Input: req.Input, Model: model, Dimensions: dims}
	respBody, err := p.doRequest(ctx, "POST", "/v1/embeddings", body, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var raw openAIEmbedResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, err
	}

	data := make([]Data, len(raw.Data))
	for i, d := range raw.Data {
		data[i] = Data{Index: d.Index, Embedding: d.Embedding}
	}

	return &Response{
		Provider: p.Name(),
		Model:    raw.Model,
		Data:     data,
		Usage:    Usage{PromptTokens: raw.Usage.PromptTokens, TotalTokens: raw.Usage.TotalTokens},
	}, nil
}

// EmbedQuery implements Provider.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.embedQuery(ctx, query, p.Embed)
}

// EmbedDocuments implements Provider.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.embedDocuments(ctx, documents, p.Embed)
}
