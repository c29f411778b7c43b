package embedding

import (
	"context"
	"encoding/json"
	"time"
)

// CohereConfig configures the Cohere embedding provider.
type CohereConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CohereProvider generates embeddings through Cohere's /v1/embed API.
type CohereProvider struct {
	*base
	cfg CohereConfig
}

// NewCohereProvider creates a Cohere embedding provider.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "embed-v3.5"
	}
	return &CohereProvider{
		base: newBase(baseConfig{
			Name:       "cohere-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: 1024,
			MaxBatch:   96,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

type cohereEmbedRequest struct {
	Texts         []string `json:"texts"`
	Model         string   `json:"model"`
	InputType     string   `json:"input_type"`
	EmbeddingType []string `json:"embedding_types,omitempty"`
}

type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float64 `json:"float"`
	} `json:"embeddings"`
	Meta struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Embed implements Provider.
func (p *CohereProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	model := chooseModel(req.Model, p.cfg.Model, "embed-v3.5")

	body := cohereEmbedRequest{Texts: req.Input, Model: model, EmbeddingType: []string{"float"}}
	switch req.InputType {
	case InputTypeQuery:
		body.InputType = "search_query"
	default:
		body.InputType = "search_document"
	}

	respBody, err := p.doRequest(ctx, "POST", "/v1/embed", body, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var raw cohereEmbedResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, err
	}

	data := make([]Data, len(raw.Embeddings.Float))
	for i, emb := range raw.Embeddings.Float {
		data[i] = Data{Index: i, Embedding: emb}
	}

	return &Response{
		Provider: p.Name(),
		Model:    model,
		Data:     data,
		Usage:    Usage{PromptTokens: raw.Meta.BilledUnits.InputTokens, TotalTokens: raw.Meta.BilledUnits.InputTokens},
	}, nil
}

// EmbedQuery implements Provider.
func (p *CohereProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.embedQuery(ctx, query, p.Embed)
}

// EmbedDocuments implements Provider.
func (p *CohereProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.embedDocuments(ctx, documents, p.Embed)
}
