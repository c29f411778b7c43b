package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// baseConfig holds the fields shared by every HTTP-backed provider.
type baseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

// base implements the HTTP plumbing and the Provider convenience methods,
// leaving Embed's request/response shape to the embedding concrete type.
type base struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
}

func newBase(cfg baseConfig) *base {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 100
	}
	return &base{
		name:       cfg.Name,
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (b *base) Name() string    { return b.name }
func (b *base) Dimensions() int { return b.dimensions }

// embedFunc is the provider-specific request/response translation, passed in
// by EmbedQuery/EmbedDocuments so the shared convenience methods don't need
// to know each provider's wire format.
type embedFunc func(context.Context, *Request) (*Response, error)

func (b *base) embedQuery(ctx context.Context, query string, embed embedFunc) ([]float64, error) {
	resp, err := embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding: no data returned for query")
	}
	return resp.Data[0].Embedding, nil
}

func (b *base) embedDocuments(ctx context.Context, documents []string, embed embedFunc) ([][]float64, error) {
	resp, err := embed(ctx, &Request{Input: documents, InputType: InputTypeDocument})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (b *base) doRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("embedding: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: b.name, HTTPStatus: http.StatusBadGateway, Retryable: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Provider:   b.name,
			HTTPStatus: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Message:    string(respBody),
		}
	}
	return respBody, nil
}

func chooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
