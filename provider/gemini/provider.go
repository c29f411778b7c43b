// Package gemini implements provider.Provider against Google Gemini's
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arclight-ai/resolve/provider"
	"go.uber.org/zap"
)

// Config configures the Gemini provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider implements provider.Provider against Gemini's REST API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	total, successful, failed     int64
	totalInputTok, totalOutputTok int64
}

// New creates a Gemini provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger.With(zap.String("provider", "gemini"))}
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) countTokens(text string) int { return len(text)/4 + 1 }

// ValidateQuery implements provider.Provider.
func (p *Provider) ValidateQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return provider.NewError(p.Name(), provider.CodeConfigurationError, "query is empty or whitespace-only")
	}
	if p.countTokens(text) > p.Metadata().MaxContextLength {
		return provider.NewError(p.Name(), provider.CodeConfigurationError, "query exceeds model context length")
	}
	return nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// ResearchQuery implements provider.Provider.
func (p *Provider) ResearchQuery(ctx context.Context, text string) (string, error) {
	if err := p.ValidateQuery(text); err != nil {
		return "", err
	}

	body, _ := json.Marshal(generateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
	})

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.Model, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&p.total, 1)
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeNetworkError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	atomic.AddInt64(&p.total, 1)
	resp, err := p.client.Do(req)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		if ctx.Err() != nil {
			return "", &provider.Error{Provider: p.Name(), Code: provider.CodeTimeout, Message: "request context ended", Cause: ctx.Err()}
		}
		return "", provider.NewError(p.Name(), provider.CodeNetworkError, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		atomic.AddInt64(&p.failed, 1)
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return "", provider.MapHTTPStatusWithRetryAfter(p.Name(), resp.StatusCode, errBody.String(), resp.Header.Get("Retry-After"))
	}

	var raw generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "malformed upstream response").WithCause(err)
	}
	if len(raw.Candidates) == 0 || len(raw.Candidates[0].Content.Parts) == 0 {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "upstream returned no candidates")
	}

	atomic.AddInt64(&p.successful, 1)
	atomic.AddInt64(&p.totalInputTok, int64(raw.UsageMetadata.PromptTokenCount))
	atomic.AddInt64(&p.totalOutputTok, int64(raw.UsageMetadata.CandidatesTokenCount))

	var sb strings.Builder
	for _, part := range raw.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// EstimateCost implements provider.Provider.
func (p *Provider) EstimateCost(ctx context.Context, text string) (provider.CostEstimate, error) {
	return provider.CostEstimate{InputTokens: p.countTokens(text)}, nil
}

// HealthCheck implements provider.Provider.
func (p *Provider) HealthCheck(ctx context.Context) (provider.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s", strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return provider.HealthStatus{}, err
	}

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return provider.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.HealthStatus{Healthy: false, Latency: latency, Message: fmt.Sprintf("status=%d", resp.StatusCode)}, nil
	}
	return provider.HealthStatus{Healthy: true, Latency: latency}, nil
}

// Metadata implements provider.Provider.
func (p *Provider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:             p.Name(),
		Version:          "1.0",
		Capabilities:     []string{"chat", "research_query", "long_context"},
		SupportedModels:  []string{"gemini-2.0-flash", "gemini-2.0-pro"},
		MaxContextLength: 1000000,
		RateLimits:       provider.RateLimits{RequestsPerMinute: 300, TokensPerMinute: 4000000},
	}
}

// UsageStats implements provider.Provider.
func (p *Provider) UsageStats() provider.UsageStats {
	return provider.UsageStats{
		Total:             atomic.LoadInt64(&p.total),
		Successful:        atomic.LoadInt64(&p.successful),
		Failed:            atomic.LoadInt64(&p.failed),
		TotalInputTokens:  atomic.LoadInt64(&p.totalInputTok),
		TotalOutputTokens: atomic.LoadInt64(&p.totalOutputTok),
	}
}
