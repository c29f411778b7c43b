// Package anthropic implements provider.Provider against Anthropic's
// Messages API.
package anthropic

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

// Config configures the Anthropic provider.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Provider implements provider.Provider against Anthropic's API.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	total, successful, failed     int64
	totalInputTok, totalOutputTok int64
}

// New creates an Anthropic provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger.With(zap.String("provider", "anthropic"))}
}

func (p *Provider) Name() string { return "anthropic" }

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

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ResearchQuery implements provider.Provider.
func (p *Provider) ResearchQuery(ctx context.Context, text string) (string, error) {
	if err := p.ValidateQuery(text); err != nil {
		return "", err
	}

	body, _ := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: text}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&p.total, 1)
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeNetworkError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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

	var raw messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "malformed upstream response").WithCause(err)
	}
	if len(raw.Content) == 0 {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "upstream returned no content blocks")
	}

	atomic.AddInt64(&p.successful, 1)
	atomic.AddInt64(&p.totalInputTok, int64(raw.Usage.InputTokens))
	atomic.AddInt64(&p.totalOutputTok, int64(raw.Usage.OutputTokens))

	var sb strings.Builder
	for _, block := range raw.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
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
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return provider.HealthStatus{}, err
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

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
		Capabilities:     []string{"chat", "research_query"},
		SupportedModels:  []string{"claude-sonnet-4", "claude-opus-4"},
		MaxContextLength: 200000,
		RateLimits:       provider.RateLimits{RequestsPerMinute: 400, TokensPerMinute: 400000},
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
