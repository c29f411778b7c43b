// Package openai implements provider.Provider against OpenAI's Chat
// Completions API.
package openai

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
	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Config configures the OpenAI provider.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	Timeout      time.Duration

	// InputCostPer1K and OutputCostPer1K are USD prices, used to fill
	// CostEstimate.CostUSD. Zero leaves CostUSD nil.
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Provider implements provider.Provider against OpenAI's API.
type Provider struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	encoder *tiktoken.Tiktoken

	total, successful, failed    int64
	totalInputTok, totalOutputTok int64
	totalCostUSD                 atomic.Value // float64
}

// New creates an OpenAI provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, falling back to heuristic token counts", zap.Error(err))
		enc = nil
	}

	p := &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("provider", "openai")),
		encoder: enc,
	}
	p.totalCostUSD.Store(0.0)
	return p
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) countTokens(text string) int {
	if p.encoder != nil {
		return len(p.encoder.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ResearchQuery implements provider.Provider.
func (p *Provider) ResearchQuery(ctx context.Context, text string) (string, error) {
	if err := p.ValidateQuery(text); err != nil {
		return "", err
	}

	body, _ := json.Marshal(chatRequest{
		Model:    p.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: text}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&p.total, 1)
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeNetworkError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}

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

	var raw chatResponse
	if resp.StatusCode >= 400 {
		atomic.AddInt64(&p.failed, 1)
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return "", provider.MapHTTPStatusWithRetryAfter(p.Name(), resp.StatusCode, errBody.String(), resp.Header.Get("Retry-After"))
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "malformed upstream response").WithCause(err)
	}
	if len(raw.Choices) == 0 {
		atomic.AddInt64(&p.failed, 1)
		return "", provider.NewError(p.Name(), provider.CodeQueryFailed, "upstream returned no choices")
	}

	atomic.AddInt64(&p.successful, 1)
	atomic.AddInt64(&p.totalInputTok, int64(raw.Usage.PromptTokens))
	atomic.AddInt64(&p.totalOutputTok, int64(raw.Usage.CompletionTokens))
	p.accumulateCost(raw.Usage.PromptTokens, raw.Usage.CompletionTokens)

	return raw.Choices[0].Message.Content, nil
}

func (p *Provider) accumulateCost(inputTok, outputTok int) {
	if p.cfg.InputCostPer1K == 0 && p.cfg.OutputCostPer1K == 0 {
		return
	}
	cost := float64(inputTok)/1000*p.cfg.InputCostPer1K + float64(outputTok)/1000*p.cfg.OutputCostPer1K
	for {
		cur := p.totalCostUSD.Load().(float64)
		if p.totalCostUSD.CompareAndSwap(cur, cur+cost) {
			return
		}
	}
}

// EstimateCost implements provider.Provider.
func (p *Provider) EstimateCost(ctx context.Context, text string) (provider.CostEstimate, error) {
	inputTokens := p.countTokens(text)
	var costUSD *float64
	if p.cfg.InputCostPer1K > 0 {
		c := float64(inputTokens) / 1000 * p.cfg.InputCostPer1K
		costUSD = &c
	}
	return provider.CostEstimate{InputTokens: inputTokens, OutputTokens: 0, CostUSD: costUSD}, nil
}

// HealthCheck implements provider.Provider.
func (p *Provider) HealthCheck(ctx context.Context) (provider.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return provider.HealthStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
		SupportedModels:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
		MaxContextLength: 128000,
		RateLimits:       provider.RateLimits{RequestsPerMinute: 500, TokensPerMinute: 800000},
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
		TotalCostUSD:      p.totalCostUSD.Load().(float64),
	}
}
