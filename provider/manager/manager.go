// Package manager selects among registered provider.Provider backends,
// dispatches requests through the resilience layer, and tracks rolling
// performance windows per provider.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arclight-ai/resolve/feedback"
	"github.com/arclight-ai/resolve/provider"
	"github.com/arclight-ai/resolve/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("github.com/arclight-ai/resolve/provider/manager")

// Strategy selects which registered provider handles a request.
type Strategy string

const (
	Balanced        Strategy = "balanced"
	MinimumLatency  Strategy = "minimum_latency"
	MinimumCost     Strategy = "minimum_cost"
	MaximumQuality  Strategy = "maximum_quality"
	RoundRobin      Strategy = "round_robin"
	Manual          Strategy = "manual"
)

// Config controls manager behavior.
type Config struct {
	Strategy              Strategy
	ManualProvider         string
	SelectionTimeout       time.Duration
	HealthCheckInterval    time.Duration
	WindowSize             int
	EnableFailover         bool
	MaxFailoverAttempts    int
	EnableCrossValidation  bool
	CrossValidationN       int
	MinQualityThreshold    float64
	RateLimitPerSecond     float64
}

// DefaultConfig returns reasonable manager defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:             Balanced,
		SelectionTimeout:     2 * time.Second,
		HealthCheckInterval:  30 * time.Second,
		WindowSize:           50,
		EnableFailover:       true,
		MaxFailoverAttempts:  2,
		MinQualityThreshold:  0.7,
		RateLimitPerSecond:   10,
	}
}

// window is a fixed-capacity rolling record of recent call outcomes.
type window struct {
	mu        sync.Mutex
	capacity  int
	latencies []time.Duration
	successes []bool
	costs     []float64
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 50
	}
	return &window{capacity: capacity}
}

func (w *window) record(latency time.Duration, success bool, cost float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latencies = append(w.latencies, latency)
	w.successes = append(w.successes, success)
	w.costs = append(w.costs, cost)
	if len(w.latencies) > w.capacity {
		w.latencies = w.latencies[1:]
		w.successes = w.successes[1:]
		w.costs = w.costs[1:]
	}
}

func (w *window) snapshot() (avgLatency time.Duration, successRate float64, avgCost float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.latencies)
	if n == 0 {
		return 0, 1.0, 0
	}
	var totalLatency time.Duration
	var totalCost float64
	successCount := 0
	for i := 0; i < n; i++ {
		totalLatency += w.latencies[i]
		totalCost += w.costs[i]
		if w.successes[i] {
			successCount++
		}
	}
	return totalLatency / time.Duration(n), float64(successCount) / float64(n), totalCost / float64(n)
}

type registration struct {
	p       provider.Provider
	cb      *resilience.CircuitBreaker
	limiter *rate.Limiter
	window  *window
	healthy bool
}

// Manager routes research requests across registered providers.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	logger   *zap.Logger
	retry    resilience.RetryPolicy
	entries  map[string]*registration
	order    []string
	rrCursor int
	sink     *feedback.Sink
}

// New creates a Manager with no feedback sink attached; until
// WithFeedbackSink supplies one, per-provider outcomes and circuit-breaker
// trips are not recorded (e.g. in tests).
func New(cfg Config, retry resilience.RetryPolicy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger, retry: retry, entries: make(map[string]*registration)}
}

// WithFeedbackSink attaches a feedback.Sink that Dispatch/DispatchParallel
// and circuit breaker transitions report to, and returns the receiver.
// Breakers read the sink when a transition happens, so it may be attached
// before or after Register.
func (m *Manager) WithFeedbackSink(sink *feedback.Sink) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
	return m
}

// Register adds a provider under its Name().
func (m *Manager) Register(p provider.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var limiter *rate.Limiter
	if m.cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.RateLimitPerSecond), int(m.cfg.RateLimitPerSecond)+1)
	}

	breakerCfg := resilience.DefaultBreakerConfig()
	name := p.Name()
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		if to == resilience.StateOpen {
			m.mu.RLock()
			sink := m.sink
			m.mu.RUnlock()
			if sink != nil {
				sink.RecordCircuitBreakerTrip(name)
			}
		}
	}

	reg := &registration{
		p:       p,
		cb:      resilience.NewCircuitBreaker(breakerCfg, m.logger),
		limiter: limiter,
		window:  newWindow(m.cfg.WindowSize),
		healthy: true,
	}
	if _, exists := m.entries[p.Name()]; !exists {
		m.order = append(m.order, p.Name())
	}
	m.entries[p.Name()] = reg
}

// MarkUnhealthy flags a provider as unhealthy, excluding it from selection
// until a subsequent HealthCheck call succeeds.
func (m *Manager) MarkUnhealthy(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.entries[name]; ok {
		reg.healthy = false
	}
}

// RunHealthChecks probes every registered provider and updates its health
// flag. Intended to be called on HealthCheckInterval by the caller.
func (m *Manager) RunHealthChecks(ctx context.Context) {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.entries))
	for _, reg := range m.entries {
		regs = append(regs, reg)
	}
	m.mu.RUnlock()

	for _, reg := range regs {
		status, err := reg.p.HealthCheck(ctx)
		m.mu.Lock()
		reg.healthy = err == nil && status.Healthy
		m.mu.Unlock()
	}
}

// score combines the rolling window stats per the Balanced strategy:
// weighted success_rate, inverse latency, inverse cost.
func score(successRate float64, latency time.Duration, cost float64) float64 {
	latencyScore := 1.0 / (1.0 + latency.Seconds())
	costScore := 1.0 / (1.0 + cost)
	return 0.5*successRate + 0.3*latencyScore + 0.2*costScore
}

// candidates returns healthy providers ranked best-first for cfg.Strategy.
// When preferred names a registered, healthy provider, it is moved to the
// front of the ranked list so Dispatch/DispatchParallel try it first while
// still falling back to the strategy's ranking for the rest — this is how
// a caller's --provider <name> / provider_preference request is honored
// without disabling failover to other candidates.
func (m *Manager) candidates(preferred string) []*registration {
	ranked := m.rankedCandidates()
	return preferCandidate(ranked, preferred)
}

// preferCandidate reorders ranked so the registration matching preferred
// (if any) is first, preserving the relative order of everything else.
func preferCandidate(ranked []*registration, preferred string) []*registration {
	if preferred == "" || preferred == "auto" {
		return ranked
	}
	out := make([]*registration, 0, len(ranked))
	var match *registration
	for _, reg := range ranked {
		if reg.p.Name() == preferred {
			match = reg
			continue
		}
		out = append(out, reg)
	}
	if match == nil {
		return ranked
	}
	return append([]*registration{match}, out...)
}

func (m *Manager) rankedCandidates() []*registration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := make([]*registration, 0, len(m.order))
	for _, name := range m.order {
		if reg := m.entries[name]; reg.healthy {
			healthy = append(healthy, reg)
		}
	}

	switch m.cfg.Strategy {
	case Manual:
		for _, reg := range healthy {
			if reg.p.Name() == m.cfg.ManualProvider {
				return []*registration{reg}
			}
		}
		return nil
	case RoundRobin:
		if len(healthy) == 0 {
			return nil
		}
		start := m.rrCursor % len(healthy)
		m.rrCursor = (start + 1) % len(healthy)
		rotated := make([]*registration, 0, len(healthy))
		rotated = append(rotated, healthy[start:]...)
		rotated = append(rotated, healthy[:start]...)
		return rotated
	case MinimumLatency:
		sort.SliceStable(healthy, func(i, j int) bool {
			li, _, _ := healthy[i].window.snapshot()
			lj, _, _ := healthy[j].window.snapshot()
			return li < lj
		})
		return healthy
	case MinimumCost:
		sort.SliceStable(healthy, func(i, j int) bool {
			_, _, ci := healthy[i].window.snapshot()
			_, _, cj := healthy[j].window.snapshot()
			return ci < cj
		})
		return healthy
	case MaximumQuality:
		sort.SliceStable(healthy, func(i, j int) bool {
			_, si, _ := healthy[i].window.snapshot()
			_, sj, _ := healthy[j].window.snapshot()
			return si > sj
		})
		return healthy
	default: // Balanced
		sort.SliceStable(healthy, func(i, j int) bool {
			li, si, ci := healthy[i].window.snapshot()
			lj, sj, cj := healthy[j].window.snapshot()
			return score(si, li, ci) > score(sj, lj, cj)
		})
		return healthy
	}
}

// Dispatch selects a provider per the configured strategy and runs the
// query through its circuit breaker and the manager's retry policy. When
// preferred names a registered, healthy provider it is tried first,
// regardless of strategy ranking; "" or "auto" defer entirely to the
// strategy. On failure, when EnableFailover is set, it iterates the
// remaining ranked candidates up to MaxFailoverAttempts.
func (m *Manager) Dispatch(ctx context.Context, query string, preferred string) (answer string, usedProvider string, err error) {
	ctx, span := tracer.Start(ctx, "manager.Dispatch", trace.WithAttributes(
		attribute.String("provider.preferred", preferred),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("provider.used", usedProvider))
		}
		span.End()
	}()

	selectCtx := ctx
	if m.cfg.SelectionTimeout > 0 {
		var cancel context.CancelFunc
		selectCtx, cancel = context.WithTimeout(ctx, m.cfg.SelectionTimeout)
		defer cancel()
	}

	candidates := m.candidates(preferred)
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("manager: no healthy provider available")
	}
	_ = selectCtx

	attempts := 1
	if m.cfg.EnableFailover {
		attempts = m.cfg.MaxFailoverAttempts
		if attempts <= 0 {
			attempts = 1
		}
		if attempts > len(candidates) {
			attempts = len(candidates)
		}
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		reg := candidates[i]
		if reg.limiter != nil {
			if waitErr := reg.limiter.Wait(ctx); waitErr != nil {
				lastErr = waitErr
				continue
			}
		}

		start := time.Now()
		var result string
		callErr := resilience.Do(ctx, m.retry, m.logger, isRetryableProviderError, func(innerCtx context.Context) error {
			return reg.cb.Call(innerCtx, func(cbCtx context.Context) error {
				res, e := reg.p.ResearchQuery(cbCtx, query)
				if e != nil {
					return e
				}
				result = res
				return nil
			})
		})
		latency := time.Since(start)
		reg.window.record(latency, callErr == nil, 0)
		if m.sink != nil {
			m.sink.RecordProviderOutcome(reg.p.Name(), callErr == nil)
		}

		if callErr == nil {
			return result, reg.p.Name(), nil
		}
		lastErr = callErr
		m.logger.Warn("provider dispatch failed", zap.String("provider", reg.p.Name()), zap.Error(callErr))
	}

	return "", "", fmt.Errorf("manager: all candidates failed: %w", lastErr)
}

// Outcome is one provider's result from DispatchParallel.
type Outcome struct {
	Provider string
	Answer   string
	Err      error
}

// DispatchParallel sends query to up to n healthy providers concurrently,
// each through its own circuit breaker and the manager's retry policy. When
// preferred names a registered, healthy provider it is guaranteed one of
// the n slots (moved to the front before truncation). Used for
// cross-validation consensus in the research engine.
func (m *Manager) DispatchParallel(ctx context.Context, query string, n int, preferred string) []Outcome {
	candidates := m.candidates(preferred)
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	candidates = candidates[:n]

	results := make([]Outcome, len(candidates))
	var wg sync.WaitGroup
	for i, reg := range candidates {
		wg.Add(1)
		go func(i int, reg *registration) {
			defer wg.Done()
			start := time.Now()
			var answer string
			callErr := resilience.Do(ctx, m.retry, m.logger, isRetryableProviderError, func(innerCtx context.Context) error {
				return reg.cb.Call(innerCtx, func(cbCtx context.Context) error {
					res, e := reg.p.ResearchQuery(cbCtx, query)
					if e != nil {
						return e
					}
					answer = res
					return nil
				})
			})
			reg.window.record(time.Since(start), callErr == nil, 0)
			if m.sink != nil {
				m.sink.RecordProviderOutcome(reg.p.Name(), callErr == nil)
			}
			results[i] = Outcome{Provider: reg.p.Name(), Answer: answer, Err: callErr}
		}(i, reg)
	}
	wg.Wait()
	return results
}

func isRetryableProviderError(err error) bool {
	var perr *provider.Error
	if ok := asProviderError(err, &perr); ok {
		return perr.Retryable()
	}
	return true
}

func asProviderError(err error, target **provider.Error) bool {
	for err != nil {
		if pe, ok := err.(*provider.Error); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

