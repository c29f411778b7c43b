package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// FailureInjector synthesizes failures for chaos/resilience testing. It is
// disabled by default and must be explicitly enabled per component.
type FailureInjector struct {
	mu           sync.RWMutex
	enabled      bool
	probabilities map[string]float64 // component -> [0,1]
	rng          *rand.Rand
}

// NewFailureInjector returns a disabled injector.
func NewFailureInjector() *FailureInjector {
	return &FailureInjector{
		probabilities: make(map[string]float64),
		rng:           rand.New(rand.NewSource(1)),
	}
}

// Enable turns failure injection on.
func (f *FailureInjector) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
}

// Disable turns failure injection off.
func (f *FailureInjector) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
}

// SetProbability configures the failure rate in [0,1] for a named component.
func (f *FailureInjector) SetProbability(component string, p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probabilities[component] = p
}

// MaybeFail consults the configured probability for component and, if the
// injector is enabled, returns a synthetic OperationFailed-shaped error
// before the real operation is invoked.
func (f *FailureInjector) MaybeFail(_ context.Context, component string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.enabled {
		return nil
	}
	p := f.probabilities[component]
	if p <= 0 {
		return nil
	}
	if f.rng.Float64() < p {
		return fmt.Errorf("injected failure for component %q", component)
	}
	return nil
}
