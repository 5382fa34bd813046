package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sony/gobreaker/v2"
)

// ProviderHealth represents the health status of a provider.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string

	// Throttled counts requests the provider refused with 429.
	Throttled uint64
}

// IsHealthy returns true if the provider is considered healthy.
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the provider is in a degraded state (half-open).
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the provider is unhealthy (circuit open).
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks provider clients and the outcome of their last requests.
// It implements Observer so it can be attached to a ClientConfig directly.
type Registry struct {
	mu        sync.RWMutex
	clock     clock.Clock
	providers map[string]*registeredProvider
}

type registeredProvider struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
	throttled     uint64
}

// NewRegistry creates a new provider registry. A nil clock uses the real one.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Registry{
		clock:     clk,
		providers: make(map[string]*registeredProvider),
	}
}

// Register adds a provider client to the registry under its name.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[client.Name()] = &registeredProvider{client: client}
}

// RecordRequest implements Observer.
func (r *Registry) RecordRequest(provider, _ string, _ time.Duration, err error) {
	if err == nil {
		r.RecordSuccess(provider)
		return
	}
	r.RecordFailure(provider, err)
}

// RecordSuccess records a successful request for a provider.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		now := r.clock.Now()
		p.lastSuccessAt = &now
	}
}

// RecordFailure records a failed request for a provider.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return
	}
	now := r.clock.Now()
	p.lastFailureAt = &now
	if err != nil {
		p.lastError = err.Error()
		if errors.Is(err, ErrThrottled) {
			p.throttled++
		}
	}
}

// GetHealth returns the health status of a specific provider, or nil.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil
	}
	return p.health(name)
}

// GetAllHealth returns the health status of all providers, sorted by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*ProviderHealth, 0, len(r.providers))
	for name, p := range r.providers {
		health = append(health, p.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

func (p *registeredProvider) health(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  p.client.CircuitBreakerState(),
		Counts:        p.client.CircuitBreakerCounts(),
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
		Throttled:     p.throttled,
	}
}

// Observers fans a request outcome out to several observers.
type Observers []Observer

// RecordRequest implements Observer.
func (o Observers) RecordRequest(provider, operation string, duration time.Duration, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.RecordRequest(provider, operation, duration, err)
		}
	}
}
