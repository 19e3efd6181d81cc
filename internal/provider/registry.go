// Package provider holds the pool of upstream RPC endpoints, scores them,
// and tracks their health across forwarded calls.
package provider

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Tier string

const (
	TierPremium   Tier = "premium"
	TierPublic    Tier = "public"
	TierCommunity Tier = "community"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// maxFailures is the largest consecutive-failure count at which a provider
// is still selectable; one more excludes it until a success resets the
// counter.
const maxFailures = 3

const probeTimeout = 5 * time.Second

// FeatureHistorical marks providers able to serve deep-archive queries.
const FeatureHistorical = "historical"

// historicalMethods are the JSON-RPC methods that require an archive-capable
// provider.
var historicalMethods = map[string]bool{
	"getBlock":                true,
	"getTransaction":          true,
	"getSignaturesForAddress": true,
}

// RequiresHistorical reports whether the method needs archive data.
func RequiresHistorical(method string) bool { return historicalMethods[method] }

// Provider is one upstream RPC endpoint and its stated characteristics.
type Provider struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	Tier            Tier     `json:"tier"`
	PriceMultiplier float64  `json:"priceMultiplier"`
	Reputation      float64  `json:"reputation"` // 0–100
	Uptime          float64  `json:"uptime"`     // 0–100
	LatencyMs       float64  `json:"latencyMs"`
	Features        []string `json:"features"`
}

func (p Provider) hasFeature(f string) bool {
	for _, have := range p.Features {
		if have == f {
			return true
		}
	}
	return false
}

// Health is the registry-tracked state of one provider.
type Health struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Registry is an append-only provider list plus a health side-map. Reads far
// dominate writes; everything is serialised behind one RWMutex so in-flight
// selection never sees a partial record.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	health    map[string]*Health
	probe     *http.Client
	log       *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		health: make(map[string]*Health),
		probe:  &http.Client{Timeout: probeTimeout},
		log:    log,
	}
}

// Add appends a provider at runtime. It enters the pool immediately with
// status unknown.
func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.health[p.ID] = &Health{Status: StatusUnknown}
	r.log.Info("provider added",
		zap.String("id", p.ID),
		zap.String("url", p.URL),
		zap.String("tier", string(p.Tier)),
	)
}

// Select picks the best provider for the method. Healthy candidates are
// scored with the balanced formula, or the cheapest formula when
// preferCheapest is set; ties go to the earliest-registered provider.
func (r *Registry) Select(method string, preferCheapest bool) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requireHistorical := RequiresHistorical(method)

	candidates := r.filter(true, requireHistorical)
	if len(candidates) == 0 {
		// Degraded: no healthy provider matches. Relax the health filter
		// first while keeping the historical filter; fall back to the full
		// list only if that is still empty, rather than refusing outright.
		r.log.Warn("no healthy providers, selection degraded", zap.String("method", method))
		candidates = r.filter(false, requireHistorical)
		if len(candidates) == 0 {
			candidates = r.filter(false, false)
		}
	}
	if len(candidates) == 0 {
		return Provider{}, false
	}

	best := candidates[0]
	bestScore := score(best, preferCheapest)
	for _, p := range candidates[1:] {
		if s := score(p, preferCheapest); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best, true
}

// filter returns providers in insertion order, optionally applying the
// health and historical-feature filters.
func (r *Registry) filter(healthyOnly, requireHistorical bool) []Provider {
	var out []Provider
	for _, p := range r.providers {
		if requireHistorical && !p.hasFeature(FeatureHistorical) {
			continue
		}
		if healthyOnly {
			if h := r.health[p.ID]; h != nil && h.ConsecutiveFailures > maxFailures {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func score(p Provider, preferCheapest bool) float64 {
	if preferCheapest {
		return (1-p.PriceMultiplier)*0.5 + p.Reputation*0.3 + p.Uptime*0.2
	}
	return p.Reputation*0.4 + p.Uptime*0.3 + (1-p.PriceMultiplier)*0.2 + (1-p.LatencyMs/500)*0.1
}

// All returns the providers in registry insertion order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ReportSuccess resets the failure counter after a forwarded call succeeds.
func (r *Registry) ReportSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[id]; ok {
		h.Status = StatusHealthy
		h.ConsecutiveFailures = 0
		h.LastCheck = time.Now()
	}
}

// ReportFailure records a failed forwarded call.
func (r *Registry) ReportFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[id]; ok {
		h.Status = StatusUnhealthy
		h.ConsecutiveFailures++
		h.LastCheck = time.Now()
	}
}

// HealthOf returns a copy of the provider's tracked health.
func (r *Registry) HealthOf(id string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[id]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// Probe posts a trivial getHealth call to the provider and updates its
// tracked status.
func (r *Registry) Probe(ctx context.Context, id string) error {
	var target string
	r.mu.RLock()
	for _, p := range r.providers {
		if p.ID == id {
			target = p.URL
			break
		}
	}
	r.mu.RUnlock()
	if target == "" {
		return nil
	}

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		r.ReportFailure(id)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.probe.Do(req)
	if err != nil {
		r.ReportFailure(id)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.ReportFailure(id)
		return nil
	}
	r.ReportSuccess(id)
	return nil
}

// ProviderStatus pairs a provider with its health for the stats endpoint.
type ProviderStatus struct {
	Provider Provider `json:"provider"`
	Health   Health   `json:"health"`
}

// Snapshot returns every provider with its current health.
func (r *Registry) Snapshot() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		s := ProviderStatus{Provider: p}
		if h := r.health[p.ID]; h != nil {
			s.Health = *h
		}
		out = append(out, s)
	}
	return out
}
