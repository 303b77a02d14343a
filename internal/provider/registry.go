package provider

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/forgecore/forge/internal/core"
	. "github.com/forgecore/forge/internal/logging"
)

// cooldown tracks a provider's backoff state after a failover-triggering
// error, grounded on the teacher's providerCooldown (internal/llm.Registry).
type cooldown struct {
	until      time.Time
	errorCount int
	reason     ErrorType
}

// Registry resolves a core.ProviderId to a live Client, and implements
// the failover chain across core.ProviderPriority the spec's Provider
// Registry component requires: skip providers in cooldown, and on a
// failover-worthy error mark the failed provider in cooldown and try the
// next one in priority order.
type Registry struct {
	mu        sync.RWMutex
	clients   map[core.ProviderId]Client
	cooldowns map[core.ProviderId]*cooldown
}

func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[core.ProviderId]Client),
		cooldowns: make(map[core.ProviderId]*cooldown),
	}
}

// Register wires a concrete Client under id. Call once per configured
// provider at startup.
func (r *Registry) Register(id core.ProviderId, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = client
}

// Get returns the Client for id, or ErrProviderFatal if none is
// registered.
func (r *Registry) Get(id core.ProviderId) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, core.NewError(core.ErrProviderFatal, fmt.Sprintf("no provider registered for %q", id), nil)
	}
	return c, nil
}

// InCooldown reports whether id is currently sitting out a backoff
// window after a prior failover-worthy error.
func (r *Registry) InCooldown(id core.ProviderId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cd := r.cooldowns[id]
	return cd != nil && time.Now().Before(cd.until)
}

// MarkCooldown puts id into an exponentially growing cooldown window.
// Billing errors (quota exhausted) get a longer floor than transient
// rate-limit/overload errors since they rarely clear within seconds.
func (r *Registry) MarkCooldown(id core.ProviderId, errType ErrorType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cd := r.cooldowns[id]
	if cd == nil {
		cd = &cooldown{}
		r.cooldowns[id] = cd
	}
	cd.errorCount++
	cd.reason = errType
	cd.until = time.Now().Add(cooldownDuration(cd.errorCount, errType == ErrorTypeBilling))
	L_warn("provider registry: cooldown", "provider", id, "reason", errType, "errorCount", cd.errorCount, "until", cd.until)
}

// ClearCooldown removes id's cooldown state, e.g. after a manual reset.
func (r *Registry) ClearCooldown(id core.ProviderId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldowns, id)
}

func cooldownDuration(errorCount int, billing bool) time.Duration {
	base := 5 * time.Second
	if billing {
		base = 5 * time.Minute
	}
	factor := math.Pow(2, float64(errorCount-1))
	d := time.Duration(float64(base) * factor)
	cap := 10 * time.Minute
	if billing {
		cap = 6 * time.Hour
	}
	if d > cap {
		d = cap
	}
	return d
}

// ChatWithFailover resolves preferred (or, if empty, walks
// core.ProviderPriority) to a live, non-cooldown Client and opens a
// Chat stream, failing over to the next priority provider when
// ClassifyError(err) is failover-worthy (spec.md §4.2).
func (r *Registry) ChatWithFailover(goCtx context.Context, preferred core.ProviderId, model core.ModelId, convCtx core.Context, tools []core.ToolDefinition, opts ChatOptions) (<-chan ChatEvent, core.ProviderId, error) {
	order := r.candidateOrder(preferred)
	var lastErr error
	for _, id := range order {
		if r.InCooldown(id) {
			continue
		}
		client, err := r.Get(id)
		if err != nil {
			lastErr = err
			continue
		}
		events, err := client.Chat(goCtx, model, convCtx, tools, opts)
		if err == nil {
			return events, id, nil
		}
		errType := ClassifyError(err.Error())
		if IsFailoverError(errType) {
			r.MarkCooldown(id, errType)
			lastErr = err
			continue
		}
		return nil, id, err
	}
	if lastErr == nil {
		lastErr = core.NewError(core.ErrProviderFatal, "no provider available", nil)
	}
	return nil, "", lastErr
}

func (r *Registry) candidateOrder(preferred core.ProviderId) []core.ProviderId {
	if preferred == "" {
		return core.ProviderPriority
	}
	order := []core.ProviderId{preferred}
	for _, id := range core.ProviderPriority {
		if id != preferred {
			order = append(order, id)
		}
	}
	return order
}
