package exchange

import "fmt"

// Registry maps exchange_id to a concrete Adapter, built once at process
// start from RuntimeConfig. Generalized from the teacher's per-venue
// multi-client pattern (internal/binance/multi_client.go,
// internal/chainlink/multi_client.go) which keyed clients by account/chain
// rather than by exchange_id, but follows the same "map of named clients"
// shape.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from a set of adapters, keyed by their own
// ID().
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

// Get looks up an adapter by exchange_id.
func (r *Registry) Get(exchangeID string) (Adapter, bool) {
	a, ok := r.adapters[exchangeID]
	return a, ok
}

// IDs returns every registered exchange_id.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}

// MustGet panics if exchangeID is not registered; only safe for use at
// startup wiring, never inside per-order request handling.
func (r *Registry) MustGet(exchangeID string) Adapter {
	a, ok := r.Get(exchangeID)
	if !ok {
		panic(fmt.Sprintf("exchange %q not registered", exchangeID))
	}
	return a
}
