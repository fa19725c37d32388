package providers

import (
	"fmt"
	"sort"

	"slidecast/internal/domain"
)

// Registry selects adapters by provider type.
type Registry struct {
	adapters map[domain.ProviderType]Adapter
}

// NewRegistry indexes adapters by their Type. Later duplicates win.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderType]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Type()] = a
		}
	}
	return r
}

func (r *Registry) Get(provider domain.ProviderType) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[provider]; ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
}

// Types lists the registered provider types in stable order.
func (r *Registry) Types() []domain.ProviderType {
	if r == nil {
		return nil
	}
	out := make([]domain.ProviderType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
