package adapter

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry stores available adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from adapters.
func NewRegistry(items ...Adapter) *Registry {
	reg := &Registry{adapters: map[string]Adapter{}}
	for _, item := range items {
		if item == nil {
			continue
		}
		reg.adapters[item.Name()] = item
	}
	return reg
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns sorted adapter names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAll probes every adapter concurrently. The first internal fault cancels the rest.
func (r *Registry) CheckAll(ctx context.Context) (map[string]Availability, error) {
	var mu sync.Mutex
	out := make(map[string]Availability, len(r.adapters))
	g, gctx := errgroup.WithContext(ctx)
	for name, a := range r.adapters {
		g.Go(func() error {
			res, err := a.CheckAvailability(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
