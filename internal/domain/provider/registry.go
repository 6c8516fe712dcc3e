package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider codes to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Codes are case-insensitive and may be registered once.
func (r *Registry) Register(a Adapter) error {
	code := normalizeCode(a.Code())
	if code == "" {
		return fmt.Errorf("adapter has an empty provider code")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[code]; exists {
		return fmt.Errorf("adapter already registered for provider %s", code)
	}
	r.adapters[code] = a
	return nil
}

// Get returns the adapter for code or an error wrapping ErrUnknownProvider.
func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[normalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, code)
	}
	return a, nil
}

// Has reports whether code has an adapter.
func (r *Registry) Has(code string) bool {
	_, err := r.Get(code)
	return err == nil
}

// Codes lists registered provider codes in order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
