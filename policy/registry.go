package policy

import (
	"errors"
	"sync"
)

const maxCapabilities = 64

// Registry maps algorithm names to bit positions. Bits are assigned in
// registration order and never change once the registry is frozen.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry registers names in order and freezes the result.
func NewRegistry(names ...string) (*Registry, error) {
	r := &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
	for _, n := range names {
		if _, err := r.Register(n); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register assigns the next available bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if name == "" {
		return -1, errors.New("capability name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("capability already registered: " + name)
	}

	next := len(r.nameToBit)
	if next >= maxCapabilities {
		return -1, errors.New("capability limit exceeded")
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Bit returns the bit for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the name assigned to bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Compile builds a set from names. Unknown names are an error.
func (r *Registry) Compile(names []string) (CapabilitySet, error) {
	var set CapabilitySet
	for _, n := range names {
		bit, ok := r.Bit(n)
		if !ok {
			return 0, &UnknownAlgorithmError{Name: n}
		}
		set.Set(bit)
	}
	return set, nil
}

// Names lists the members of set in bit order.
func (r *Registry) Names(set CapabilitySet) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, set.Count())
	for bit := 0; bit < len(r.bitToName); bit++ {
		if set.Has(bit) {
			out = append(out, r.bitToName[bit])
		}
	}
	return out
}
