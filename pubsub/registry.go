package pubsub

import (
	"fmt"
	"sort"
	"sync"
)

// Backend is a build-time plugin that can open a Publisher.
//
// Backends register themselves in init():
//
//	pubsub.MustRegister(pubsub.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string

	// Open constructs the publisher from backend-specific string settings.
	Open func(cfg map[string]string) (Publisher, error)
}

// BackendConfig selects one registered backend and its settings.
//
// Example:
//
//	{"name":"nats", "config":{"url":"nats://127.0.0.1:4222"}}
type BackendConfig struct {
	Name string `json:"name"`
	// ID is an optional alias used in logs; Name is used when empty.
	ID     string            `json:"id,omitempty"`
	Config map[string]string `json:"config,omitempty"`
}

// Label returns ID, or Name when ID is empty.
func (b BackendConfig) Label() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("pubsub: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("pubsub: backend %q missing Open", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("pubsub: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns registered backends sorted by name.
func List() []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered backend names, sorted.
func Names() []string {
	bs := List()
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens the named backend.
func Open(name string, cfg map[string]string) (Publisher, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown publish backend %q", name)
	}
	if cfg == nil {
		cfg = map[string]string{}
	}
	return b.Open(cfg)
}

// ValidateConfigs checks backend configs for empty names and duplicate labels.
func ValidateConfigs(cfgs []BackendConfig) error {
	seen := make(map[string]struct{}, len(cfgs))
	for _, b := range cfgs {
		if b.Name == "" {
			return fmt.Errorf("pubsub: backend name is required")
		}
		label := b.Label()
		if _, ok := seen[label]; ok {
			return fmt.Errorf("pubsub: duplicate backend id %q", label)
		}
		seen[label] = struct{}{}
	}
	return nil
}

// OpenAll opens every configured backend in order. If any backend fails to
// open, the ones already opened are closed again.
func OpenAll(cfgs []BackendConfig) ([]Named, error) {
	if err := ValidateConfigs(cfgs); err != nil {
		return nil, err
	}
	out := make([]Named, 0, len(cfgs))
	for _, b := range cfgs {
		p, err := Open(b.Name, b.Config)
		if err != nil {
			for i := len(out) - 1; i >= 0; i-- {
				_ = out[i].Publisher.Close()
			}
			return nil, fmt.Errorf("open publish backend %q: %w", b.Label(), err)
		}
		out = append(out, Named{Name: b.Label(), Publisher: p})
	}
	return out, nil
}
