// Package keystore is the secure-key collaborator: an opaque key/value store
// for provider API keys addressed by slot name ("openai-api-key").
//
// The correction core only reads keys by name. How keys are protected at
// rest is up to the [Store] implementation; [MemStore] keeps them in process
// memory and is seeded from configuration and the environment.
package keystore

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/MrWong99/correctify/internal/catalog"
)

// ErrNotFound is returned by [Store.Get] when no value exists for a name.
var ErrNotFound = errors.New("keystore: key not found")

// Store is the secure-key contract.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// MemStore keeps keys in memory. The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemStore returns a [MemStore] holding a copy of seed.
func NewMemStore(seed map[string]string) *MemStore {
	m := &MemStore{keys: make(map[string]string, len(seed))}
	for k, v := range seed {
		if strings.TrimSpace(v) != "" {
			m.keys[k] = v
		}
	}
	return m
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.keys[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements [Store]. Setting a blank value deletes the key.
func (m *MemStore) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(value) == "" {
		delete(m.keys, name)
		return nil
	}
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	m.keys[name] = value
	return nil
}

// Delete implements [Store]. Deleting a missing key is not an error.
func (m *MemStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, name)
	return nil
}

// Prefix is the namespace used by the desktop host's secure storage.
const Prefix = "correctify_"

// Prefixed namespaces every name with a fixed prefix before delegating.
type Prefixed struct {
	Prefix string
	Store  Store
}

// Get implements [Store].
func (p Prefixed) Get(ctx context.Context, name string) (string, error) {
	return p.Store.Get(ctx, p.Prefix+name)
}

// Set implements [Store].
func (p Prefixed) Set(ctx context.Context, name, value string) error {
	return p.Store.Set(ctx, p.Prefix+name, value)
}

// Delete implements [Store].
func (p Prefixed) Delete(ctx context.Context, name string) error {
	return p.Store.Delete(ctx, p.Prefix+name)
}

// Lookup returns the non-blank key for provider. ok is false when the key is
// absent or blank. Errors other than [ErrNotFound] are returned.
func Lookup(ctx context.Context, s Store, provider catalog.ProviderID) (key string, ok bool, err error) {
	v, err := s.Get(ctx, provider.KeyName())
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v = strings.TrimSpace(v)
	return v, v != "", nil
}

// Presence reports for each provider whether a usable key is stored.
// Lookup errors count as absent.
func Presence(ctx context.Context, s Store) map[catalog.ProviderID]bool {
	out := make(map[catalog.ProviderID]bool, len(catalog.Providers()))
	for _, p := range catalog.Providers() {
		_, ok, err := Lookup(ctx, s, p)
		out[p] = ok && err == nil
	}
	return out
}

// EnvSeed returns keys found in {PROVIDER}_API_KEY environment variables,
// keyed by slot name. getenv defaults to [os.Getenv].
func EnvSeed(getenv func(string) string) map[string]string {
	if getenv == nil {
		getenv = os.Getenv
	}
	out := make(map[string]string)
	for _, p := range catalog.Providers() {
		if v := strings.TrimSpace(getenv(strings.ToUpper(string(p)) + "_API_KEY")); v != "" {
			out[p.KeyName()] = v
		}
	}
	return out
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = Prefixed{}
)
