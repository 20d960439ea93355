package resilience

import "sync"

// Set lazily creates one [Breaker] per name from a shared template config.
type Set struct {
	template Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet returns an empty [Set]. template.Name is ignored; each breaker is
// named after its key.
func NewSet(template Config) *Set {
	return &Set{template: template, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		cfg := s.template
		cfg.Name = name
		b = New(cfg)
		s.breakers[name] = b
	}
	return b
}

// Execute runs fn through the breaker for name.
func (s *Set) Execute(name string, fn func() error) error {
	return s.Get(name).Execute(fn)
}

// States returns a snapshot of every breaker's state keyed by name.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for n, b := range s.breakers {
		out[n] = b.State()
	}
	return out
}
