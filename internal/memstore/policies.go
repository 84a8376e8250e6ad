package memstore

import (
	"context"
	"sync"

	"github.com/joaovsf/fitbook/internal/model"
)

// PolicySource serves a fixed policy from memory.  Tests and
// development runs swap versions with Set.
type PolicySource struct {
	mu     sync.RWMutex
	active model.Policy
}

// NewPolicySource returns a source answering with p.
func NewPolicySource(p model.Policy) *PolicySource {
	return &PolicySource{active: p}
}

// ActivePolicy returns the current policy.
func (s *PolicySource) ActivePolicy(ctx context.Context) (model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

// Set replaces the active policy.
func (s *PolicySource) Set(p model.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = p
}
