// Package replay stores consumed webhook nonces. Every recorder inserts
// atomically, so concurrent deliveries of one nonce record it exactly once.
package replay

import (
	"context"
	"slices"
	"sync"
	"time"

	"patron/pkg/platform/sentinel"
)

type entry struct {
	provider string
	at       time.Time
}

// InMemory keeps nonces in a map. Used in tests and single-process setups.
type InMemory struct {
	mu     sync.Mutex
	nonces map[string]entry
}

func NewInMemory() *InMemory {
	return &InMemory{nonces: map[string]entry{}}
}

func (s *InMemory) Record(_ context.Context, provider, nonce string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nonces[nonce]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.nonces[nonce] = entry{provider: provider, at: at}
	return nil
}

func (s *InMemory) Seen(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nonces[nonce]
	return ok, nil
}

// SeenAny returns the recorded subset of nonces, sorted.
func (s *InMemory) SeenAny(_ context.Context, nonces []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range nonces {
		if _, ok := s.nonces[n]; ok && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

// PurgeBefore deletes nonces recorded before cutoff.
func (s *InMemory) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.nonces {
		if e.at.Before(cutoff) {
			delete(s.nonces, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

// Forget releases a nonce so the provider's retry is processed again.
func (s *InMemory) Forget(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, nonce)
	return nil
}
