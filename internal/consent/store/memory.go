// Package store persists one consent record per (customer, channel).
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"patron/internal/consent/models"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
)

type key struct {
	customer id.CustomerID
	channel  models.Channel
}

type InMemory struct {
	mu       sync.RWMutex
	consents map[key]*models.Consent
}

func NewInMemory() *InMemory {
	return &InMemory{consents: map[key]*models.Consent{}}
}

// Update loads the record for (customer, channel), or a pending one, lets fn
// change it and saves the result atomically.
func (s *InMemory) Update(_ context.Context, customerID id.CustomerID, channel models.Channel, fn func(c *models.Consent)) (*models.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{customerID, channel}
	c := s.consents[k].Clone()
	if c == nil {
		c = models.NewPending(customerID, channel, time.Now())
	}
	fn(c)
	s.consents[k] = c.Clone()
	return c, nil
}

func (s *InMemory) Find(_ context.Context, customerID id.CustomerID, channel models.Channel) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[key{customerID, channel}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// ListByCustomer returns the customer's records ordered by channel.
func (s *InMemory) ListByCustomer(_ context.Context, customerID id.CustomerID) ([]*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Consent
	for k, c := range s.consents {
		if k.customer == customerID {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Consent) int {
		return strings.Compare(string(a.Channel), string(b.Channel))
	})
	return out, nil
}

// ListOptedIn returns the customers opted in on channel.
func (s *InMemory) ListOptedIn(_ context.Context, channel models.Channel) ([]id.CustomerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.CustomerID
	for k, c := range s.consents {
		if k.channel == channel && c.IsOptedIn() {
			out = append(out, k.customer)
		}
	}
	slices.SortFunc(out, func(a, b id.CustomerID) int {
		return strings.Compare(a.String(), b.String())
	})
	return out, nil
}
