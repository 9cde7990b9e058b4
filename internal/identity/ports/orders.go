// Package ports declares collaborators the registry consumes but does not
// implement.
package ports

import (
	"context"
	"time"
)

// OrderSummary is one order as reported by the order backend. Amounts are
// in minor currency units.
type OrderSummary struct {
	Ref        string
	Channel    string
	OrderedAt  time.Time
	Total      int64
	ItemsCount int
	Status     string
}

// OrderStats aggregates a customer's order history. FirstOrderAt and
// LastOrderAt are zero when the customer has no orders.
type OrderStats struct {
	TotalOrders  int
	TotalSpent   int64
	AverageOrder int64
	FirstOrderAt time.Time
	LastOrderAt  time.Time
}

// OrderHistory exposes per-customer order aggregates to analytics consumers
// outside the registry.
type OrderHistory interface {
	// RecentOrders returns at most limit orders, most recent first.
	RecentOrders(ctx context.Context, customerCode string, limit int) ([]OrderSummary, error)
	Stats(ctx context.Context, customerCode string) (OrderStats, error)
}
