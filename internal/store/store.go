// Package store persists orders and the customer aggregates derived from them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
)

var (
	// ErrNotFound is returned when no order has the requested id.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when an order id is already taken.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrUnavailable wraps failures of the backing store itself.
	ErrUnavailable = errors.New("store unavailable")
)

// RecordStore is implemented by every backing store. Mutations are
// serialized by the implementation; reads see a consistent snapshot.
//
// UpdateOrder and DeleteOrder never touch customer aggregates.
type RecordStore interface {
	AddOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error)
	DeleteOrder(ctx context.Context, id string) (bool, error)
	GetOrders(ctx context.Context, f query.Filter) ([]models.Order, error)
	GetOrdersCount(ctx context.Context, f query.Filter) (int64, error)
	GetCustomers(ctx context.Context) ([]models.Customer, error)
	GetStats(ctx context.Context, now time.Time) (*models.Stats, error)
	GetTopPackages(ctx context.Context) ([]models.TopPackage, error)
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %w", op, ErrUnavailable, err)
}

// sortCustomers orders customers by total spent, biggest first.
func sortCustomers(customers []models.Customer) {
	sort.SliceStable(customers, func(i, j int) bool {
		if customers[i].TotalSpent != customers[j].TotalSpent {
			return customers[i].TotalSpent > customers[j].TotalSpent
		}
		return customers[i].Email < customers[j].Email
	})
}

// createdClock hands out strictly increasing creation times at microsecond
// precision, so that created_at alone keeps newest-first ordering stable.
type createdClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newCreatedClock(now func() time.Time) *createdClock {
	if now == nil {
		now = time.Now
	}
	return &createdClock{now: now}
}

func (c *createdClock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
