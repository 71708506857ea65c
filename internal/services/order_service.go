package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
	"github.com/example/motiondata/internal/stats"
	"github.com/example/motiondata/internal/store"
)

// Notifier announces newly created orders.
type Notifier interface {
	NotifyNewOrder(order models.Order) error
}

// OrderPage is one page of the order listing.
type OrderPage struct {
	Orders     []models.Order `json:"orders"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	TotalPages int64          `json:"totalPages"`
}

// OrderService sits between the HTTP handlers and the record store. Writes
// propagate store failures; reads log them and degrade to empty results.
type OrderService struct {
	store    store.RecordStore
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
}

// NewOrderService constructs an OrderService. notifier may be nil.
func NewOrderService(s store.RecordStore, log *zap.Logger, notifier Notifier) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{store: s, log: log, notifier: notifier, now: time.Now}
}

func (s *OrderService) degraded(op string, err error) {
	s.log.Warn("store read degraded", zap.String("op", op), zap.Error(err))
}

// CreateOrder validates the payload, stores the order and, if configured,
// announces it in the background.
func (s *OrderService) CreateOrder(ctx context.Context, p Payload) (*models.Order, error) {
	order, err := OrderFromPayload(p, s.now())
	if err != nil {
		return nil, err
	}

	created, err := s.store.AddOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("network", created.Network),
		zap.Float64("amount", created.Amount),
	)

	if s.notifier != nil {
		announced := *created
		go func() {
			if err := s.notifier.NotifyNewOrder(announced); err != nil {
				s.log.Warn("order notification failed", zap.String("order_id", announced.ID), zap.Error(err))
			}
		}()
	}

	return created, nil
}

// GetOrder returns the order or store.ErrNotFound. An unavailable store
// reads as not found.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.degraded("get_order", err)
		}
		return nil, store.ErrNotFound
	}
	return order, nil
}

// ListOrders returns the requested page together with the filtered total.
func (s *OrderService) ListOrders(ctx context.Context, f query.Filter) OrderPage {
	orders, err := s.store.GetOrders(ctx, f)
	if err != nil {
		s.degraded("get_orders", err)
		orders = nil
	}
	if orders == nil {
		orders = []models.Order{}
	}

	total, err := s.store.GetOrdersCount(ctx, f)
	if err != nil {
		s.degraded("get_orders_count", err)
		total = 0
	}

	return OrderPage{
		Orders:     orders,
		Total:      total,
		Page:       f.Page,
		TotalPages: query.TotalPages(total, f.Limit),
	}
}

// Stats returns the dashboard rollups, or the empty-store rollups when the
// store cannot answer.
func (s *OrderService) Stats(ctx context.Context) models.Stats {
	now := s.now()
	result, err := s.store.GetStats(ctx, now)
	if err != nil {
		s.degraded("get_stats", err)
		return stats.Compute(nil, 0, now)
	}
	return *result
}

// Customers lists all customer aggregates.
func (s *OrderService) Customers(ctx context.Context) []models.Customer {
	customers, err := s.store.GetCustomers(ctx)
	if err != nil {
		s.degraded("get_customers", err)
		return []models.Customer{}
	}
	if customers == nil {
		return []models.Customer{}
	}
	return customers
}

// TopPackages ranks the best-selling packages.
func (s *OrderService) TopPackages(ctx context.Context) []models.TopPackage {
	packages, err := s.store.GetTopPackages(ctx)
	if err != nil {
		s.degraded("get_top_packages", err)
		return []models.TopPackage{}
	}
	if packages == nil {
		return []models.TopPackage{}
	}
	return packages
}

// UpdateOrder applies the updatable fields of p to the order.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, p Payload) (*models.Order, error) {
	patch, err := PatchFromPayload(p)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateOrder(ctx, id, patch)
}

// DeleteOrder removes the order and reports whether it existed.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteOrder(ctx, id)
}
