package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
	"github.com/example/motiondata/internal/stats"
)

// GormStore keeps orders and customers in SQL tables. It works against
// both postgres and sqlite.
type GormStore struct {
	db    *gorm.DB
	mu    sync.Mutex
	clock *createdClock
}

// NewGormStore wraps an open, migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, clock: newCreatedClock(nil)}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func filterScope(f query.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.StatusSet() {
			db = db.Where("LOWER(status) = ?", strings.ToLower(f.Status))
		}
		if f.NetworkSet() {
			db = db.Where("network = ?", f.Network)
		}
		if f.SearchSet() {
			like := "%" + likeEscaper.Replace(strings.ToLower(f.Search)) + "%"
			db = db.Where(
				`LOWER(id) LIKE ? ESCAPE '\' OR LOWER(customer) LIKE ? ESCAPE '\' OR LOWER(phone) LIKE ? ESCAPE '\' OR LOWER("package") LIKE ? ESCAPE '\'`,
				like, like, like, like,
			)
		}
		return db
	}
}

// AddOrder inserts the order and upserts its customer in one transaction.
func (s *GormStore) AddOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *order
	created.CreatedAt = s.clock.next()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Order{}).Where("id = ?", created.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateOrder
		}

		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		var customer models.Customer
		found := tx.Where("email = ?", created.Email).Limit(1).Find(&customer)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			customer = models.NewCustomer(created)
			customer.Record(created)
			return tx.Create(&customer).Error
		}

		customer.Record(created)
		return tx.Save(&customer).Error
	})
	if errors.Is(err, ErrDuplicateOrder) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("add order", err)
	}
	return &created, nil
}

// GetOrderByID returns the order with the given id.
func (s *GormStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get order", err)
	}
	return &order, nil
}

// UpdateOrder applies patch to the stored order.
func (s *GormStore) UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", id).Updates(patch.Fields()).Error; err != nil {
			return err
		}
		patch.Apply(&order)
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("update order", err)
	}
	return &order, nil
}

// DeleteOrder removes the order and reports whether it existed.
func (s *GormStore) DeleteOrder(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Order{})
	if res.Error != nil {
		return false, unavailable("delete order", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetOrders returns the filtered page, newest first.
func (s *GormStore) GetOrders(ctx context.Context, f query.Filter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{}).
		Scopes(filterScope(f)).
		Order("created_at DESC").
		Order("id DESC")
	if f.Limit > 0 {
		q = q.Offset(f.Offset()).Limit(f.Limit)
	}

	orders := []models.Order{}
	if err := q.Find(&orders).Error; err != nil {
		return nil, unavailable("list orders", err)
	}
	return orders, nil
}

// GetOrdersCount counts matching orders, ignoring pagination.
func (s *GormStore) GetOrdersCount(ctx context.Context, f query.Filter) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Scopes(filterScope(f)).
		Count(&total).Error; err != nil {
		return 0, unavailable("count orders", err)
	}
	return total, nil
}

// GetCustomers returns all customers, biggest spender first.
func (s *GormStore) GetCustomers(ctx context.Context) ([]models.Customer, error) {
	customers := []models.Customer{}
	if err := s.db.WithContext(ctx).
		Order("total_spent DESC").
		Order("email ASC").
		Find(&customers).Error; err != nil {
		return nil, unavailable("list customers", err)
	}
	return customers, nil
}

type windowTotals struct {
	Orders  int64
	Revenue float64
}

func (s *GormStore) totals(db *gorm.DB) (windowTotals, error) {
	var t windowTotals
	err := db.Model(&models.Order{}).
		Select("COUNT(*) AS orders, COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS revenue", models.StatusCompleted).
		Scan(&t).Error
	return t, err
}

// GetStats computes the dashboard summary as of now.
func (s *GormStore) GetStats(ctx context.Context, now time.Time) (*models.Stats, error) {
	db := s.db.WithContext(ctx)

	var result *models.Stats
	err := db.Transaction(func(tx *gorm.DB) error {
		all, err := s.totals(tx)
		if err != nil {
			return err
		}

		var completed int64
		if err := tx.Model(&models.Order{}).Where("status = ?", models.StatusCompleted).Count(&completed).Error; err != nil {
			return err
		}

		var customers int64
		if err := tx.Model(&models.Customer{}).Count(&customers).Error; err != nil {
			return err
		}

		nowMs := now.UnixMilli()
		windowMs := stats.Window.Milliseconds()
		recent, err := s.totals(tx.Where(`"timestamp" > ?`, nowMs-windowMs))
		if err != nil {
			return err
		}
		previous, err := s.totals(tx.Where(`"timestamp" <= ? AND "timestamp" > ?`, nowMs-windowMs, nowMs-2*windowMs))
		if err != nil {
			return err
		}

		result = &models.Stats{
			TotalOrders:    int(all.Orders),
			TotalRevenue:   all.Revenue,
			TotalCustomers: int(customers),
			SuccessRate:    stats.SuccessRate(int(completed), int(all.Orders)),
			OrdersGrowth:   stats.Growth(decimal.NewFromInt(recent.Orders), decimal.NewFromInt(previous.Orders)),
			RevenueGrowth:  stats.Growth(decimal.NewFromFloat(recent.Revenue), decimal.NewFromFloat(previous.Revenue)),
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("stats", err)
	}
	return result, nil
}

// GetTopPackages ranks the best-selling packages.
func (s *GormStore) GetTopPackages(ctx context.Context) ([]models.TopPackage, error) {
	ranked := []models.TopPackage{}
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select(`"package" AS name, network, COUNT(*) AS sales, COALESCE(SUM(amount), 0) AS revenue`).
		Where("status = ?", models.StatusCompleted).
		Group(`network, "package"`).
		Order("sales DESC, revenue DESC, network ASC, name ASC").
		Limit(stats.TopPackagesLimit).
		Scan(&ranked).Error; err != nil {
		return nil, unavailable("top packages", err)
	}
	return ranked, nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
