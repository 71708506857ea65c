package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
	"github.com/example/motiondata/internal/stats"
)

// document is the on-disk layout: orders newest-first, customers keyed by email.
type document struct {
	Orders    []models.Order              `json:"orders"`
	Customers map[string]*models.Customer `json:"customers"`
}

// FileStore keeps every record in one JSON document. Writers hold the lock
// for the whole read-modify-write and replace the file atomically.
type FileStore struct {
	path  string
	mu    sync.RWMutex
	clock *createdClock
}

// NewFileStore opens the document at path, creating it (and its directory)
// when missing.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, clock: newCreatedClock(nil)}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) init() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return unavailable("init", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return unavailable("init", err)
		}
	}
	return s.save(&document{Orders: []models.Order{}, Customers: map[string]*models.Customer{}})
}

func (s *FileStore) load() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, unavailable("read", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, unavailable("decode", err)
	}
	if doc.Orders == nil {
		doc.Orders = []models.Order{}
	}
	if doc.Customers == nil {
		doc.Customers = map[string]*models.Customer{}
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".orders-*.json")
	if err != nil {
		return unavailable("write", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return unavailable("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return unavailable("write", err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("write", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return unavailable("write", err)
	}
	return nil
}

func (s *FileStore) snapshot(ctx context.Context) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

// mutate runs fn against a fresh copy of the document and persists the
// result unless fn fails.
func (s *FileStore) mutate(ctx context.Context, fn func(doc *document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func indexOf(orders []models.Order, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

// AddOrder prepends the order and folds it into its customer in the same write.
func (s *FileStore) AddOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	created := *order
	err := s.mutate(ctx, func(doc *document) error {
		if indexOf(doc.Orders, created.ID) >= 0 {
			return ErrDuplicateOrder
		}
		created.CreatedAt = s.clock.next()
		doc.Orders = append([]models.Order{created}, doc.Orders...)

		customer, ok := doc.Customers[created.Email]
		if !ok {
			c := models.NewCustomer(created)
			customer = &c
			doc.Customers[created.Email] = customer
		}
		customer.Record(created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetOrderByID returns the order with the given id.
func (s *FileStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(doc.Orders, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &doc.Orders[i], nil
}

// UpdateOrder shallow-merges patch into the stored order.
func (s *FileStore) UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	var updated models.Order
	err := s.mutate(ctx, func(doc *document) error {
		i := indexOf(doc.Orders, id)
		if i < 0 {
			return ErrNotFound
		}
		patch.Apply(&doc.Orders[i])
		updated = doc.Orders[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteOrder removes the order and reports whether it existed.
func (s *FileStore) DeleteOrder(ctx context.Context, id string) (bool, error) {
	err := s.mutate(ctx, func(doc *document) error {
		i := indexOf(doc.Orders, id)
		if i < 0 {
			return ErrNotFound
		}
		doc.Orders = append(doc.Orders[:i], doc.Orders[i+1:]...)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOrders returns the filtered page, newest first.
func (s *FileStore) GetOrders(ctx context.Context, f query.Filter) ([]models.Order, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return query.Apply(f, doc.Orders), nil
}

// GetOrdersCount counts matching orders, ignoring pagination.
func (s *FileStore) GetOrdersCount(ctx context.Context, f query.Filter) (int64, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return int64(query.Count(f, doc.Orders)), nil
}

// GetCustomers returns all customers, biggest spender first.
func (s *FileStore) GetCustomers(ctx context.Context) ([]models.Customer, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	customers := make([]models.Customer, 0, len(doc.Customers))
	for _, c := range doc.Customers {
		customers = append(customers, *c)
	}
	sortCustomers(customers)
	return customers, nil
}

// GetStats computes the dashboard summary as of now.
func (s *FileStore) GetStats(ctx context.Context, now time.Time) (*models.Stats, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	result := stats.Compute(doc.Orders, len(doc.Customers), now)
	return &result, nil
}

// GetTopPackages ranks the best-selling packages.
func (s *FileStore) GetTopPackages(ctx context.Context) ([]models.TopPackage, error) {
	doc, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return stats.TopPackages(doc.Orders, stats.TopPackagesLimit), nil
}

// Ping checks that the document is still readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := s.snapshot(ctx)
	return err
}

// Close is a no-op; the file is not held open between calls.
func (s *FileStore) Close() error {
	return nil
}
