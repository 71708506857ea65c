package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
)

var contractNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrder(id, email string, amount float64) *models.Order {
	return &models.Order{
		ID:        id,
		Reference: id,
		Date:      contractNow.Format(time.RFC3339),
		Timestamp: contractNow.Add(-time.Hour).UnixMilli(),
		Customer:  "cust-" + id,
		Email:     email,
		Phone:     "024" + id,
		Network:   "MTN",
		Package:   "1GB",
		Amount:    amount,
		Status:    models.StatusCompleted,
	}
}

func orderIDs(orders []models.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

// runContract exercises the behaviour every RecordStore must share.
func runContract(t *testing.T, open func(t *testing.T) RecordStore) {
	ctx := context.Background()

	t.Run("add then get", func(t *testing.T) {
		s := open(t)
		in := newOrder("A1", "ama@example.com", 12.5)

		created, err := s.AddOrder(ctx, in)
		require.NoError(t, err)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := s.GetOrderByID(ctx, "A1")
		require.NoError(t, err)

		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		got.CreatedAt = time.Time{}
		assert.Equal(t, *in, *got)
	})

	t.Run("missing order", func(t *testing.T) {
		s := open(t)
		_, err := s.GetOrderByID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := open(t)
		_, err := s.AddOrder(ctx, newOrder("D1", "a@example.com", 1))
		require.NoError(t, err)
		_, err = s.AddOrder(ctx, newOrder("D1", "a@example.com", 1))
		assert.ErrorIs(t, err, ErrDuplicateOrder)

		customers, err := s.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, customers, 1)
		assert.Equal(t, 1, customers[0].TotalOrders)
	})

	t.Run("newest first", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"N1", "N2", "N3"} {
			_, err := s.AddOrder(ctx, newOrder(id, "n@example.com", 1))
			require.NoError(t, err)
		}

		orders, err := s.GetOrders(ctx, query.Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"N3", "N2", "N1"}, orderIDs(orders))

		again, err := s.GetOrders(ctx, query.Filter{})
		require.NoError(t, err)
		assert.Equal(t, orderIDs(orders), orderIDs(again))
	})

	t.Run("customer upsert", func(t *testing.T) {
		s := open(t)
		_, err := s.AddOrder(ctx, newOrder("C1", "kofi@example.com", 10))
		require.NoError(t, err)
		second := newOrder("C2", "kofi@example.com", 15)
		second.Phone = "0209999999"
		_, err = s.AddOrder(ctx, second)
		require.NoError(t, err)
		_, err = s.AddOrder(ctx, newOrder("C3", "esi@example.com", 100))
		require.NoError(t, err)

		customers, err := s.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, customers, 2)

		assert.Equal(t, "esi@example.com", customers[0].Email, "sorted by total spent")
		kofi := customers[1]
		assert.Equal(t, "kofi@example.com", kofi.Email)
		assert.Equal(t, 2, kofi.TotalOrders)
		assert.Equal(t, 25.0, kofi.TotalSpent)
		assert.Equal(t, "0209999999", kofi.Phone)
	})

	t.Run("update and delete leave customers alone", func(t *testing.T) {
		s := open(t)
		_, err := s.AddOrder(ctx, newOrder("U1", "yaw@example.com", 20))
		require.NoError(t, err)
		_, err = s.AddOrder(ctx, newOrder("U2", "yaw@example.com", 30))
		require.NoError(t, err)

		status := "cancelled"
		amount := 5.0
		updated, err := s.UpdateOrder(ctx, "U1", models.OrderPatch{Status: &status, Amount: &amount})
		require.NoError(t, err)
		assert.Equal(t, "cancelled", updated.Status)
		assert.Equal(t, 5.0, updated.Amount)
		assert.Equal(t, "yaw@example.com", updated.Email)

		got, err := s.GetOrderByID(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "cancelled", got.Status)

		deleted, err := s.DeleteOrder(ctx, "U2")
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = s.GetOrderByID(ctx, "U2")
		assert.ErrorIs(t, err, ErrNotFound)

		deleted, err = s.DeleteOrder(ctx, "U2")
		require.NoError(t, err)
		assert.False(t, deleted)

		customers, err := s.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, customers, 1)
		assert.Equal(t, 2, customers[0].TotalOrders)
		assert.Equal(t, 50.0, customers[0].TotalSpent)

		_, err = s.UpdateOrder(ctx, "missing", models.OrderPatch{Status: &status})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("filters pagination and counts", func(t *testing.T) {
		s := open(t)
		seed := []struct {
			id, network, pkg, status string
		}{
			{"F1", "MTN", "1GB", "completed"},
			{"F2", "Telecel", "2GB", "pending"},
			{"F3", "MTN", "5GB", "Cancelled"},
			{"F4", "AirtelTigo", "1GB", "completed"},
			{"F5", "MTN", "10GB", "completed"},
			{"F6", "Telecel", "1GB", "completed"},
			{"F7", "MTN", "2GB", "processing"},
		}
		for _, o := range seed {
			order := newOrder(o.id, "f@example.com", 1)
			order.Network, order.Package, order.Status = o.network, o.pkg, o.status
			_, err := s.AddOrder(ctx, order)
			require.NoError(t, err)
		}

		filters := []query.Filter{
			{},
			{Status: query.AllStatuses, Network: query.AllNetworks},
			{Status: "COMPLETED"},
			{Status: "cancelled"},
			{Network: "MTN"},
			{Search: "1gb"},
			{Search: "f5"},
			{Status: "completed", Network: "MTN", Search: "gb"},
		}
		for _, f := range filters {
			all, err := s.GetOrders(ctx, f)
			require.NoError(t, err)
			total, err := s.GetOrdersCount(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, int64(len(all)), total, "count for %+v", f)

			for limit := 1; limit <= 4; limit++ {
				f.Limit = limit
				var joined []models.Order
				for page := 1; page <= int(query.TotalPages(total, limit)); page++ {
					f.Page = page
					chunk, err := s.GetOrders(ctx, f)
					require.NoError(t, err)
					joined = append(joined, chunk...)
				}
				assert.Equal(t, orderIDs(all), orderIDs(joined), "pages for %+v", f)

				pagedTotal, err := s.GetOrdersCount(ctx, f)
				require.NoError(t, err)
				assert.Equal(t, total, pagedTotal)
			}
			f.Page, f.Limit = 0, 0
		}

		completed, err := s.GetOrders(ctx, query.Filter{Status: "Completed"})
		require.NoError(t, err)
		assert.Equal(t, []string{"F6", "F5", "F4", "F1"}, orderIDs(completed))

		beyond, err := s.GetOrders(ctx, query.Filter{Page: 10, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("filter values match literally", func(t *testing.T) {
		s := open(t)
		a := newOrder("W1", "w@example.com", 1)
		a.Customer, a.Package = "50% off", "1_GB"
		b := newOrder("W2", "w@example.com", 1)
		b.Customer, b.Package, b.Status = "plain", "1xGB", "pending"
		for _, o := range []*models.Order{a, b} {
			_, err := s.AddOrder(ctx, o)
			require.NoError(t, err)
		}

		cases := []struct {
			filter query.Filter
			want   []string
		}{
			{query.Filter{Status: "*"}, nil},
			{query.Filter{Status: "%"}, nil},
			{query.Filter{Status: "complete_"}, nil},
			{query.Filter{Status: "PENDING"}, []string{"W2"}},
			{query.Filter{Search: "*"}, nil},
			{query.Filter{Search: ".*"}, nil},
			{query.Filter{Search: `\`}, nil},
			{query.Filter{Search: "%"}, []string{"W1"}},
			{query.Filter{Search: "1_gb"}, []string{"W1"}},
		}
		for _, tc := range cases {
			got, err := s.GetOrders(ctx, tc.filter)
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, got, "%+v", tc.filter)
			} else {
				assert.Equal(t, tc.want, orderIDs(got), "%+v", tc.filter)
			}
			total, err := s.GetOrdersCount(ctx, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.want)), total, "%+v", tc.filter)
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := open(t)

		empty, err := s.GetStats(ctx, contractNow)
		require.NoError(t, err)
		assert.Equal(t, 0, empty.TotalOrders)
		assert.Equal(t, 100.0, empty.SuccessRate)
		assert.Equal(t, 0.0, empty.OrdersGrowth)
		assert.Equal(t, 0.0, empty.RevenueGrowth)

		for i, amount := range []float64{10, 20, 30} {
			_, err := s.AddOrder(ctx, newOrder(fmt.Sprintf("S%d", i), fmt.Sprintf("s%d@example.com", i), amount))
			require.NoError(t, err)
		}
		cancelled := newOrder("S9", "s0@example.com", 100)
		cancelled.Status = "cancelled"
		_, err = s.AddOrder(ctx, cancelled)
		require.NoError(t, err)

		old := newOrder("S10", "s0@example.com", 40)
		old.Timestamp = contractNow.Add(-40 * 24 * time.Hour).UnixMilli()
		_, err = s.AddOrder(ctx, old)
		require.NoError(t, err)

		got, err := s.GetStats(ctx, contractNow)
		require.NoError(t, err)
		assert.Equal(t, 5, got.TotalOrders)
		assert.Equal(t, 100.0, got.TotalRevenue)
		assert.Equal(t, 3, got.TotalCustomers)
		assert.Equal(t, 80.0, got.SuccessRate)
		assert.Equal(t, 300.0, got.OrdersGrowth)
		assert.Equal(t, 50.0, got.RevenueGrowth)
	})

	t.Run("top packages", func(t *testing.T) {
		s := open(t)
		seed := []struct {
			network, pkg string
			n            int
		}{
			{"MTN", "2GB", 1},
			{"Telecel", "1GB", 2},
			{"MTN", "1GB", 3},
		}
		i := 0
		for _, p := range seed {
			for j := 0; j < p.n; j++ {
				o := newOrder(fmt.Sprintf("P%d", i), "p@example.com", 5)
				o.Network, o.Package = p.network, p.pkg
				_, err := s.AddOrder(ctx, o)
				require.NoError(t, err)
				i++
			}
		}
		skipped := newOrder("PX", "p@example.com", 5)
		skipped.Network, skipped.Package, skipped.Status = "MTN", "2GB", "pending"
		_, err := s.AddOrder(ctx, skipped)
		require.NoError(t, err)

		top, err := s.GetTopPackages(ctx)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, models.TopPackage{Name: "1GB", Network: "MTN", Sales: 3, Revenue: 15}, top[0])
		assert.Equal(t, models.TopPackage{Name: "1GB", Network: "Telecel", Sales: 2, Revenue: 10}, top[1])
		assert.Equal(t, models.TopPackage{Name: "2GB", Network: "MTN", Sales: 1, Revenue: 5}, top[2])
	})

	t.Run("concurrent adds are not lost", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AddOrder(ctx, newOrder(fmt.Sprintf("X%02d", i), "race@example.com", 1))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		total, err := s.GetOrdersCount(ctx, query.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(20), total)

		customers, err := s.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, customers, 1)
		assert.Equal(t, 20, customers[0].TotalOrders)
		assert.Equal(t, 20.0, customers[0].TotalSpent)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
