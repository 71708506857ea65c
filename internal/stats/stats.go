// Package stats computes dashboard rollups over order snapshots.
package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/motiondata/internal/models"
)

// Window is the length of one growth comparison period.
const Window = 30 * 24 * time.Hour

// TopPackagesLimit caps the best-sellers ranking.
const TopPackagesLimit = 10

// Compute builds the dashboard summary for orders as seen at now.
func Compute(orders []models.Order, customerCount int, now time.Time) models.Stats {
	var (
		completed       int
		revenue         decimal.Decimal
		recent          int
		previous        int
		recentRevenue   decimal.Decimal
		previousRevenue decimal.Decimal
	)

	nowMs := now.UnixMilli()
	windowMs := Window.Milliseconds()

	for _, o := range orders {
		done := o.Status == models.StatusCompleted
		amount := decimal.NewFromFloat(o.Amount)
		if done {
			completed++
			revenue = revenue.Add(amount)
		}

		age := nowMs - o.Timestamp
		switch {
		case age < windowMs:
			recent++
			if done {
				recentRevenue = recentRevenue.Add(amount)
			}
		case age < 2*windowMs:
			previous++
			if done {
				previousRevenue = previousRevenue.Add(amount)
			}
		}
	}

	return models.Stats{
		TotalOrders:    len(orders),
		TotalRevenue:   revenue.InexactFloat64(),
		TotalCustomers: customerCount,
		SuccessRate:    SuccessRate(completed, len(orders)),
		OrdersGrowth:   Growth(decimal.NewFromInt(int64(recent)), decimal.NewFromInt(int64(previous))),
		RevenueGrowth:  Growth(recentRevenue, previousRevenue),
	}
}

// SuccessRate is the completed share of all orders in percent, rounded to one
// decimal. With no orders at all it is 100.
func SuccessRate(completed, total int) float64 {
	if total == 0 {
		return 100
	}
	return decimal.NewFromInt(int64(completed)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(1).
		InexactFloat64()
}

// Growth is the period-over-period change in percent, rounded to one decimal.
// When the previous period is zero the result is 0; callers must not read
// that as "no change".
func Growth(recent, previous decimal.Decimal) float64 {
	if !previous.IsPositive() {
		return 0
	}
	return recent.Sub(previous).
		Mul(decimal.NewFromInt(100)).
		Div(previous).
		Round(1).
		InexactFloat64()
}

type packageKey struct {
	network string
	name    string
}

type packageTally struct {
	sales   int
	revenue decimal.Decimal
}

// TopPackages ranks completed orders by (network, package). Ties on sales are
// broken by revenue, then network, then package name, all so that the ranking
// is stable across calls.
func TopPackages(orders []models.Order, n int) []models.TopPackage {
	tallies := make(map[packageKey]*packageTally)
	for _, o := range orders {
		if o.Status != models.StatusCompleted {
			continue
		}
		key := packageKey{network: o.Network, name: o.Package}
		t, ok := tallies[key]
		if !ok {
			t = &packageTally{}
			tallies[key] = t
		}
		t.sales++
		t.revenue = t.revenue.Add(decimal.NewFromFloat(o.Amount))
	}

	ranked := make([]models.TopPackage, 0, len(tallies))
	for key, t := range tallies {
		ranked = append(ranked, models.TopPackage{
			Name:    key.name,
			Network: key.network,
			Sales:   t.sales,
			Revenue: t.revenue.InexactFloat64(),
		})
	}
	SortPackages(ranked)

	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// SortPackages orders a ranking in place using the TopPackages tie-break.
func SortPackages(ranked []models.TopPackage) {
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Sales != b.Sales {
			return a.Sales > b.Sales
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		return a.Name < b.Name
	})
}
