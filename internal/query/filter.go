// Package query filters and paginates order collections in memory.
package query

import (
	"math"
	"strings"

	"github.com/example/motiondata/internal/models"
)

// Sentinel values sent by dashboards to mean "do not filter".
const (
	AllStatuses = "All Status"
	AllNetworks = "All Networks"
)

// Filter selects a page of orders. A Limit of zero or less disables
// pagination; Page is 1-based and values below 1 are treated as 1.
type Filter struct {
	Status  string
	Network string
	Search  string
	Page    int
	Limit   int
}

// StatusSet reports whether the filter restricts by status.
func (f Filter) StatusSet() bool {
	return f.Status != "" && f.Status != AllStatuses
}

// NetworkSet reports whether the filter restricts by network.
func (f Filter) NetworkSet() bool {
	return f.Network != "" && f.Network != AllNetworks
}

// SearchSet reports whether the filter carries a search term.
func (f Filter) SearchSet() bool {
	return f.Search != ""
}

// Unpaged returns a copy of f with pagination removed.
func (f Filter) Unpaged() Filter {
	f.Page = 0
	f.Limit = 0
	return f
}

// Offset returns the index of the first order on the requested page. It
// saturates at math.MaxInt instead of overflowing for very large pages.
func (f Filter) Offset() int {
	if f.Limit <= 0 || f.Page <= 1 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// Match reports whether o satisfies the status, network and search predicates.
func Match(f Filter, o models.Order) bool {
	if f.StatusSet() && !strings.EqualFold(o.Status, f.Status) {
		return false
	}
	if f.NetworkSet() && o.Network != f.Network {
		return false
	}
	if f.SearchSet() {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(o.ID), term) &&
			!strings.Contains(strings.ToLower(o.Customer), term) &&
			!strings.Contains(strings.ToLower(o.Phone), term) &&
			!strings.Contains(strings.ToLower(o.Package), term) {
			return false
		}
	}
	return true
}

// Select returns the orders matching f, in input order, ignoring pagination.
func Select(f Filter, orders []models.Order) []models.Order {
	matched := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if Match(f, o) {
			matched = append(matched, o)
		}
	}
	return matched
}

// Apply filters and then paginates orders.
func Apply(f Filter, orders []models.Order) []models.Order {
	return Paginate(f, Select(f, orders))
}

// Count returns the number of orders matching f, ignoring pagination.
func Count(f Filter, orders []models.Order) int {
	n := 0
	for _, o := range orders {
		if Match(f, o) {
			n++
		}
	}
	return n
}

// Paginate cuts the page described by f out of orders. A page past the end
// yields an empty slice.
func Paginate(f Filter, orders []models.Order) []models.Order {
	if f.Limit <= 0 {
		return orders
	}
	offset := f.Offset()
	if offset >= len(orders) {
		return []models.Order{}
	}
	end := len(orders)
	if f.Limit < end-offset {
		end = offset + f.Limit
	}
	return orders[offset:end]
}

// TotalPages returns ceil(total / limit), or 0 when limit is not positive.
func TotalPages(total int64, limit int) int64 {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total-1)/int64(limit) + 1
}
