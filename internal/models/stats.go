package models

// Stats is the dashboard summary.
type Stats struct {
	TotalOrders    int     `json:"totalOrders"`
	TotalRevenue   float64 `json:"totalRevenue"`
	TotalCustomers int     `json:"totalCustomers"`
	SuccessRate    float64 `json:"successRate"`
	OrdersGrowth   float64 `json:"ordersGrowth"`
	RevenueGrowth  float64 `json:"revenueGrowth"`
}

// TopPackage is one row of the best-selling packages ranking.
type TopPackage struct {
	Name    string  `json:"name"`
	Network string  `json:"network"`
	Sales   int     `json:"sales"`
	Revenue float64 `json:"revenue"`
}
