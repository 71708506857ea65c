package models

// Customer is the running aggregate of all orders placed with one email.
type Customer struct {
	Email          string  `gorm:"primaryKey;size:255" json:"email"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	TotalOrders    int     `json:"total_orders"`
	TotalSpent     float64 `json:"total_spent"`
	FirstOrderDate string  `json:"first_order_date"`
	LastOrderDate  string  `json:"last_order_date"`
	LastOrderID    string  `json:"last_order_id,omitempty"`
}

// NewCustomer starts an aggregate from the first order seen for an email.
// The order itself is not yet counted; call Record for that.
func NewCustomer(o Order) Customer {
	return Customer{
		Email:          o.Email,
		Name:           o.Customer,
		Phone:          o.Phone,
		FirstOrderDate: o.Date,
		LastOrderDate:  o.Date,
	}
}

// Record folds o into the aggregate. It reports false without changing
// anything when o was already the last order recorded.
func (c *Customer) Record(o Order) bool {
	if c.LastOrderID != "" && c.LastOrderID == o.ID {
		return false
	}
	c.TotalOrders++
	c.TotalSpent += o.Amount
	c.LastOrderDate = o.Date
	c.Phone = o.Phone
	if o.Customer != "" {
		c.Name = o.Customer
	}
	c.LastOrderID = o.ID
	return true
}
