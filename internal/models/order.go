package models

import "time"

// StatusCompleted is the default status of a new order and the only status
// that counts towards revenue.
const StatusCompleted = "completed"

// Order is a single data-bundle purchase.
type Order struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Reference string    `gorm:"index" json:"reference"`
	Date      string    `json:"date"`
	Timestamp int64     `gorm:"index" json:"timestamp"`
	Customer  string    `json:"customer"`
	Email     string    `gorm:"index" json:"email"`
	Phone     string    `json:"phone"`
	Network   string    `gorm:"index" json:"network"`
	Package   string    `json:"package"`
	Amount    float64   `json:"amount"`
	Status    string    `gorm:"index" json:"status"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// OrderPatch carries the fields of a partial update. Nil fields are left
// untouched. The order id cannot be changed.
type OrderPatch struct {
	Reference *string
	Date      *string
	Timestamp *int64
	Customer  *string
	Email     *string
	Phone     *string
	Network   *string
	Package   *string
	Amount    *float64
	Status    *string
}

// Empty reports whether the patch changes nothing.
func (p OrderPatch) Empty() bool {
	return len(p.Fields()) == 0
}

// Apply shallow-merges the patch into o.
func (p OrderPatch) Apply(o *Order) {
	if p.Reference != nil {
		o.Reference = *p.Reference
	}
	if p.Date != nil {
		o.Date = *p.Date
	}
	if p.Timestamp != nil {
		o.Timestamp = *p.Timestamp
	}
	if p.Customer != nil {
		o.Customer = *p.Customer
	}
	if p.Email != nil {
		o.Email = *p.Email
	}
	if p.Phone != nil {
		o.Phone = *p.Phone
	}
	if p.Network != nil {
		o.Network = *p.Network
	}
	if p.Package != nil {
		o.Package = *p.Package
	}
	if p.Amount != nil {
		o.Amount = *p.Amount
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
}

// Fields returns the set fields keyed by column / JSON name.
func (p OrderPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Reference != nil {
		fields["reference"] = *p.Reference
	}
	if p.Date != nil {
		fields["date"] = *p.Date
	}
	if p.Timestamp != nil {
		fields["timestamp"] = *p.Timestamp
	}
	if p.Customer != nil {
		fields["customer"] = *p.Customer
	}
	if p.Email != nil {
		fields["email"] = *p.Email
	}
	if p.Phone != nil {
		fields["phone"] = *p.Phone
	}
	if p.Network != nil {
		fields["network"] = *p.Network
	}
	if p.Package != nil {
		fields["package"] = *p.Package
	}
	if p.Amount != nil {
		fields["amount"] = *p.Amount
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	return fields
}
