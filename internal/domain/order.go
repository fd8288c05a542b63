package domain

import "time"

type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPaid, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}

	return false
}

// ValidateTransition applies the status rules in order; the first matching
// rule wins. A shipped order cannot be cancelled, completed and cancelled
// orders are frozen, and a shipped order can only move to completed.
func ValidateTransition(from, to OrderStatus) error {
	switch {
	case from == OrderStatusShipped && to == OrderStatusCancelled:
		return ErrInvalidTransition
	case from == OrderStatusCompleted && to != OrderStatusCompleted:
		return ErrInvalidTransition
	case from == OrderStatusShipped && to != OrderStatusCompleted:
		return ErrInvalidTransition
	case from == OrderStatusCancelled && to != OrderStatusCancelled:
		return ErrInvalidTransition
	}

	return nil
}

type Order struct {
	ID         int64       `db:"id"`
	UserID     int64       `db:"user_id"`
	Status     OrderStatus `db:"status"`
	TotalPrice int64       `db:"total_price"`
	Items      []OrderItem `db:"items"`

	CreatedAt time.Time `db:"created_at"`
}

// OrderItem is a snapshot taken at purchase time. PriceAtPurchase never
// changes after the order is created, whatever happens to the product price.
type OrderItem struct {
	ID              int64 `db:"id"`
	OrderID         int64 `db:"order_id"`
	ProductID       int64 `db:"product_id"`
	Quantity        int32 `db:"quantity"`
	PriceAtPurchase int64 `db:"price_at_purchase"`
}

func (o *Order) CalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.PriceAtPurchase * int64(item.Quantity)
	}
	o.TotalPrice = total
}
