package domain

import "time"

// Product rows are owned by the catalog; the fulfillment core only reads
// them under row locks and moves the stock counter.
type Product struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Price       int64  `db:"price"`
	Stock       int32  `db:"stock"`
	IsDeleted   bool   `db:"is_deleted"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type CartItem struct {
	UserID    int64 `db:"user_id"`
	ProductID int64 `db:"product_id"`
	Quantity  int32 `db:"quantity"`
}
