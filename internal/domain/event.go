package domain

// OrderConfirmationEvent is the wire message the email worker consumes.
// Field names are part of the broker contract.
type OrderConfirmationEvent struct {
	EmailTo      string       `json:"email_to" validate:"required,email"`
	TemplateData TemplateData `json:"template_data" validate:"required"`
}

type TemplateData struct {
	OrderID    int64              `json:"order_id" validate:"required"`
	TotalPrice int64              `json:"total_price"`
	Items      []ConfirmationItem `json:"items"`
}

type ConfirmationItem struct {
	ProductID       int64 `json:"product_id"`
	Quantity        int32 `json:"quantity"`
	PriceAtPurchase int64 `json:"price_at_purchase"`
}

func NewOrderConfirmationEvent(email string, order *Order) OrderConfirmationEvent {
	items := make([]ConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ConfirmationItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}

	return OrderConfirmationEvent{
		EmailTo: email,
		TemplateData: TemplateData{
			OrderID:    order.ID,
			TotalPrice: order.TotalPrice,
			Items:      items,
		},
	}
}
