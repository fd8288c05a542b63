package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusNew,
		OrderStatusPaid,
		OrderStatusShipped,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}

	forbidden := func(from, to OrderStatus) bool {
		switch {
		case from == OrderStatusShipped && to == OrderStatusCancelled:
			return true
		case from == OrderStatusCompleted && to != OrderStatusCompleted:
			return true
		case from == OrderStatusShipped && to != OrderStatusCompleted:
			return true
		case from == OrderStatusCancelled && to != OrderStatusCancelled:
			return true
		}
		return false
	}

	for _, from := range statuses {
		for _, to := range statuses {
			err := ValidateTransition(from, to)

			if forbidden(from, to) {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s should be rejected", from, to)
			} else {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
			}
		}
	}
}

func TestValidateTransition_PaidCanBeCancelled(t *testing.T) {
	require.NoError(t, ValidateTransition(OrderStatusPaid, OrderStatusCancelled))
	require.NoError(t, ValidateTransition(OrderStatusNew, OrderStatusCancelled))
}

func TestValidateTransition_ShippedOnlyCompletes(t *testing.T) {
	require.NoError(t, ValidateTransition(OrderStatusShipped, OrderStatusCompleted))
	require.ErrorIs(t, ValidateTransition(OrderStatusShipped, OrderStatusCancelled), ErrInvalidTransition)
	require.ErrorIs(t, ValidateTransition(OrderStatusShipped, OrderStatusPaid), ErrInvalidTransition)
}

func TestCalculateTotal(t *testing.T) {
	order := &Order{
		Items: []OrderItem{
			{ProductID: 1, Quantity: 2, PriceAtPurchase: 1000},
			{ProductID: 2, Quantity: 1, PriceAtPurchase: 50},
		},
	}

	order.CalculateTotal()

	assert.Equal(t, int64(2050), order.TotalPrice)
}

func TestCalculateTotal_Empty(t *testing.T) {
	order := &Order{}
	order.CalculateTotal()

	assert.Equal(t, int64(0), order.TotalPrice)
}

func TestOrderStatusValid(t *testing.T) {
	assert.True(t, OrderStatusPaid.Valid())
	assert.False(t, OrderStatus("returned").Valid())
}
