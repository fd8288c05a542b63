package service

import "errors"

var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrForbidden = errors.New("order belongs to another user")
)
