package domain

import "errors"

var (
	ErrSlotNotFound           = errors.New("slot not found")
	ErrItemNotFound           = errors.New("item not found")
	ErrSlotExists             = errors.New("slot code already exists")
	ErrOutOfStock             = errors.New("item out of stock")
	ErrInsufficientCash       = errors.New("insufficient cash")
	ErrCapacityExceeded       = errors.New("slot capacity exceeded")
	ErrChangeNotRepresentable = errors.New("change not representable with available denominations")
	ErrInvalidInput           = errors.New("invalid input")
)
