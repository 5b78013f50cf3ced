package domain

import "time"

// Sale is one committed purchase in the append-only ledger.
type Sale struct {
	ID           string
	ItemID       int64
	ItemName     string
	Price        int
	CashInserted int
	ChangeDue    int
	CreatedAt    time.Time
}

// PurchaseResult is returned to the caller after a committed purchase.
type PurchaseResult struct {
	ItemID            int64
	ItemName          string
	Price             int
	CashInserted      int
	ChangeDue         int
	ChangeBreakdown   map[int]int
	RemainingQuantity int
}
