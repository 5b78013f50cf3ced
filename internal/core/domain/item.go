package domain

import "time"

type Item struct {
	ID        int64
	SlotID    int64
	Name      string
	Price     int // smallest currency unit, always > 0
	Quantity  int // never negative
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemEntry is one element of a bulk load request. Entries with
// Quantity <= 0 are skipped, not rejected.
type ItemEntry struct {
	Name     string
	Price    int
	Quantity int
}

type SlotWithItems struct {
	Slot
	Items []Item
}
