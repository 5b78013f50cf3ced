package domain

import "time"

type Slot struct {
	ID               int64
	Code             string
	Capacity         int
	CurrentItemCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CheckCapacity reports whether the slot can absorb added more items.
// The decision must be made against the count read under the same
// transaction that performs the mutation.
func (s *Slot) CheckCapacity(added int) error {
	if s.CurrentItemCount+added > s.Capacity {
		return ErrCapacityExceeded
	}
	return nil
}
