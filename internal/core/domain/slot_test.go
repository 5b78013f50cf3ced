package domain

import (
	"errors"
	"testing"
)

func TestCheckCapacity(t *testing.T) {
	cases := []struct {
		name     string
		capacity int
		count    int
		added    int
		wantErr  bool
	}{
		{"fits exactly", 10, 8, 2, false},
		{"fits with room", 10, 0, 5, false},
		{"zero add on full slot", 10, 10, 0, false},
		{"one over", 10, 8, 3, true},
		{"aggregate bulk overflow", 10, 8, 4, true},
		{"full slot", 10, 10, 1, true},
	}

	for _, tc := range cases {
		slot := &Slot{Capacity: tc.capacity, CurrentItemCount: tc.count}
		err := slot.CheckCapacity(tc.added)
		if tc.wantErr && !errors.Is(err, ErrCapacityExceeded) {
			t.Errorf("%s: expected ErrCapacityExceeded, got: %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
