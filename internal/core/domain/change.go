package domain

import (
	"fmt"
	"sort"
)

// DefaultDenominations is the stock denomination set. It must contain 1
// so that every non-negative amount is representable.
var DefaultDenominations = []int{1, 2, 5, 10, 20, 50, 100}

// ValidateDenominations rejects sets that would make some change amounts
// silently irrepresentable or the greedy walk ill-defined.
func ValidateDenominations(denoms []int) error {
	if len(denoms) == 0 {
		return fmt.Errorf("%w: denomination set is empty", ErrInvalidInput)
	}
	seen := make(map[int]bool, len(denoms))
	hasOne := false
	for _, d := range denoms {
		if d <= 0 {
			return fmt.Errorf("%w: denomination %d is not positive", ErrInvalidInput, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate denomination %d", ErrInvalidInput, d)
		}
		seen[d] = true
		if d == 1 {
			hasOne = true
		}
	}
	if !hasOne {
		return fmt.Errorf("%w: denomination set must include 1", ErrInvalidInput)
	}
	return nil
}

// MakeChange breaks amount into denomination counts using a greedy walk
// over denoms sorted descending. The result always sums to amount
// exactly; if the remainder cannot reach zero the call fails with
// ErrChangeNotRepresentable and no partial breakdown is returned.
//
// Greedy is optimal only for canonical denomination sets such as the
// default {1,2,5,10,20,50,100}; with 1 present it always terminates
// with remainder zero.
func MakeChange(amount int, denoms []int) (map[int]int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative change amount %d", ErrInvalidInput, amount)
	}

	ordered := make([]int, len(denoms))
	copy(ordered, denoms)
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))

	breakdown := make(map[int]int)
	remaining := amount
	for _, d := range ordered {
		if d <= 0 || remaining < d {
			continue
		}
		n := remaining / d
		breakdown[d] = n
		remaining -= n * d
	}

	if remaining != 0 {
		return nil, fmt.Errorf("%w: %d left over from %d", ErrChangeNotRepresentable, remaining, amount)
	}
	return breakdown, nil
}
