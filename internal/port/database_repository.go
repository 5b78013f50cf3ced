package port

import (
	"context"

	"github.com/lqvu/vending-machine/internal/core/domain"
)

// TxStore is the view of the store inside one transaction. The *ForUpdate
// reads take row locks held until the transaction commits or rolls back,
// so every read-decide-write sequence built on them is indivisible with
// respect to concurrent transactions touching the same rows.
type TxStore interface {
	// GetSlotForUpdate locks and returns a slot row
	GetSlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error)

	// GetItemForUpdate locks and returns an item row
	GetItemForUpdate(ctx context.Context, itemID int64) (*domain.Item, error)

	// InsertItem persists a new item and fills in its generated ID
	InsertItem(ctx context.Context, item *domain.Item) error

	// SetSlotItemCount writes the slot counter and touches updated_at
	SetSlotItemCount(ctx context.Context, slotID int64, count int) error

	// SetItemQuantity writes the item quantity and touches updated_at
	SetItemQuantity(ctx context.Context, itemID int64, quantity int) error

	// SetItemPrice writes the item price and touches updated_at
	SetItemPrice(ctx context.Context, itemID int64, price int) error

	// InsertSale appends one row to the sale ledger
	InsertSale(ctx context.Context, sale *domain.Sale) error
}

type VendingRepository interface {
	// InTx runs fn inside a single transaction; the transaction commits
	// iff fn returns nil, otherwise everything rolls back
	InTx(ctx context.Context, fn func(tx TxStore) error) error

	// CreateSlot persists a new slot and fills in its generated ID
	CreateSlot(ctx context.Context, slot *domain.Slot) error

	GetSlot(ctx context.Context, slotID int64) (*domain.Slot, error)
	ListSlots(ctx context.Context) ([]domain.Slot, error)
	ListSlotsWithItems(ctx context.Context) ([]domain.SlotWithItems, error)
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)

	// ReconcileSlotCounts repairs slot counters that have drifted from
	// the sum of their items' quantities, returning the slot IDs fixed
	ReconcileSlotCounts(ctx context.Context) ([]int64, error)
}
