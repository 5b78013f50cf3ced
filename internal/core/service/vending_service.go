package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lqvu/vending-machine/internal/core/domain"
	"github.com/lqvu/vending-machine/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// VendingService runs every read-decide-write sequence inside a single
// repository transaction, so invariants are always checked against the
// row state the same transaction will mutate.
type VendingService struct {
	repo   port.VendingRepository
	cache  port.CacheRepository // optional; nil disables idempotency checks
	denoms []int
}

func NewVendingService(repo port.VendingRepository, cache port.CacheRepository, denoms []int) (*VendingService, error) {
	if err := domain.ValidateDenominations(denoms); err != nil {
		return nil, err
	}
	return &VendingService{repo: repo, cache: cache, denoms: denoms}, nil
}

func (s *VendingService) CreateSlot(ctx context.Context, code string, capacity int) (*domain.Slot, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: slot code is required", domain.ErrInvalidInput)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", domain.ErrInvalidInput)
	}

	now := time.Now()
	slot := &domain.Slot{
		Code:      code,
		Capacity:  capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSlot(ctx, slot); err != nil {
		return nil, err
	}
	zap.L().Info("slot created", zap.Int64("slot_id", slot.ID), zap.String("code", code), zap.Int("capacity", capacity))
	return slot, nil
}

func (s *VendingService) GetSlot(ctx context.Context, slotID int64) (*domain.Slot, error) {
	return s.repo.GetSlot(ctx, slotID)
}

func (s *VendingService) ListSlots(ctx context.Context) ([]domain.Slot, error) {
	return s.repo.ListSlots(ctx)
}

func (s *VendingService) ListSlotsWithItems(ctx context.Context) ([]domain.SlotWithItems, error) {
	return s.repo.ListSlotsWithItems(ctx)
}

func (s *VendingService) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

// AddItem inserts one item into a slot. The slot row is locked before
// the capacity check so the counter cannot move between the check and
// the commit.
func (s *VendingService) AddItem(ctx context.Context, slotID int64, name string, price, quantity int) (*domain.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", domain.ErrInvalidInput)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}

	var item *domain.Item
	err := s.repo.InTx(ctx, func(tx port.TxStore) error {
		slot, err := tx.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if err := slot.CheckCapacity(quantity); err != nil {
			return err
		}

		now := time.Now()
		item = &domain.Item{
			SlotID:    slotID,
			Name:      name,
			Price:     price,
			Quantity:  quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return tx.SetSlotItemCount(ctx, slotID, slot.CurrentItemCount+quantity)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("item added",
		zap.Int64("slot_id", slotID),
		zap.Int64("item_id", item.ID),
		zap.String("name", name),
		zap.Int("quantity", quantity))
	return item, nil
}

// BulkAddItems loads a batch of items into a slot as one atomic commit.
// Entries with quantity <= 0 are skipped. The aggregate quantity is
// checked against capacity before any item is created, so a failing
// batch leaves the slot untouched.
func (s *VendingService) BulkAddItems(ctx context.Context, slotID int64, entries []domain.ItemEntry) (int, error) {
	loadable := make([]domain.ItemEntry, 0, len(entries))
	total := 0
	for _, e := range entries {
		if e.Quantity <= 0 {
			continue
		}
		if strings.TrimSpace(e.Name) == "" {
			return 0, fmt.Errorf("%w: item name is required", domain.ErrInvalidInput)
		}
		if e.Price <= 0 {
			return 0, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
		}
		loadable = append(loadable, e)
		total += e.Quantity
	}

	added := 0
	err := s.repo.InTx(ctx, func(tx port.TxStore) error {
		added = 0
		slot, err := tx.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if err := slot.CheckCapacity(total); err != nil {
			return err
		}

		now := time.Now()
		for _, e := range loadable {
			item := &domain.Item{
				SlotID:    slotID,
				Name:      strings.TrimSpace(e.Name),
				Price:     e.Price,
				Quantity:  e.Quantity,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
			added++
		}
		return tx.SetSlotItemCount(ctx, slotID, slot.CurrentItemCount+total)
	})
	if err != nil {
		return 0, err
	}

	zap.L().Info("bulk load committed",
		zap.Int64("slot_id", slotID),
		zap.Int("added_count", added),
		zap.Int("total_quantity", total))
	return added, nil
}

// UpdateItemPrice sets a new price and a fresh updated_at under the
// item's row lock; a stale timestamp is never carried over.
func (s *VendingService) UpdateItemPrice(ctx context.Context, itemID int64, price int) (*domain.Item, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", domain.ErrInvalidInput)
	}

	err := s.repo.InTx(ctx, func(tx port.TxStore) error {
		if _, err := tx.GetItemForUpdate(ctx, itemID); err != nil {
			return err
		}
		return tx.SetItemPrice(ctx, itemID, price)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, itemID)
}

// Purchase vends a single unit of an item: availability check, change
// computation, stock decrement and sale record are one atomic unit with
// no observable intermediate state. requestID, when non-empty, dedupes
// retried requests through the cache.
func (s *VendingService) Purchase(ctx context.Context, requestID string, itemID int64, cashInserted int) (*domain.PurchaseResult, error) {
	if cashInserted <= 0 {
		return nil, fmt.Errorf("%w: cash_inserted must be positive", domain.ErrInvalidInput)
	}

	if requestID != "" && s.cache != nil {
		ok, err := s.cache.SetIdempotency(ctx, "purchase:"+requestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
	}

	var result *domain.PurchaseResult
	err := s.repo.InTx(ctx, func(tx port.TxStore) error {
		// Lock order is item then slot; the add paths lock only the
		// slot, so the two orders cannot deadlock.
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		slot, err := tx.GetSlotForUpdate(ctx, item.SlotID)
		if err != nil {
			return err
		}

		if item.Quantity <= 0 {
			return domain.ErrOutOfStock
		}
		if cashInserted < item.Price {
			return domain.ErrInsufficientCash
		}

		changeDue := cashInserted - item.Price
		breakdown, err := domain.MakeChange(changeDue, s.denoms)
		if err != nil {
			return err
		}

		if err := tx.SetItemQuantity(ctx, item.ID, item.Quantity-1); err != nil {
			return err
		}
		if err := tx.SetSlotItemCount(ctx, slot.ID, slot.CurrentItemCount-1); err != nil {
			return err
		}

		sale := &domain.Sale{
			ID:           uuid.NewString(),
			ItemID:       item.ID,
			ItemName:     item.Name,
			Price:        item.Price,
			CashInserted: cashInserted,
			ChangeDue:    changeDue,
			CreatedAt:    time.Now(),
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		result = &domain.PurchaseResult{
			ItemID:            item.ID,
			ItemName:          item.Name,
			Price:             item.Price,
			CashInserted:      cashInserted,
			ChangeDue:         changeDue,
			ChangeBreakdown:   breakdown,
			RemainingQuantity: item.Quantity - 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("purchase committed",
		zap.Int64("item_id", result.ItemID),
		zap.Int("cash_inserted", cashInserted),
		zap.Int("change_due", result.ChangeDue),
		zap.Int("remaining_quantity", result.RemainingQuantity))
	return result, nil
}

// ChangeBreakdown exposes the change calculator on its own; it is pure
// and runs outside any transaction.
func (s *VendingService) ChangeBreakdown(amount int) (map[int]int, error) {
	return domain.MakeChange(amount, s.denoms)
}

// ReconcileSlotCounts repairs counter drift, e.g. after manual restocks
// done directly against the database.
func (s *VendingService) ReconcileSlotCounts(ctx context.Context) ([]int64, error) {
	fixed, err := s.repo.ReconcileSlotCounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(fixed) > 0 {
		zap.L().Warn("repaired drifted slot counters", zap.Int64s("slot_ids", fixed))
	}
	return fixed, nil
}
