package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lqvu/vending-machine/internal/adapter/storage"
	"github.com/lqvu/vending-machine/internal/core/domain"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{seen: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func newTestService(t *testing.T) (*VendingService, *storage.MemoryAdapter) {
	t.Helper()
	repo := storage.NewMemoryAdapter()
	svc, err := NewVendingService(repo, newMockCacheRepo(), domain.DefaultDenominations)
	if err != nil {
		t.Fatalf("NewVendingService failed: %v", err)
	}
	return svc, repo
}

func mustCreateSlot(t *testing.T, svc *VendingService, code string, capacity int) *domain.Slot {
	t.Helper()
	slot, err := svc.CreateSlot(context.Background(), code, capacity)
	if err != nil {
		t.Fatalf("CreateSlot failed: %v", err)
	}
	return slot
}

func mustAddItem(t *testing.T, svc *VendingService, slotID int64, name string, price, quantity int) *domain.Item {
	t.Helper()
	item, err := svc.AddItem(context.Background(), slotID, name, price, quantity)
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	return item
}

func TestNewVendingService_RejectsBadDenominations(t *testing.T) {
	_, err := NewVendingService(storage.NewMemoryAdapter(), nil, []int{10, 5})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for set without 1, got: %v", err)
	}
}

func TestCreateSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	if slot.ID == 0 {
		t.Error("expected generated slot id")
	}
	if slot.CurrentItemCount != 0 {
		t.Errorf("expected empty slot, got count %d", slot.CurrentItemCount)
	}

	if _, err := svc.CreateSlot(ctx, "A1", 5); !errors.Is(err, domain.ErrSlotExists) {
		t.Errorf("expected ErrSlotExists for duplicate code, got: %v", err)
	}
	if _, err := svc.CreateSlot(ctx, "B1", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for capacity 0, got: %v", err)
	}
	if _, err := svc.CreateSlot(ctx, "  ", 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank code, got: %v", err)
	}
}

func TestAddItem_Success(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 40, 5)

	if item.ID == 0 {
		t.Error("expected generated item id")
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if got.CurrentItemCount != 5 {
		t.Errorf("expected slot count 5, got %d", got.CurrentItemCount)
	}
}

func TestAddItem_CapacityExceeded(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	mustAddItem(t, svc, slot.ID, "Coke", 40, 5)

	_, err := svc.AddItem(ctx, slot.ID, "Pepsi", 35, 10)
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got: %v", err)
	}

	got, _ := svc.GetSlot(ctx, slot.ID)
	if got.CurrentItemCount != 5 {
		t.Errorf("failed add must not move the counter: got %d", got.CurrentItemCount)
	}
}

func TestAddItem_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)

	if _, err := svc.AddItem(ctx, slot.ID, "Free", 0, 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for price 0, got: %v", err)
	}
	if _, err := svc.AddItem(ctx, slot.ID, "Coke", 40, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for quantity 0, got: %v", err)
	}
	if _, err := svc.AddItem(ctx, 9999, "Coke", 40, 1); !errors.Is(err, domain.ErrSlotNotFound) {
		t.Errorf("expected ErrSlotNotFound, got: %v", err)
	}
}

func TestBulkAddItems_Success(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	added, err := svc.BulkAddItems(ctx, slot.ID, []domain.ItemEntry{
		{Name: "Sprite", Price: 30, Quantity: 2},
		{Name: "Fanta", Price: 25, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("BulkAddItems failed: %v", err)
	}
	if added != 2 {
		t.Errorf("expected added_count 2, got %d", added)
	}

	got, _ := svc.GetSlot(ctx, slot.ID)
	if got.CurrentItemCount != 3 {
		t.Errorf("expected slot count 3, got %d", got.CurrentItemCount)
	}
}

func TestBulkAddItems_SkipsNonPositiveQuantities(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	added, err := svc.BulkAddItems(ctx, slot.ID, []domain.ItemEntry{
		{Name: "Sprite", Price: 30, Quantity: 2},
		{Name: "Empty", Price: 30, Quantity: 0},
		{Name: "Negative", Price: 30, Quantity: -3},
	})
	if err != nil {
		t.Fatalf("BulkAddItems failed: %v", err)
	}
	if added != 1 {
		t.Errorf("expected added_count 1, got %d", added)
	}

	got, _ := svc.GetSlot(ctx, slot.ID)
	if got.CurrentItemCount != 2 {
		t.Errorf("expected slot count 2, got %d", got.CurrentItemCount)
	}
}

func TestBulkAddItems_AggregateCapacityCheck(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// capacity 10, count 8: a batch of 1+3 must fail as a whole.
	slot := mustCreateSlot(t, svc, "A1", 10)
	mustAddItem(t, svc, slot.ID, "Coke", 40, 8)

	_, err := svc.BulkAddItems(ctx, slot.ID, []domain.ItemEntry{
		{Name: "Sprite", Price: 30, Quantity: 1},
		{Name: "Fanta", Price: 25, Quantity: 3},
	})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got: %v", err)
	}

	got, _ := svc.GetSlot(ctx, slot.ID)
	if got.CurrentItemCount != 8 {
		t.Errorf("failed bulk load must leave count at 8, got %d", got.CurrentItemCount)
	}

	full, _ := svc.ListSlotsWithItems(ctx)
	if len(full) != 1 || len(full[0].Items) != 1 {
		t.Error("no item from the failed batch may be visible")
	}
}

func TestPurchase_Success(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 65, 5)

	result, err := svc.Purchase(ctx, "", item.ID, 100)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	if result.ChangeDue != 35 {
		t.Errorf("expected change 35, got %d", result.ChangeDue)
	}
	want := map[int]int{20: 1, 10: 1, 5: 1}
	for d, n := range want {
		if result.ChangeBreakdown[d] != n {
			t.Errorf("breakdown[%d] = %d, want %d", d, result.ChangeBreakdown[d], n)
		}
	}
	if len(result.ChangeBreakdown) != len(want) {
		t.Errorf("breakdown = %v, want %v", result.ChangeBreakdown, want)
	}
	if result.RemainingQuantity != 4 {
		t.Errorf("expected remaining quantity 4, got %d", result.RemainingQuantity)
	}

	gotItem, _ := svc.GetItem(ctx, item.ID)
	if gotItem.Quantity != 4 {
		t.Errorf("expected persisted quantity 4, got %d", gotItem.Quantity)
	}
	gotSlot, _ := svc.GetSlot(ctx, slot.ID)
	if gotSlot.CurrentItemCount != 4 {
		t.Errorf("expected slot count 4, got %d", gotSlot.CurrentItemCount)
	}

	sales := repo.Sales()
	if len(sales) != 1 {
		t.Fatalf("expected 1 sale record, got %d", len(sales))
	}
	if sales[0].ItemID != item.ID || sales[0].CashInserted != 100 || sales[0].ChangeDue != 35 {
		t.Errorf("unexpected sale record: %+v", sales[0])
	}
}

func TestPurchase_InsufficientCash(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 65, 5)

	_, err := svc.Purchase(ctx, "", item.ID, 50)
	if !errors.Is(err, domain.ErrInsufficientCash) {
		t.Errorf("expected ErrInsufficientCash, got: %v", err)
	}

	gotItem, _ := svc.GetItem(ctx, item.ID)
	if gotItem.Quantity != 5 {
		t.Errorf("failed purchase must not move stock: got %d", gotItem.Quantity)
	}
	if len(repo.Sales()) != 0 {
		t.Error("failed purchase must not record a sale")
	}
}

func TestPurchase_OutOfStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 65, 1)

	if _, err := svc.Purchase(ctx, "", item.ID, 100); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	_, err := svc.Purchase(ctx, "", item.ID, 100)
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Errorf("expected ErrOutOfStock, got: %v", err)
	}
}

func TestPurchase_ItemNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Purchase(context.Background(), "", 404, 100)
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestPurchase_NonPositiveCash(t *testing.T) {
	svc, _ := newTestService(t)

	for _, cash := range []int{0, -10} {
		_, err := svc.Purchase(context.Background(), "", 1, cash)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("cash %d: expected ErrInvalidInput, got: %v", cash, err)
		}
	}
}

func TestPurchase_DuplicateRequest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 40, 5)

	if _, err := svc.Purchase(ctx, "req-1", item.ID, 50); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	_, err := svc.Purchase(ctx, "req-1", item.ID, 50)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	gotItem, _ := svc.GetItem(ctx, item.ID)
	if gotItem.Quantity != 4 {
		t.Errorf("stock must decrement once, got %d", gotItem.Quantity)
	}
}

func TestPurchase_Concurrent_LastUnit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 40, 1)

	totalRequests := 20
	var success, outOfStock atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(ctx, "", item.ID, 50)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStock.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", success.Load())
	}
	if outOfStock.Load() != int32(totalRequests-1) {
		t.Errorf("expected %d ErrOutOfStock, got %d", totalRequests-1, outOfStock.Load())
	}

	gotItem, _ := svc.GetItem(ctx, item.ID)
	if gotItem.Quantity != 0 {
		t.Errorf("quantity must end at 0, got %d", gotItem.Quantity)
	}
}

func TestConcurrent_AddsNeverExceedCapacity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.AddItem(ctx, slot.ID, "Single", 30, 2)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.BulkAddItems(ctx, slot.ID, []domain.ItemEntry{
				{Name: "BulkA", Price: 25, Quantity: 2},
				{Name: "BulkB", Price: 25, Quantity: 1},
			})
		}()
	}
	wg.Wait()

	got, _ := svc.GetSlot(ctx, slot.ID)
	if got.CurrentItemCount > got.Capacity {
		t.Errorf("capacity invariant violated: %d > %d", got.CurrentItemCount, got.Capacity)
	}
	if got.CurrentItemCount < 0 {
		t.Errorf("negative slot count: %d", got.CurrentItemCount)
	}

	// The persisted counter must agree with the items actually created.
	full, _ := svc.ListSlotsWithItems(ctx)
	sum := 0
	for _, it := range full[0].Items {
		sum += it.Quantity
	}
	if sum != got.CurrentItemCount {
		t.Errorf("counter %d disagrees with item sum %d", got.CurrentItemCount, sum)
	}
}

func TestUpdateItemPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, svc, "A1", 10)
	item := mustAddItem(t, svc, slot.ID, "Coke", 40, 5)

	time.Sleep(10 * time.Millisecond)

	updated, err := svc.UpdateItemPrice(ctx, item.ID, 50)
	if err != nil {
		t.Fatalf("UpdateItemPrice failed: %v", err)
	}
	if updated.Price != 50 {
		t.Errorf("expected price 50, got %d", updated.Price)
	}
	if !updated.UpdatedAt.After(item.UpdatedAt) {
		t.Errorf("updated_at must advance: before=%v after=%v", item.UpdatedAt, updated.UpdatedAt)
	}

	if _, err := svc.UpdateItemPrice(ctx, item.ID, 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for price 0, got: %v", err)
	}
	if _, err := svc.UpdateItemPrice(ctx, 9999, 50); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestChangeBreakdown(t *testing.T) {
	svc, _ := newTestService(t)

	got, err := svc.ChangeBreakdown(70)
	if err != nil {
		t.Fatalf("ChangeBreakdown failed: %v", err)
	}
	if got[50] != 1 || got[20] != 1 || len(got) != 2 {
		t.Errorf("expected {50:1 20:1}, got %v", got)
	}

	empty, err := svc.ChangeBreakdown(0)
	if err != nil {
		t.Fatalf("ChangeBreakdown(0) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty breakdown for 0, got %v", empty)
	}
}
