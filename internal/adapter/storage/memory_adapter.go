package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lqvu/vending-machine/internal/core/domain"
	"github.com/lqvu/vending-machine/internal/port"
)

// MemoryAdapter is an in-memory VendingRepository used by tests. A single
// mutex serializes transactions, which matches the isolation the MySQL
// adapter gets from row locks closely enough for invariant checks.
type MemoryAdapter struct {
	mu         sync.Mutex
	slots      map[int64]*domain.Slot
	items      map[int64]*domain.Item
	sales      []domain.Sale
	nextSlotID int64
	nextItemID int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		slots:      make(map[int64]*domain.Slot),
		items:      make(map[int64]*domain.Item),
		nextSlotID: 1,
		nextItemID: 1,
	}
}

func (m *MemoryAdapter) InTx(ctx context.Context, fn func(tx port.TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	shadow := m.snapshot()
	if err := fn(&memoryTx{m: m}); err != nil {
		m.restore(shadow)
		return err
	}
	return nil
}

func (m *MemoryAdapter) CreateSlot(ctx context.Context, slot *domain.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.slots {
		if s.Code == slot.Code {
			return domain.ErrSlotExists
		}
	}
	slot.ID = m.nextSlotID
	m.nextSlotID++
	cp := *slot
	m.slots[slot.ID] = &cp
	return nil
}

func (m *MemoryAdapter) GetSlot(ctx context.Context, slotID int64) (*domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slotID]
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryAdapter) ListSlots(ctx context.Context) ([]domain.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listSlotsLocked(), nil
}

func (m *MemoryAdapter) ListSlotsWithItems(ctx context.Context) ([]domain.SlotWithItems, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.SlotWithItems{}
	for _, s := range m.listSlotsLocked() {
		items := []domain.Item{}
		for _, it := range m.listItemsLocked() {
			if it.SlotID == s.ID {
				items = append(items, it)
			}
		}
		out = append(out, domain.SlotWithItems{Slot: s, Items: items})
	}
	return out, nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryAdapter) ReconcileSlotCounts(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fixed []int64
	for id, s := range m.slots {
		actual := 0
		for _, it := range m.items {
			if it.SlotID == id {
				actual += it.Quantity
			}
		}
		if s.CurrentItemCount != actual {
			s.CurrentItemCount = actual
			s.UpdatedAt = time.Now()
			fixed = append(fixed, id)
		}
	}
	sort.Slice(fixed, func(i, j int) bool { return fixed[i] < fixed[j] })
	return fixed, nil
}

// Sales returns a copy of the sale ledger for test assertions.
func (m *MemoryAdapter) Sales() []domain.Sale {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Sale(nil), m.sales...)
}

func (m *MemoryAdapter) listSlotsLocked() []domain.Slot {
	out := make([]domain.Slot, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryAdapter) listItemsLocked() []domain.Item {
	out := make([]domain.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memorySnapshot struct {
	slots      map[int64]*domain.Slot
	items      map[int64]*domain.Item
	sales      []domain.Sale
	nextSlotID int64
	nextItemID int64
}

func (m *MemoryAdapter) snapshot() memorySnapshot {
	slots := make(map[int64]*domain.Slot, len(m.slots))
	for id, s := range m.slots {
		cp := *s
		slots[id] = &cp
	}
	items := make(map[int64]*domain.Item, len(m.items))
	for id, it := range m.items {
		cp := *it
		items[id] = &cp
	}
	return memorySnapshot{
		slots:      slots,
		items:      items,
		sales:      append([]domain.Sale(nil), m.sales...),
		nextSlotID: m.nextSlotID,
		nextItemID: m.nextItemID,
	}
}

func (m *MemoryAdapter) restore(s memorySnapshot) {
	m.slots = s.slots
	m.items = s.items
	m.sales = s.sales
	m.nextSlotID = s.nextSlotID
	m.nextItemID = s.nextItemID
}

type memoryTx struct {
	m *MemoryAdapter
}

func (t *memoryTx) GetSlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error) {
	s, ok := t.m.slots[slotID]
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memoryTx) GetItemForUpdate(ctx context.Context, itemID int64) (*domain.Item, error) {
	it, ok := t.m.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item *domain.Item) error {
	item.ID = t.m.nextItemID
	t.m.nextItemID++
	cp := *item
	t.m.items[item.ID] = &cp
	return nil
}

func (t *memoryTx) SetSlotItemCount(ctx context.Context, slotID int64, count int) error {
	s, ok := t.m.slots[slotID]
	if !ok {
		return domain.ErrSlotNotFound
	}
	s.CurrentItemCount = count
	s.UpdatedAt = time.Now()
	return nil
}

func (t *memoryTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	it, ok := t.m.items[itemID]
	if !ok {
		return domain.ErrItemNotFound
	}
	it.Quantity = quantity
	it.UpdatedAt = time.Now()
	return nil
}

func (t *memoryTx) SetItemPrice(ctx context.Context, itemID int64, price int) error {
	it, ok := t.m.items[itemID]
	if !ok {
		return domain.ErrItemNotFound
	}
	it.Price = price
	it.UpdatedAt = time.Now()
	return nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	t.m.sales = append(t.m.sales, *sale)
	return nil
}

var _ port.VendingRepository = (*MemoryAdapter)(nil)
var _ port.TxStore = (*memoryTx)(nil)
