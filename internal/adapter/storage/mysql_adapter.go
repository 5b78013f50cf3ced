package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lqvu/vending-machine/internal/core/domain"
	"github.com/lqvu/vending-machine/internal/port"
)

const mysqlDupEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the tables if they do not exist yet. Timestamps
// are DATETIME(6) so successive updates compare strictly greater.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS slots (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			code VARCHAR(32) NOT NULL,
			capacity INT NOT NULL,
			current_item_count INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uq_slots_code (code)
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			slot_id BIGINT NOT NULL,
			name VARCHAR(200) NOT NULL,
			price INT NOT NULL,
			quantity INT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			KEY idx_items_slot (slot_id),
			CONSTRAINT fk_items_slot FOREIGN KEY (slot_id) REFERENCES slots (id)
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id CHAR(36) PRIMARY KEY,
			item_id BIGINT NOT NULL,
			item_name VARCHAR(200) NOT NULL,
			price INT NOT NULL,
			cash_inserted INT NOT NULL,
			change_due INT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			KEY idx_sales_item (item_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InTx wraps fn in one transaction; the deferred rollback is a no-op
// after a successful commit.
func (m *MySQLAdapter) InTx(ctx context.Context, fn func(tx port.TxStore) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) CreateSlot(ctx context.Context, slot *domain.Slot) error {
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO slots (code, capacity, current_item_count, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`,
		slot.Code, slot.Capacity, slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDupEntry {
			return domain.ErrSlotExists
		}
		return fmt.Errorf("insert slot: %w", err)
	}
	slot.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("slot insert id: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetSlot(ctx context.Context, slotID int64) (*domain.Slot, error) {
	return scanSlot(m.db.QueryRowContext(ctx, `
		SELECT id, code, capacity, current_item_count, created_at, updated_at
		FROM slots WHERE id = ?`, slotID))
}

func (m *MySQLAdapter) ListSlots(ctx context.Context) ([]domain.Slot, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, code, capacity, current_item_count, created_at, updated_at
		FROM slots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	slots := []domain.Slot{}
	for rows.Next() {
		var s domain.Slot
		if err := rows.Scan(&s.ID, &s.Code, &s.Capacity, &s.CurrentItemCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (m *MySQLAdapter) ListSlotsWithItems(ctx context.Context) ([]domain.SlotWithItems, error) {
	slots, err := m.ListSlots(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, slot_id, name, price, quantity, created_at, updated_at
		FROM items ORDER BY slot_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	bySlot := make(map[int64][]domain.Item)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.SlotID, &it.Name, &it.Price, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		bySlot[it.SlotID] = append(bySlot[it.SlotID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.SlotWithItems, 0, len(slots))
	for _, s := range slots {
		items := bySlot[s.ID]
		if items == nil {
			items = []domain.Item{}
		}
		out = append(out, domain.SlotWithItems{Slot: s, Items: items})
	}
	return out, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return scanItem(m.db.QueryRowContext(ctx, `
		SELECT id, slot_id, name, price, quantity, created_at, updated_at
		FROM items WHERE id = ?`, itemID))
}

// ReconcileSlotCounts rewrites any slot counter that no longer equals
// the sum of its items' quantities. Each slot row is locked before the
// comparison so concurrent adds and purchases cannot interleave.
func (m *MySQLAdapter) ReconcileSlotCounts(ctx context.Context) ([]int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM slots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query slot ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan slot id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var fixed []int64
	for _, id := range ids {
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT current_item_count FROM slots WHERE id = ? FOR UPDATE`, id,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			continue // deleted since listing
		}
		if err != nil {
			return nil, fmt.Errorf("lock slot %d: %w", id, err)
		}

		var actual int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(quantity), 0) FROM items WHERE slot_id = ?`, id,
		).Scan(&actual); err != nil {
			return nil, fmt.Errorf("sum items for slot %d: %w", id, err)
		}

		if current != actual {
			if _, err := tx.ExecContext(ctx,
				`UPDATE slots SET current_item_count = ?, updated_at = ? WHERE id = ?`,
				actual, time.Now(), id,
			); err != nil {
				return nil, fmt.Errorf("repair slot %d: %w", id, err)
			}
			fixed = append(fixed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fixed, nil
}

// mysqlTx implements port.TxStore on top of one open transaction.
type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetSlotForUpdate(ctx context.Context, slotID int64) (*domain.Slot, error) {
	return scanSlot(t.tx.QueryRowContext(ctx, `
		SELECT id, code, capacity, current_item_count, created_at, updated_at
		FROM slots WHERE id = ? FOR UPDATE`, slotID))
}

func (t *mysqlTx) GetItemForUpdate(ctx context.Context, itemID int64) (*domain.Item, error) {
	return scanItem(t.tx.QueryRowContext(ctx, `
		SELECT id, slot_id, name, price, quantity, created_at, updated_at
		FROM items WHERE id = ? FOR UPDATE`, itemID))
}

func (t *mysqlTx) InsertItem(ctx context.Context, item *domain.Item) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO items (slot_id, name, price, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.SlotID, item.Name, item.Price, item.Quantity, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("item insert id: %w", err)
	}
	return nil
}

func (t *mysqlTx) SetSlotItemCount(ctx context.Context, slotID int64, count int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE slots SET current_item_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now(), slotID,
	)
	if err != nil {
		return fmt.Errorf("update slot count: %w", err)
	}
	return nil
}

func (t *mysqlTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE items SET quantity = ?, updated_at = ? WHERE id = ?`,
		quantity, time.Now(), itemID,
	)
	if err != nil {
		return fmt.Errorf("update item quantity: %w", err)
	}
	return nil
}

func (t *mysqlTx) SetItemPrice(ctx context.Context, itemID int64, price int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE items SET price = ?, updated_at = ? WHERE id = ?`,
		price, time.Now(), itemID,
	)
	if err != nil {
		return fmt.Errorf("update item price: %w", err)
	}
	return nil
}

func (t *mysqlTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, item_id, item_name, price, cash_inserted, change_due, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.ItemID, sale.ItemName, sale.Price, sale.CashInserted, sale.ChangeDue, sale.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(row rowScanner) (*domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.Code, &s.Capacity, &s.CurrentItemCount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot: %w", err)
	}
	return &s, nil
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.SlotID, &it.Name, &it.Price, &it.Quantity, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	return &it, nil
}

// Compile-time check that the adapter satisfies the port.
var _ port.VendingRepository = (*MySQLAdapter)(nil)
