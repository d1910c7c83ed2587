package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marketbay/fulfillment/internal/domain"
)

type inventoryLedger struct {
	db *sql.DB
}

// NewInventoryLedger создаёт PostgreSQL-реализацию InventoryLedger.
// Конкурентные Reserve сериализуются на уровне строки товара: одиночный
// резерв — условным UPDATE, многострочный — блокировками FOR UPDATE,
// взятыми в стабильном порядке product_id.
func NewInventoryLedger(store *Store) domain.InventoryLedger {
	return &inventoryLedger{db: store.DB()}
}

func (l *inventoryLedger) Reserve(ctx context.Context, productID string, qty int64) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE stock
		SET reserved = reserved + $2,
		    version = version + 1,
		    updated_at = $3
		WHERE product_id = $1
		  AND quantity - reserved >= $2
	`, productID, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Либо записи нет, либо не хватило available.
	stock, err := l.Get(ctx, productID)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{
		ProductID: productID,
		Requested: qty,
		Available: stock.Available(),
	}
}

func (l *inventoryLedger) ReserveLines(ctx context.Context, lines []domain.ReservationLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return domain.ErrLinesRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Сначала проверяем все позиции под блокировками, затем применяем:
	// всё-или-ничего.
	for _, line := range merged {
		var quantity, reserved int64
		err = tx.QueryRowContext(ctx, `
			SELECT quantity, reserved
			FROM stock
			WHERE product_id = $1
			FOR UPDATE
		`, line.ProductID).Scan(&quantity, &reserved)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = &domain.InsufficientStockError{ProductID: line.ProductID, Requested: line.Qty, Available: 0}
			}
			return err
		}
		if quantity-reserved < line.Qty {
			err = &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: quantity - reserved,
			}
			return err
		}
	}

	now := time.Now().UTC()
	for _, line := range merged {
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock
			SET reserved = reserved + $2,
			    version = version + 1,
			    updated_at = $3
			WHERE product_id = $1
		`, line.ProductID, line.Qty, now); err != nil {
			return fmt.Errorf("apply reserve for %s: %w", line.ProductID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	return nil
}

func (l *inventoryLedger) Release(ctx context.Context, productID string, qty int64) (int64, error) {
	if productID == "" {
		return 0, domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return 0, domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LEAST не даёт резерву уйти ниже нуля при двойном освобождении.
	// RETURNING видит уже обновлённую строку, прежний резерв берём
	// из заблокированного подзапроса.
	var released int64
	err := l.db.QueryRowContext(ctx, `
		UPDATE stock
		SET reserved = stock.reserved - LEAST(stock.reserved, $2),
		    version = stock.version + 1,
		    updated_at = $3
		FROM (
			SELECT reserved AS prev
			FROM stock
			WHERE product_id = $1
			FOR UPDATE
		) old
		WHERE stock.product_id = $1
		RETURNING LEAST(old.prev, $2)
	`, productID, qty, time.Now().UTC()).Scan(&released)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrStockNotFound
		}
		return 0, fmt.Errorf("release stock: %w", err)
	}

	return released, nil
}

func (l *inventoryLedger) ReleaseLines(ctx context.Context, lines []domain.ReservationLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	for _, line := range merged {
		if _, err := l.Release(ctx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (l *inventoryLedger) Commit(ctx context.Context, productID string, qty int64) error {
	if productID == "" {
		return domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE stock
		SET quantity = quantity - LEAST(reserved, $2),
		    reserved = reserved - LEAST(reserved, $2),
		    version = version + 1,
		    updated_at = $3
		WHERE product_id = $1
	`, productID, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("commit stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrStockNotFound
	}
	return nil
}

func (l *inventoryLedger) CommitLines(ctx context.Context, lines []domain.ReservationLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	for _, line := range merged {
		if err := l.Commit(ctx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (l *inventoryLedger) Get(ctx context.Context, productID string) (domain.Stock, error) {
	if productID == "" {
		return domain.Stock{}, domain.ErrProductIDRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stock domain.Stock
	err := l.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, reserved, location, version, created_at, updated_at
		FROM stock
		WHERE product_id = $1
	`, productID).Scan(
		&stock.ProductID, &stock.Quantity, &stock.Reserved, &stock.Location,
		&stock.Version, &stock.CreatedAt, &stock.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stock{}, domain.ErrStockNotFound
		}
		return domain.Stock{}, fmt.Errorf("select stock: %w", err)
	}

	return stock, nil
}

func (l *inventoryLedger) Put(ctx context.Context, stock domain.Stock) (domain.Stock, error) {
	if errs := stock.Validate(); len(errs) > 0 {
		return domain.Stock{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	// Upsert сохраняет текущий резерв: продавец меняет quantity и location,
	// а reserved принадлежит жизненному циклу заказов. Новое количество
	// ниже резерва отклоняется WHERE-условием.
	var saved domain.Stock
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO stock (product_id, quantity, reserved, location, version, created_at, updated_at)
		VALUES ($1, $2, 0, $3, 1, $4, $4)
		ON CONFLICT (product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    location = EXCLUDED.location,
		    version = stock.version + 1,
		    updated_at = EXCLUDED.updated_at
		WHERE stock.reserved <= EXCLUDED.quantity
		RETURNING product_id, quantity, reserved, location, version, created_at, updated_at
	`, stock.ProductID, stock.Quantity, stock.Location, now).Scan(
		&saved.ProductID, &saved.Quantity, &saved.Reserved, &saved.Location,
		&saved.Version, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stock{}, domain.ErrStockInvariantViolated
		}
		return domain.Stock{}, fmt.Errorf("upsert stock: %w", err)
	}

	return saved, nil
}

func (l *inventoryLedger) List(ctx context.Context, limit int) ([]domain.Stock, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT product_id, quantity, reserved, location, version, created_at, updated_at
		FROM stock
		ORDER BY product_id
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = l.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = l.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	defer rows.Close()

	stocks := make([]domain.Stock, 0)
	for rows.Next() {
		var stock domain.Stock
		if err := rows.Scan(
			&stock.ProductID, &stock.Quantity, &stock.Reserved, &stock.Location,
			&stock.Version, &stock.CreatedAt, &stock.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock row: %w", err)
		}
		stocks = append(stocks, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock rows: %w", err)
	}

	return stocks, nil
}

// mergeLines объединяет дубли по product_id и сортирует результат,
// фиксируя порядок взятия блокировок.
func mergeLines(lines []domain.ReservationLine) ([]domain.ReservationLine, error) {
	byProduct := make(map[string]int64, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, domain.ErrProductIDRequired
		}
		if line.Qty <= 0 {
			return nil, domain.ErrLineQtyInvalid
		}
		byProduct[line.ProductID] += line.Qty
	}

	merged := make([]domain.ReservationLine, 0, len(byProduct))
	for productID, qty := range byProduct {
		merged = append(merged, domain.ReservationLine{ProductID: productID, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

var _ domain.InventoryLedger = (*inventoryLedger)(nil)
