package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

func (s *PGStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return postgres.Exec(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

const stockColumns = `sku, product_id, available_qty, reserved_qty, low_stock_threshold, version, updated_at`

func scanStockItem(row pgx.Row) (StockItem, error) {
	var it StockItem
	err := row.Scan(&it.SKU, &it.ProductID, &it.AvailableQty, &it.ReservedQty, &it.LowStockThreshold, &it.Version, &it.UpdatedAt)
	return it, err
}

func (s *PGStore) GetStockItem(ctx context.Context, sku string) (StockItem, error) {
	it, err := scanStockItem(s.DB.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE sku=$1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, apperr.NotFound("stock item", sku)
	}
	if err != nil {
		return StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return it, nil
}

func (s *PGStore) ListLowStock(ctx context.Context) ([]StockItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+stockColumns+` FROM stock_items
		WHERE available_qty <= low_stock_threshold ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("select low stock: %w", err)
	}
	defer rows.Close()

	var out []StockItem
	for rows.Next() {
		it, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PGStore) Movements(ctx context.Context, sku string) ([]Movement, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, sku, type, quantity, available_before, available_after,
		       reserved_before, reserved_after, reservation_id, reason, created_at
		FROM stock_movements WHERE sku=$1 ORDER BY seq`, sku)
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var mt string
		if err := rows.Scan(&m.ID, &m.SKU, &mt, &m.Quantity, &m.AvailableBefore, &m.AvailableAfter,
			&m.ReservedBefore, &m.ReservedAfter, &m.ReservationID, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return loadReservation(ctx, s.DB, `WHERE id=$1`, id)
}

func (s *PGStore) FindReservationByOrder(ctx context.Context, orderID uuid.UUID) (Reservation, error) {
	return loadReservation(ctx, s.DB, `WHERE order_id=$1`, orderID)
}

func (s *PGStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM reservations
		WHERE status='ACTIVE' AND expires_at < $1
		ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired reservations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadReservation(ctx context.Context, q querier, where string, arg any) (Reservation, error) {
	var r Reservation
	var status string
	err := q.QueryRow(ctx, `
		SELECT id, order_id, status, expires_at, created_at, updated_at
		FROM reservations `+where, arg).
		Scan(&r.ID, &r.OrderID, &status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, apperr.NotFound("reservation", fmt.Sprint(arg))
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("select reservation: %w", err)
	}
	r.Status = ReservationStatus(status)

	rows, err := q.Query(ctx, `SELECT sku, quantity FROM reservation_lines WHERE reservation_id=$1 ORDER BY sku`, r.ID)
	if err != nil {
		return Reservation{}, fmt.Errorf("select reservation lines: %w", err)
	}
	r.Lines, err = pgx.CollectRows(rows, pgx.RowToStructByPos[Line])
	if err != nil {
		return Reservation{}, fmt.Errorf("collect reservation lines: %w", err)
	}
	return r, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockStockItem(ctx context.Context, sku string) (StockItem, error) {
	it, err := scanStockItem(t.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stock_items WHERE sku=$1 FOR UPDATE`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, apperr.NotFound("stock item", sku)
	}
	if err != nil {
		return StockItem{}, fmt.Errorf("lock stock item: %w", err)
	}
	return it, nil
}

func (t *pgTx) InsertStockItem(ctx context.Context, it StockItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_items (sku, product_id, available_qty, reserved_qty, low_stock_threshold, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		it.SKU, it.ProductID, it.AvailableQty, it.ReservedQty, it.LowStockThreshold, it.Version, it.UpdatedAt)
	if postgres.IsUniqueViolation(err, "") {
		return apperr.DuplicateSKU(it.SKU)
	}
	return err
}

func (t *pgTx) UpdateStockItem(ctx context.Context, it StockItem) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE stock_items
		SET available_qty=$2, reserved_qty=$3, low_stock_threshold=$4, version=$5, updated_at=$6
		WHERE sku=$1`,
		it.SKU, it.AvailableQty, it.ReservedQty, it.LowStockThreshold, it.Version, it.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("stock item", it.SKU)
	}
	return nil
}

func (t *pgTx) AddMovement(ctx context.Context, m Movement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (id, sku, type, quantity, available_before, available_after,
		                             reserved_before, reserved_after, reservation_id, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.SKU, string(m.Type), m.Quantity, m.AvailableBefore, m.AvailableAfter,
		m.ReservedBefore, m.ReservedAfter, m.ReservationID, m.Reason, m.CreatedAt)
	return err
}

func (t *pgTx) ReservationExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE order_id=$1)`, orderID).Scan(&exists)
	return exists, err
}

func (t *pgTx) LockReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	var locked uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT id FROM reservations WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, apperr.NotFound("reservation", id.String())
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("lock reservation: %w", err)
	}
	return loadReservation(ctx, t.tx, `WHERE id=$1`, id)
}

func (t *pgTx) InsertReservation(ctx context.Context, r Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (id, order_id, status, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.OrderID, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if postgres.IsUniqueViolation(err, "reservations_order_id_key") {
		return apperr.DuplicateReservation(r.OrderID.String())
	}
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, line := range r.Lines {
		batch.Queue(`INSERT INTO reservation_lines (reservation_id, sku, quantity) VALUES ($1,$2,$3)`,
			r.ID, line.SKU, line.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE reservations SET status=$2, updated_at=$3 WHERE id=$1`, id, string(status), at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.NotFound("reservation", id.String())
	}
	return nil
}
