package orders

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
	"golang.org/x/text/currency"
)

type Repo struct{ DB *pgxpool.Pool }

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{DB: db} }

// Create inserts the order and its items in one transaction.
func (r *Repo) Create(ctx context.Context, o Order) error {
	return postgres.Exec(ctx, r.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, cart_id, status, currency,
				subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount,
				payment_id, shipping_address, billing_address, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			o.ID, o.UserID, o.CartID, string(o.Status), o.Currency.String(),
			o.Subtotal, o.Shipping, o.Tax, o.Discount, o.Total,
			o.PaymentID, o.ShippingAddress, o.BillingAddress, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`
				INSERT INTO order_items (order_id, line_no, product_id, sku, title_snapshot, unit_price, quantity, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				o.ID, i+1, it.ProductID, it.SKU, it.TitleSnapshot, it.UnitPrice, it.Quantity, it.LineTotal)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

const orderColumns = `id, user_id, cart_id, status, currency,
	subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount,
	payment_id, shipping_address, billing_address, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status, cur string
	err := row.Scan(&o.ID, &o.UserID, &o.CartID, &status, &cur,
		&o.Subtotal, &o.Shipping, &o.Tax, &o.Discount, &o.Total,
		&o.PaymentID, &o.ShippingAddress, &o.BillingAddress, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Currency, err = currency.ParseISO(cur)
	if err != nil {
		return Order{}, fmt.Errorf("currency[%s] is not valid: %w", cur, err)
	}
	return o, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.NotFound("order", id.String())
	}
	if err != nil {
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	if err := r.loadItems(ctx, []*Order{&o}); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Order, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ptrs := make([]*Order, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := r.loadItems(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repo) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, sku, title_snapshot, unit_price, quantity, line_total
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var it OrderItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.SKU, &it.TitleSnapshot, &it.UnitPrice, &it.Quantity, &it.LineTotal); err != nil {
			return err
		}
		o := byID[orderID]
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *Repo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("order", id.String())
	}
	if err != nil {
		return fmt.Errorf("select order status: %w", err)
	}
	return apperr.VersionConflict("order", id.String()).
		WithDetail("expected_status", string(from)).
		WithDetail("current_status", current)
}

func (r *Repo) SetPayment(ctx context.Context, id, paymentID uuid.UUID, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET payment_id=$2, updated_at=$3 WHERE id=$1`, id, paymentID, at)
	if err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("order", id.String())
	}
	return nil
}

func (r *Repo) AddRemediation(ctx context.Context, rem Remediation) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO remediations (id, order_id, kind, target_id, reason, status, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rem.ID, rem.OrderID, string(rem.Kind), rem.TargetID, rem.Reason, string(rem.Status), rem.CreatedAt, rem.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert remediation: %w", err)
	}
	return nil
}

func (r *Repo) ListRemediations(ctx context.Context, status RemediationStatus) ([]Remediation, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, kind, target_id, reason, status, created_at, resolved_at
		FROM remediations WHERE $1 = '' OR status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("select remediations: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Remediation])
	if err != nil {
		return nil, fmt.Errorf("collect remediations: %w", err)
	}
	return out, nil
}

func (r *Repo) ResolveRemediation(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE remediations SET status=$2, resolved_at=$3 WHERE id=$1 AND status=$4`,
		id, string(RemediationResolved), at, string(RemediationOpen))
	if err != nil {
		return fmt.Errorf("resolve remediation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM remediations WHERE id=$1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("select remediation: %w", err)
		}
		if !exists {
			return apperr.NotFound("remediation", id.String())
		}
	}
	return nil
}
