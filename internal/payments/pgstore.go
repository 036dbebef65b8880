package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/currency"
)

type PGStore struct{ DB *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{DB: db} }

const paymentColumns = `id, order_id, user_id, status, amount, captured_amount, refunded_amount,
	currency, provider, version, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var status, cur string
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &status, &p.Amount, &p.CapturedAmount, &p.RefundedAmount,
		&cur, &p.Provider, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	p.Currency, err = currency.ParseISO(cur)
	if err != nil {
		return Payment{}, fmt.Errorf("currency[%s] is not valid: %w", cur, err)
	}
	return p, nil
}

func (s *PGStore) Create(ctx context.Context, p Payment) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.OrderID, p.UserID, string(p.Status), p.Amount, p.CapturedAmount, p.RefundedAmount,
		p.Currency.String(), p.Provider, p.Version, p.CreatedAt, p.UpdatedAt)
	if postgres.IsUniqueViolation(err, "payments_order_id_key") {
		return apperr.DuplicatePayment(p.OrderID.String())
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("payment", id.String())
	}
	return p, err
}

func (s *PGStore) GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	p, err := scanPayment(s.DB.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("payment for order", orderID.String())
	}
	return p, err
}

func (s *PGStore) Record(ctx context.Context, p Payment, expectedVersion int64, t Transaction) error {
	return postgres.Exec(ctx, s.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE payments
			SET status=$3, captured_amount=$4, refunded_amount=$5, version=$6, updated_at=$7
			WHERE id=$1 AND version=$2`,
			p.ID, expectedVersion, string(p.Status), p.CapturedAmount, p.RefundedAmount, p.Version, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return apperr.VersionConflict("payment", p.ID.String())
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payment_transactions
				(id, payment_id, type, status, amount, provider_reference, error_message, idempotency_key, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)`,
			t.ID, t.PaymentID, string(t.Type), string(t.Status), t.Amount,
			t.ProviderReference, t.ErrorMessage, t.IdempotencyKey, t.CreatedAt)
		if postgres.IsUniqueViolation(err, "payment_transactions_idempotency_key_key") {
			return errKeyTaken
		}
		if err != nil {
			return fmt.Errorf("insert payment transaction: %w", err)
		}
		return nil
	})
}

const txColumns = `id, payment_id, type, status, amount, provider_reference, error_message,
	COALESCE(idempotency_key, ''), created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var typ, status string
	err := row.Scan(&t.ID, &t.PaymentID, &typ, &status, &t.Amount, &t.ProviderReference, &t.ErrorMessage,
		&t.IdempotencyKey, &t.CreatedAt)
	t.Type = TxType(typ)
	t.Status = TxStatus(status)
	return t, err
}

func (s *PGStore) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	t, err := scanTransaction(s.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE idempotency_key=$1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("select transaction by key: %w", err)
	}
	return t, true, nil
}

func (s *PGStore) Transactions(ctx context.Context, paymentID uuid.UUID) ([]Transaction, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+txColumns+` FROM payment_transactions
		WHERE payment_id=$1 ORDER BY created_at, id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
