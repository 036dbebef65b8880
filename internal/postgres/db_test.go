package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/ariefcatur/order-fulfillment/internal/postgres/postgrestest"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx(t *testing.T) {
	pool := postgrestest.Start(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `CREATE TABLE tx_scratch (id INT PRIMARY KEY)`)
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM tx_scratch`).Scan(&n))
		return n
	}

	t.Run("commit on success: ok", func(t *testing.T) {
		got, err := postgres.WithTx(ctx, pool, func(tx pgx.Tx) (int, error) {
			_, err := tx.Exec(ctx, `INSERT INTO tx_scratch VALUES (1)`)
			return 1, err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, got)
		assert.Equal(t, 1, count())
	})

	t.Run("rollback on error: fail", func(t *testing.T) {
		boom := errors.New("boom")
		err := postgres.Exec(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `INSERT INTO tx_scratch VALUES (2)`); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, count())
	})

	t.Run("unique violation is detected: fail", func(t *testing.T) {
		err := postgres.Exec(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `INSERT INTO tx_scratch VALUES (1)`)
			return err
		})
		require.Error(t, err)
		assert.True(t, postgres.IsUniqueViolation(err, ""))
		assert.True(t, postgres.IsUniqueViolation(err, "tx_scratch_pkey"))
		assert.False(t, postgres.IsUniqueViolation(err, "other_key"))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := postgrestest.Start(t)

	require.NoError(t, postgres.Migrate(context.Background(), pool))
}
