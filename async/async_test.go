/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package async_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm/async"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/internal/testdb"
	"github.com/tomoncle/txorm/session"
	"github.com/uptrace/bun"
)

type account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Name    string `bun:"name,notnull"`
	Email   string `bun:"email,nullzero"`
	Balance int64  `bun:"balance,notnull"`
}

const (
	accountCols   = `SELECT "id", "name", COALESCE("email", '') AS "email", "balance" FROM "accounts"`
	selectAccount = accountCols + ` WHERE "id" = $1`
)

func exact(query string) string { return "^" + regexp.QuoteMeta(query) + "$" }

func accountRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "name", "email", "balance"})
}

func newMockProvider(t *testing.T, cfg *database.ConnectionConfig) (pgxmock.PgxPoolIface, *async.Provider) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	if cfg == nil {
		cfg = database.DefaultConnectionConfig()
		cfg.PoolTimeout = time.Second
	}
	manager := async.NewConnectionManagerWithPool(mock, cfg)
	manager.SetLogger(database.NopLogger())
	return mock, async.NewProvider(manager, async.WithLogger(database.NopLogger()))
}

func newAccounts(t *testing.T, provider *async.Provider) *async.Repository[account] {
	t.Helper()
	repo, err := async.NewRepository[account](provider)
	require.NoError(t, err)
	return repo
}

func TestProvider_WithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("Should commit when the callback succeeds", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec(exact(`UPDATE accounts SET balance = 0`)).
			WithArgs().
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		mock.ExpectCommit()

		var handle *async.Session
		err := provider.WithTransaction(ctx, func(ctx context.Context, s *async.Session) error {
			handle = s
			n, err := s.Execute(ctx, `UPDATE accounts SET balance = 0`)
			assert.Equal(t, int64(2), n)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, session.StateClosed, handle.State())
		assert.Equal(t, session.StateCommitted, handle.Outcome())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back and return the callback error unchanged", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectRollback()

		sentinel := errors.New("boom")
		var handle *async.Session
		err := provider.WithTransaction(ctx, func(_ context.Context, s *async.Session) error {
			handle = s
			return sentinel
		})
		assert.Same(t, sentinel, err)
		assert.Equal(t, session.StateRolledBack, handle.Outcome())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back and re-panic", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = provider.WithTransaction(ctx, func(context.Context, *async.Session) error {
				panic("kaboom")
			})
		})
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should log a failed rollback and keep the original error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		cfg := database.DefaultConnectionConfig()
		logger := &testdb.Logger{}
		provider := async.NewProvider(async.NewConnectionManagerWithPool(mock, cfg), async.WithLogger(logger))
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

		sentinel := errors.New("callback failed")
		err = provider.WithTransaction(ctx, func(context.Context, *async.Session) error { return sentinel })
		assert.Same(t, sentinel, err)
		entry, ok := logger.Find("Failed to rollback transaction")
		require.True(t, ok)
		assert.Equal(t, sentinel, entry.Fields["original_error"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report a failed commit as a transaction failure", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := provider.WithTransaction(ctx, func(context.Context, *async.Session) error { return nil })
		var tf *database.TransactionFailureError
		require.ErrorAs(t, err, &tf)
		assert.Equal(t, "commit", tf.Op)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should fail with pool exhausted when no connection frees up in time", func(t *testing.T) {
		cfg := database.DefaultConnectionConfig()
		cfg.PoolTimeout = 50 * time.Millisecond
		mock, provider := newMockProvider(t, cfg)
		mock.ExpectBegin().WillDelayFor(time.Second)

		called := false
		err := provider.WithTransaction(ctx, func(context.Context, *async.Session) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, database.ErrPoolExhausted)
		assert.False(t, called)
		var pe *database.PoolExhaustedError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, 50*time.Millisecond, pe.Timeout)
	})

	t.Run("Should retry a scope after pool exhaustion", func(t *testing.T) {
		cfg := database.DefaultConnectionConfig()
		cfg.PoolTimeout = 20 * time.Millisecond
		mock, provider := newMockProvider(t, cfg)
		mock.ExpectBegin().WillDelayFor(time.Second)
		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err := provider.WithTransactionRetry(ctx, session.DefaultRetryBackoff(), func(context.Context, *async.Session) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject statements after the scope ends", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectCommit()

		var handle *async.Session
		require.NoError(t, provider.WithTransaction(ctx, func(_ context.Context, s *async.Session) error {
			handle = s
			return nil
		}))
		_, err := handle.Execute(ctx, `SELECT 1`)
		require.ErrorIs(t, err, database.ErrInvalidHandleState)
		_, err = handle.Tx()
		require.ErrorIs(t, err, database.ErrInvalidHandleState)
	})
}

func TestConnectionManager(t *testing.T) {
	ctx := context.Background()

	t.Run("Should report liveness without returning an error", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectPing()
		mock.ExpectPing().WillReturnError(errors.New("down"))

		assert.True(t, provider.Manager().Ping(ctx))
		assert.False(t, provider.Manager().Ping(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should dispose once and refuse work afterwards", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectClose()

		require.NoError(t, provider.Manager().Dispose())
		require.NoError(t, provider.Manager().Dispose())
		assert.False(t, provider.Manager().Ping(ctx))
		_, err := provider.CreateHandle(ctx)
		require.ErrorIs(t, err, database.ErrNotConnected)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report configured bounds for a non pgxpool pool", func(t *testing.T) {
		cfg := database.DefaultConnectionConfig()
		cfg.PoolSize = 3
		cfg.MaxOverflow = 2
		_, provider := newMockProvider(t, cfg)

		status := provider.Manager().PoolStatus()
		assert.Equal(t, 3, status.Size)
		assert.Equal(t, 2, status.MaxOverflow)
		assert.Zero(t, status.InUse)
	})
}

func TestRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create then reload the stored row", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(`INSERT INTO "accounts" ("name","email","balance") VALUES ($1,$2,$3) RETURNING "id"`)).
			WithArgs("Alice", nil, int64(10)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectQuery(exact(selectAccount)).
			WithArgs(int64(1)).
			WillReturnRows(accountRows().AddRow(int64(1), "Alice", "", int64(10)))
		mock.ExpectCommit()

		got, err := repo.Create(ctx, map[string]any{"name": "Alice", "balance": 10})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, "Alice", got.Name)
		assert.Equal(t, int64(10), got.Balance)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should read a created record back by id in a later scope", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(`^INSERT INTO "accounts"`).
			WithArgs("Bob", "bob@example.com", int64(0)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectQuery(exact(selectAccount)).
			WithArgs(int64(7)).
			WillReturnRows(accountRows().AddRow(int64(7), "Bob", "bob@example.com", int64(0)))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectQuery(exact(selectAccount)).
			WithArgs(int64(7)).
			WillReturnRows(accountRows().AddRow(int64(7), "Bob", "bob@example.com", int64(0)))
		mock.ExpectCommit()

		created, err := repo.Create(ctx, map[string]any{"name": "Bob", "email": "bob@example.com"})
		require.NoError(t, err)
		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created, fetched)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should return nil for an unknown id", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(selectAccount)).WithArgs(int64(404)).WillReturnRows(accountRows())
		mock.ExpectCommit()

		got, err := repo.GetByID(ctx, "404")
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should lock, write the merged columns and reload on update", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(selectAccount + ` FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnRows(accountRows().AddRow(int64(1), "Alice", "", int64(10)))
		mock.ExpectExec(exact(`UPDATE "accounts" SET "balance" = $1 WHERE "id" = $2`)).
			WithArgs(int64(25), int64(1)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(exact(selectAccount)).
			WithArgs(int64(1)).
			WillReturnRows(accountRows().AddRow(int64(1), "Alice", "", int64(25)))
		mock.ExpectCommit()

		got, err := repo.Update(ctx, 1, map[string]any{"balance": 25})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(25), got.Balance)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should return nil when updating an unknown id", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(selectAccount + ` FOR UPDATE`)).WithArgs(int64(9)).WillReturnRows(accountRows())
		mock.ExpectCommit()

		got, err := repo.Update(ctx, 9, map[string]any{"balance": 1})
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject unknown fields before touching the store", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := repo.Update(ctx, 1, map[string]any{"nickname": "x"})
		var uf *database.UnknownFieldError
		require.ErrorAs(t, err, &uf)
		assert.Equal(t, "nickname", uf.Field)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should classify a unique violation on create", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(`^INSERT INTO "accounts"`).
			WithArgs("Alice", "a@example.com", int64(0)).
			WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
		mock.ExpectRollback()

		_, err := repo.Create(ctx, map[string]any{"name": "Alice", "email": "a@example.com"})
		var cv *database.ConstraintViolationError
		require.ErrorAs(t, err, &cv)
		assert.Equal(t, database.DuplicateKeyErr, cv.Kind)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report whether a delete removed a row", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		for _, affected := range []int64{1, 0} {
			mock.ExpectBegin()
			mock.ExpectExec(exact(`DELETE FROM "accounts" WHERE "id" = $1`)).
				WithArgs(int64(1)).
				WillReturnResult(pgxmock.NewResult("DELETE", affected))
			mock.ExpectCommit()
		}

		deleted, err := repo.Delete(ctx, 1)
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = repo.Delete(ctx, 1)
		require.NoError(t, err)
		assert.False(t, deleted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should page through records in key order", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(accountCols + ` ORDER BY "id" ASC LIMIT 2 OFFSET 1`)).
			WithArgs().
			WillReturnRows(accountRows().
				AddRow(int64(2), "Bob", "", int64(0)).
				AddRow(int64(3), "Carol", "c@example.com", int64(5)))
		mock.ExpectCommit()

		got, err := repo.GetAll(ctx, 2, 1)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Bob", got[0].Name)
		assert.Equal(t, "c@example.com", got[1].Email)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should count and check existence", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		repo := newAccounts(t, provider)
		mock.ExpectBegin()
		mock.ExpectQuery(exact(`SELECT count(*) FROM "accounts"`)).
			WithArgs().
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectQuery(exact(`SELECT count(*) FROM "accounts" WHERE "id" = $1`)).
			WithArgs(int64(2)).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectCommit()

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		ok, err := repo.Exists(ctx, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should load many ids concurrently and keep their order", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.MatchExpectationsInOrder(false)
		repo, err := async.NewRepository[account](provider, async.WithFanOut(2))
		require.NoError(t, err)
		for _, id := range []int64{1, 2, 3} {
			mock.ExpectBegin()
			rows := accountRows()
			if id != 2 {
				rows.AddRow(id, "user", "", id*10)
			}
			mock.ExpectQuery(exact(selectAccount)).WithArgs(id).WillReturnRows(rows)
			mock.ExpectCommit()
		}

		got, err := repo.GetMany(ctx, []any{3, 2, 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[0].ID)
		assert.Equal(t, int64(1), got[1].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUnitOfWork(t *testing.T) {
	ctx := context.Background()

	t.Run("Should share one handle and roll back everything on failure", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectQuery(`^INSERT INTO "accounts"`).
			WithArgs("Alice", nil, int64(0)).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectQuery(exact(selectAccount)).
			WithArgs(int64(1)).
			WillReturnRows(accountRows().AddRow(int64(1), "Alice", "", int64(0)))
		mock.ExpectQuery(`^INSERT INTO "accounts"`).
			WithArgs("Alice", nil, int64(0)).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		var unit *async.UnitOfWork
		err := async.Run(ctx, provider, func(ctx context.Context, u *async.UnitOfWork) error {
			unit = u
			accounts, err := async.Repo[account](u)
			if err != nil {
				return err
			}
			again, err := async.Repo[account](u)
			require.NoError(t, err)
			assert.Same(t, accounts, again)

			if _, err := accounts.Create(ctx, map[string]any{"name": "Alice"}); err != nil {
				return err
			}
			_, err = accounts.Create(ctx, map[string]any{"name": "Alice"})
			return err
		})
		var cv *database.ConstraintViolationError
		require.ErrorAs(t, err, &cv)
		require.NoError(t, mock.ExpectationsWereMet())

		_, err = unit.Session()
		require.ErrorIs(t, err, async.ErrUnitOfWorkClosed)
		_, err = async.Repo[account](unit)
		require.ErrorIs(t, err, async.ErrUnitOfWorkClosed)
	})

	t.Run("Should commit once when the work succeeds", func(t *testing.T) {
		mock, provider := newMockProvider(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec(exact(`DELETE FROM "accounts" WHERE "id" = $1`)).
			WithArgs(int64(4)).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectQuery(exact(`SELECT count(*) FROM "accounts"`)).
			WithArgs().
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectCommit()

		err := async.Run(ctx, provider, func(ctx context.Context, u *async.UnitOfWork) error {
			accounts, err := async.Repo[account](u)
			if err != nil {
				return err
			}
			deleted, err := accounts.Delete(ctx, 4)
			if err != nil {
				return err
			}
			assert.True(t, deleted)
			n, err := accounts.Count(ctx)
			assert.Zero(t, n)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
