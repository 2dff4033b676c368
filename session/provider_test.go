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

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/internal/testdb"
	"github.com/tomoncle/txorm/session"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type recordingObserver struct {
	mu       sync.Mutex
	opened   int
	outcomes []session.State
}

func (o *recordingObserver) HandleOpened(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) HandleFinished(_ string, outcome session.State, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func insertUser(ctx context.Context, s *session.Session, name string) error {
	_, err := s.Execute(ctx, "INSERT INTO users (name, age) VALUES (?, ?)", name, 30)
	return err
}

func TestProvider_WithTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("Should commit when the callback succeeds", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		observer := &recordingObserver{}
		provider := session.NewProvider(manager, session.WithObserver(observer), session.WithLogger(database.NopLogger()))

		var handle *session.Session
		err := provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
			handle = s
			assert.Equal(t, session.StateOpen, s.State())
			return insertUser(ctx, s, "Alice")
		})
		require.NoError(t, err)
		assert.Equal(t, session.StateClosed, handle.State())
		assert.Equal(t, session.StateCommitted, handle.Outcome())
		assert.Equal(t, 1, testdb.CountRows(t, manager, "users"))
		assert.Equal(t, 1, observer.opened)
		assert.Equal(t, []session.State{session.StateCommitted}, observer.outcomes)
		assert.Equal(t, 0, manager.PoolStatus().InUse)
	})

	t.Run("Should roll back and return the callback error unchanged", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))
		boom := errors.New("boom")

		var handle *session.Session
		err := provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
			handle = s
			require.NoError(t, insertUser(ctx, s, "Bob"))
			return boom
		})
		assert.Same(t, boom, err)
		assert.Equal(t, session.StateRolledBack, handle.Outcome())
		assert.Equal(t, session.StateClosed, handle.State())
		assert.Equal(t, 0, testdb.CountRows(t, manager, "users"))
	})

	t.Run("Should roll back and re-panic when the callback panics", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))

		var handle *session.Session
		assert.PanicsWithValue(t, "kaboom", func() {
			_ = provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
				handle = s
				require.NoError(t, insertUser(ctx, s, "Carol"))
				panic("kaboom")
			})
		})
		assert.Equal(t, session.StateRolledBack, handle.Outcome())
		assert.Equal(t, session.StateClosed, handle.State())
		assert.Equal(t, 0, testdb.CountRows(t, manager, "users"))
		assert.Equal(t, 0, manager.PoolStatus().InUse)
	})

	t.Run("Should not commit twice when the callback already committed", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))

		err := provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
			require.NoError(t, insertUser(ctx, s, "Dave"))
			return s.Commit(ctx)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, testdb.CountRows(t, manager, "users"))
	})

	t.Run("Should fail with PoolExhausted without running the callback", func(t *testing.T) {
		cfg := testdb.Config(t)
		cfg.PoolSize = 1
		cfg.MaxOverflow = 0
		cfg.PoolTimeout = 100 * time.Millisecond
		manager := testdb.Open(t, cfg)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))

		held, err := provider.CreateHandle(ctx)
		require.NoError(t, err)
		defer held.Close(ctx)

		called := false
		start := time.Now()
		err = provider.WithTransaction(ctx, func(context.Context, *session.Session) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, database.ErrPoolExhausted)
		var exhausted *database.PoolExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 100*time.Millisecond, exhausted.Timeout)
		assert.False(t, called)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestProvider_WithTransactionRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Should retry pool exhaustion until a connection is free", func(t *testing.T) {
		cfg := testdb.Config(t)
		cfg.PoolSize = 1
		cfg.MaxOverflow = 0
		cfg.PoolTimeout = 50 * time.Millisecond
		manager := testdb.Open(t, cfg)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))

		held, err := provider.CreateHandle(ctx)
		require.NoError(t, err)
		go func() {
			time.Sleep(120 * time.Millisecond)
			_ = held.Close(context.Background())
		}()

		attempts := 0
		backoff := retry.WithMaxRetries(10, retry.NewConstant(30*time.Millisecond))
		err = provider.WithTransactionRetry(ctx, backoff, func(ctx context.Context, s *session.Session) error {
			attempts++
			return insertUser(ctx, s, "Eve")
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, 1, testdb.CountRows(t, manager, "users"))
	})

	t.Run("Should not retry callback errors", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		provider := session.NewProvider(manager, session.WithLogger(database.NopLogger()))
		boom := errors.New("boom")

		attempts := 0
		err := provider.WithTransactionRetry(ctx, nil, func(context.Context, *session.Session) error {
			attempts++
			return boom
		})
		assert.Same(t, boom, err)
		assert.Equal(t, 1, attempts)
	})
}

func newMockProvider(t *testing.T, logger database.Logger) (*session.Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	cfg := database.DefaultConnectionConfig()
	cfg.PoolPrePing = false
	manager := database.NewConnectionManagerWithDB(db, sqlitedialect.New(), cfg)
	manager.SetLogger(database.NopLogger())
	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(func() { _ = manager.Dispose() })
	return session.NewProvider(manager, session.WithLogger(logger)), mock
}

func TestProvider_FailureInjection(t *testing.T) {
	ctx := context.Background()

	t.Run("Should log a rollback failure and still return the original error", func(t *testing.T) {
		logger := &testdb.Logger{}
		provider, mock := newMockProvider(t, logger)
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

		original := errors.New("validation failed")
		err := provider.WithTransaction(ctx, func(context.Context, *session.Session) error {
			return original
		})
		assert.Same(t, original, err)

		entry, ok := logger.Find("Failed to rollback transaction")
		require.True(t, ok)
		assert.Equal(t, original, entry.Fields["original_error"])
		assert.NotNil(t, entry.Fields["rollback_error"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report a commit failure as a transaction failure", func(t *testing.T) {
		provider, mock := newMockProvider(t, database.NopLogger())
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("disk full"))

		var handle *session.Session
		err := provider.WithTransaction(ctx, func(_ context.Context, s *session.Session) error {
			handle = s
			return nil
		})
		var failure *database.TransactionFailureError
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "commit", failure.Op)
		assert.Equal(t, session.StateRolledBack, handle.Outcome())
		assert.Equal(t, session.StateClosed, handle.State())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should classify a unique violation raised by a statement", func(t *testing.T) {
		provider, mock := newMockProvider(t, database.NopLogger())
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("UNIQUE constraint failed: users.email"))
		mock.ExpectRollback()

		err := provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
			return insertUser(ctx, s, "Frank")
		})
		var violation *database.ConstraintViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, database.DuplicateKeyErr, violation.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
