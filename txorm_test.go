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

package txorm_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm"
	"github.com/tomoncle/txorm/async"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/internal/testdb"
	"github.com/tomoncle/txorm/operations"
	"github.com/tomoncle/txorm/types"
	"github.com/tomoncle/txorm/uow"
)

func openClient(t *testing.T) *txorm.Client {
	t.Helper()
	ctx := context.Background()
	client, err := txorm.Open(ctx, testdb.Config(t),
		txorm.WithLogger(database.NopLogger()),
		txorm.WithModel((*testdb.OrderItem)(nil), 20),
		txorm.WithModel((*testdb.User)(nil), 0),
		txorm.WithModel((*testdb.Order)(nil), 10),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.CreateTables(ctx))
	return client
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Should connect, create tables and report a live pool", func(t *testing.T) {
		client := openClient(t)
		assert.True(t, client.Ping(ctx))
		assert.Equal(t, 0, client.PoolStatus().InUse)

		users, err := txorm.NewService[testdb.User](client)
		require.NoError(t, err)
		n, err := users.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should reject an invalid configuration", func(t *testing.T) {
		cfg := database.DefaultConnectionConfig()
		cfg.Type = "oracle"
		cfg.DBName = "x"
		_, err := txorm.Open(ctx, cfg, txorm.WithLogger(database.NopLogger()))
		require.Error(t, err)
	})

	t.Run("Should open a named profile", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "profiles.yaml")
		cfg := database.DefaultConnectionConfig()
		cfg.Type = "sqlite"
		cfg.DBName = filepath.Join(dir, "profiled")
		require.NoError(t, database.SaveProfiles(path, "local", map[string]*database.ConnectionConfig{"local": cfg}))

		client, err := txorm.OpenProfile(ctx, path, "", txorm.WithLogger(database.NopLogger()))
		require.NoError(t, err)
		defer client.Close()
		assert.True(t, client.Ping(ctx))
		assert.Equal(t, "sqlite", client.Manager().Config().Type)
	})

	t.Run("Should drop tables dependents first", func(t *testing.T) {
		client := openClient(t)
		require.NoError(t, client.DropTables(ctx))
		users, err := txorm.NewService[testdb.User](client)
		require.NoError(t, err)
		_, err = users.Count(ctx)
		require.Error(t, err)
	})

	t.Run("Should commit a unit of work across services", func(t *testing.T) {
		client := openClient(t)
		err := client.Run(ctx, func(ctx context.Context, u *uow.UnitOfWork) error {
			orders, err := uow.Repo[testdb.Order](u)
			if err != nil {
				return err
			}
			order, err := orders.Create(ctx, map[string]any{
				"customer":   "Alice",
				"total":      12.5,
				"attributes": map[string]any{"channel": "web"},
			})
			if err != nil {
				return err
			}
			items, err := uow.Repo[testdb.OrderItem](u)
			if err != nil {
				return err
			}
			_, err = items.Create(ctx, map[string]any{"order_id": order.ID, "sku": "A-1", "quantity": 2})
			return err
		})
		require.NoError(t, err)

		orders, err := txorm.NewService[testdb.Order](client)
		require.NoError(t, err)
		order, err := orders.FindOne(ctx, map[string]any{"customer": "Alice"})
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, "web", order.Attributes["channel"])
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run the full record lifecycle", func(t *testing.T) {
		client := openClient(t)
		users, err := txorm.NewService[testdb.User](client)
		require.NoError(t, err)

		alice, err := users.Save(ctx, map[string]any{"name": "Alice", "age": 30})
		require.NoError(t, err)
		got, err := users.Get(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)

		updated, err := users.Update(ctx, alice.ID, map[string]any{"age": 31})
		require.NoError(t, err)
		assert.Equal(t, 31, updated.Age)

		exists, err := users.Exists(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, exists)

		deleted, err := users.Delete(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = users.MustGet(ctx, alice.ID)
		require.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("Should validate before saving", func(t *testing.T) {
		client := openClient(t)
		users, err := txorm.NewService[testdb.User](client, txorm.WithValidation(nil))
		require.NoError(t, err)

		_, err = users.Save(ctx, map[string]any{"name": "A"})
		var verrs validator.ValidationErrors
		require.ErrorAs(t, err, &verrs)

		_, err = users.SaveAll(ctx, []map[string]any{{"name": "Alice"}, {"name": "B"}})
		require.ErrorAs(t, err, &verrs)
		n, err := users.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Should page, list and summarize", func(t *testing.T) {
		client := openClient(t)
		store := operations.NewLRUStore(8, time.Minute)
		users, err := txorm.NewService[testdb.User](client, txorm.WithValidation(nil), txorm.WithCache(store))
		require.NoError(t, err)

		saved, err := users.SaveAll(ctx, []map[string]any{
			{"name": "Alice", "age": 20},
			{"name": "Bob", "age": 30},
			{"name": "Carol", "age": 40},
		})
		require.NoError(t, err)
		require.Len(t, saved, 3)

		all, err := users.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		window, err := users.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, "Bob", window[0].Name)

		page, err := users.Page(ctx, types.NewDefaultPageRequest(1, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Len(t, page.Items, 2)

		stats, err := users.Stats(ctx, "age")
		require.NoError(t, err)
		assert.InDelta(t, 30, *stats.Avg, 0.001)

		_, err = users.Get(ctx, saved[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())
		assert.NotNil(t, users.Repository().Meta())
	})
}

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run units of work on the pgx pool", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		manager := async.NewConnectionManagerWithPool(mock, database.DefaultConnectionConfig())
		client := txorm.NewAsyncClient(manager, txorm.WithLogger(database.NopLogger()))
		mock.ExpectPing()
		mock.ExpectBegin()
		mock.ExpectExec(`^UPDATE accounts SET balance = 0$`).
			WithArgs().
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))
		mock.ExpectCommit()
		mock.ExpectClose()

		assert.True(t, client.Ping(ctx))
		assert.Equal(t, 5, client.PoolStatus().Size)
		err = client.Run(ctx, func(ctx context.Context, u *async.UnitOfWork) error {
			s, err := u.Session()
			if err != nil {
				return err
			}
			n, err := s.Execute(ctx, "UPDATE accounts SET balance = 0")
			assert.Equal(t, int64(3), n)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, client.Close())
		assert.False(t, client.Ping(ctx))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should refuse a configuration that is not postgres", func(t *testing.T) {
		_, err := txorm.OpenAsync(ctx, testdb.Config(t), txorm.WithLogger(database.NopLogger()))
		require.ErrorContains(t, err, "is not postgres")
	})

	t.Run("Should open the client the variant names", func(t *testing.T) {
		backend, err := txorm.OpenBackend(ctx, testdb.Config(t), txorm.WithLogger(database.NopLogger()))
		require.NoError(t, err)
		assert.IsType(t, &txorm.Client{}, backend)
		require.NoError(t, backend.Close())

		cfg := testdb.Config(t)
		cfg.Variant = async.VariantAsync
		_, err = txorm.OpenBackend(ctx, cfg, txorm.WithLogger(database.NopLogger()))
		require.ErrorContains(t, err, "is not postgres")

		cfg.Variant = "threads"
		_, err = txorm.OpenBackend(ctx, cfg, txorm.WithLogger(database.NopLogger()))
		require.Error(t, err)
	})
}
