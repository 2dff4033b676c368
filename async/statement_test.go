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

package async

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
	"github.com/tomoncle/txorm/internal/testdb"
)

func TestStatements(t *testing.T) {
	meta, err := entity.MetaOf[testdb.User](metaDialect)
	require.NoError(t, err)
	st := newStatements(meta)

	t.Run("Should coalesce nullzero scalar columns only", func(t *testing.T) {
		assert.Contains(t, st.columns, `COALESCE("email", '') AS "email"`)
		assert.Contains(t, st.columns, `"created_at"`)
		assert.Equal(t, `"id"`, st.columns[0])
	})

	t.Run("Should select the key as stored", func(t *testing.T) {
		query, args, err := st.selectByPK(int64(5)).ToSql()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "id", "name", COALESCE("email", '') AS "email", "age", "created_at", "updated_at" FROM "users" WHERE "id" = $1`,
			query)
		assert.Equal(t, []any{int64(5)}, args)
	})

	t.Run("Should fall back to DEFAULT VALUES without columns", func(t *testing.T) {
		query, args, err := st.insert(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "users" DEFAULT VALUES RETURNING "id"`, query)
		assert.Empty(t, args)
	})

	t.Run("Should update only the given columns", func(t *testing.T) {
		query, args, err := st.update(int64(3), []string{"age", "name"}, map[string]any{"age": 4, "name": "x"})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "users" SET "age" = $1, "name" = $2 WHERE "id" = $3`, query)
		assert.Equal(t, []any{4, "x", int64(3)}, args)
	})

	t.Run("Should omit limit and offset when unset", func(t *testing.T) {
		query, _, err := st.selectAll(0, 0).ToSql()
		require.NoError(t, err)
		assert.NotContains(t, query, "LIMIT")
		assert.NotContains(t, query, "OFFSET")
		assert.Contains(t, query, `ORDER BY "id" ASC`)
	})
}

func TestBuildPoolConfig(t *testing.T) {
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "postgres"
	cfg.Host = "db.internal"
	cfg.Port = 5432
	cfg.DBName = "app"
	cfg.PoolSize = 4
	cfg.MaxOverflow = 6
	cfg.PoolRecycle = 15 * time.Minute

	t.Run("Should map size plus overflow onto the pool bounds", func(t *testing.T) {
		poolCfg, err := buildPoolConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(10), poolCfg.MaxConns)
		assert.Equal(t, int32(4), poolCfg.MinConns)
		assert.Equal(t, 15*time.Minute, poolCfg.MaxConnLifetime)
		assert.Equal(t, "db.internal", poolCfg.ConnConfig.Host)
		require.NotNil(t, poolCfg.ShouldPing)
		assert.True(t, poolCfg.ShouldPing(context.Background(), pgxpool.ShouldPingParams{}))
	})

	t.Run("Should reject a non postgres configuration", func(t *testing.T) {
		other := *cfg
		other.Type = "sqlite"
		_, err := buildPoolConfig(&other)
		require.Error(t, err)
	})

	t.Run("Should clamp out of range sizes", func(t *testing.T) {
		assert.Equal(t, int32(0), clampInt32(-1))
		assert.Equal(t, int32(7), clampInt32(7))
	})
}
