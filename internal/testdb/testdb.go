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

// Package testdb opens throwaway sqlite databases with a small schema for
// package tests.
package testdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
	"github.com/tomoncle/txorm/types"
	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Name      string    `bun:"name,notnull" json:"name" validate:"required,min=2"`
	Email     string    `bun:"email,nullzero,unique" json:"email,omitempty" validate:"omitempty,email"`
	Age       int       `bun:"age" json:"age" validate:"gte=0,lte=150"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`
	entity.IDModel

	Customer   string           `bun:"customer,notnull" json:"customer"`
	Total      float64          `bun:"total" json:"total"`
	Attributes types.JsonObject `bun:"attributes,type:json" json:"attributes,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`
	entity.IDModel

	OrderID  int64  `bun:"order_id,notnull" json:"order_id"`
	SKU      string `bun:"sku,notnull" json:"sku"`
	Quantity int    `bun:"quantity" json:"quantity"`
}

// Article carries a deletion mark and an optimistic lock.
type Article struct {
	bun.BaseModel `bun:"table:articles"`
	entity.IDModel
	entity.VersionedModel
	entity.SoftDeleteModel

	Title string `bun:"title,notnull" json:"title"`
}

// Models lists the schema in creation order.
func Models() []interface{} {
	return []interface{}{(*User)(nil), (*Order)(nil), (*OrderItem)(nil), (*Article)(nil)}
}

// Config returns a sqlite configuration with a database file under the
// test's temporary directory.
func Config(t testing.TB) *database.ConnectionConfig {
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = filepath.Join(t.TempDir(), "txorm")
	cfg.PoolTimeout = 2 * time.Second
	return cfg
}

// Open connects a manager for cfg, creates the schema and disposes the
// manager when the test ends. A nil cfg uses Config.
func Open(t testing.TB, cfg *database.ConnectionConfig) database.AbstractConnectionManager {
	t.Helper()
	if cfg == nil {
		cfg = Config(t)
	}
	ctx := context.Background()
	manager := database.NewConnectionManager(cfg)
	manager.SetLogger(database.NopLogger())
	require.NoError(t, manager.Connect(ctx))
	t.Cleanup(func() { _ = manager.Dispose() })
	require.NoError(t, database.CreateTables(ctx, manager.GetDB(), Models()...))
	return manager
}

// CountRows counts the rows of table outside any handle.
func CountRows(t testing.TB, manager database.AbstractConnectionManager, table string) int {
	t.Helper()
	n, err := manager.GetDB().NewSelect().Table(table).Count(context.Background())
	require.NoError(t, err)
	return n
}
