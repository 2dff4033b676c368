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

package session

import (
	"context"

	"github.com/tomoncle/txorm/database"
	"github.com/uptrace/bun"
)

// VariantSync labels handles opened on database/sql connections.
const VariantSync = "sync"

// Session is the database/sql Handle: one pooled bun.Conn with one bun.Tx
// open on it.
type Session struct {
	*Lifecycle
	conn bun.Conn
	tx   bun.Tx
}

var _ Handle = (*Session)(nil)

func newSession(conn bun.Conn, tx bun.Tx, observer Observer, logger database.Logger) *Session {
	return &Session{
		Lifecycle: NewLifecycle(VariantSync, observer, logger),
		conn:      conn,
		tx:        tx,
	}
}

// IDB returns the transaction for building bun queries. It fails once the
// handle has left the open state.
func (s *Session) IDB() (bun.IDB, error) {
	if err := s.CheckOpen("query"); err != nil {
		return nil, err
	}
	return s.tx, nil
}

// Execute runs a raw statement inside the transaction and returns the number
// of affected rows.
func (s *Session) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.CheckOpen("execute"); err != nil {
		return 0, err
	}
	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, database.Classify("execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.Classify("execute", err)
	}
	return n, nil
}

func (s *Session) Commit(ctx context.Context) error {
	return s.Lifecycle.Commit(ctx, func(context.Context) error { return s.tx.Commit() })
}

func (s *Session) Rollback(ctx context.Context) error {
	return s.Lifecycle.Rollback(ctx, s.rollback)
}

func (s *Session) rollback(context.Context) error { return s.tx.Rollback() }

// Close rolls back if still open and returns the connection to the pool.
func (s *Session) Close(ctx context.Context) error {
	return s.Lifecycle.Close(ctx, s.rollback, s.conn.Close)
}
