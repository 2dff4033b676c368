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

	"github.com/jackc/pgx/v5"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/session"
)

// VariantAsync labels handles opened on pgx connections.
const VariantAsync = "async"

// Session is the pgx Handle. Committing or rolling back the transaction
// returns its connection to the pool.
//
// A Session must not be used by two goroutines at once.
type Session struct {
	*session.Lifecycle
	tx pgx.Tx
}

var _ session.Handle = (*Session)(nil)

func newSession(tx pgx.Tx, observer session.Observer, logger database.Logger) *Session {
	return &Session{
		Lifecycle: session.NewLifecycle(VariantAsync, observer, logger),
		tx:        tx,
	}
}

// Tx returns the transaction for running statements. It fails once the handle
// has left the open state.
func (s *Session) Tx() (pgx.Tx, error) {
	if err := s.CheckOpen("query"); err != nil {
		return nil, err
	}
	return s.tx, nil
}

func (s *Session) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.CheckOpen("execute"); err != nil {
		return 0, err
	}
	tag, err := s.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, database.Classify("execute", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Session) Commit(ctx context.Context) error {
	return s.Lifecycle.Commit(ctx, s.tx.Commit)
}

func (s *Session) Rollback(ctx context.Context) error {
	return s.Lifecycle.Rollback(ctx, s.rollback)
}

// rollback survives a cancelled ctx so the connection is still released.
func (s *Session) rollback(ctx context.Context) error {
	return s.tx.Rollback(context.WithoutCancel(ctx))
}

// Close rolls back if still open. The connection itself was released by the
// terminal transition.
func (s *Session) Close(ctx context.Context) error {
	return s.Lifecycle.Close(ctx, s.rollback, func() error { return nil })
}
