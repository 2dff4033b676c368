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
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tomoncle/txorm/database"
)

// Restore clears the deletion mark of the record with id and reports
// whether a marked record was found.
func Restore[T any](ctx context.Context, repo *Repository[T], id any) (bool, error) {
	if repo.st.deletedAt == "" {
		return false, fmt.Errorf("entity %s has no deletion mark", repo.meta.Name)
	}
	key := new(T)
	if err := repo.meta.SetPK(key, id); err != nil {
		return false, err
	}
	query, args, err := psql.Update(repo.st.table).
		Set(repo.st.deletedAt, nil).
		Where(sq.Eq{repo.st.pk: repo.meta.PKValue(key)}).
		Where(sq.NotEq{repo.st.deletedAt: nil}).
		ToSql()
	if err != nil {
		return false, err
	}
	n, err := execute(ctx, repo.provider, "restore", query, args)
	return n > 0, err
}

// PurgeDeleted removes the rows marked deleted before cutoff and returns how
// many it removed.
func PurgeDeleted[T any](ctx context.Context, repo *Repository[T], cutoff time.Time) (int64, error) {
	if repo.st.deletedAt == "" {
		return 0, fmt.Errorf("entity %s has no deletion mark", repo.meta.Name)
	}
	query, args, err := psql.Delete(repo.st.table).
		Where(sq.NotEq{repo.st.deletedAt: nil}).
		Where(sq.Lt{repo.st.deletedAt: cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}
	return execute(ctx, repo.provider, "purge", query, args)
}

func execute(ctx context.Context, p *Provider, op, query string, args []any) (int64, error) {
	return inTransaction(ctx, p, func(ctx context.Context, s *Session) (int64, error) {
		tx, err := s.Tx()
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, database.Classify(op, err)
		}
		return tag.RowsAffected(), nil
	})
}
