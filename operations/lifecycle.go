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

package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
	"github.com/tomoncle/txorm/repository"
	"github.com/uptrace/bun"
)

// Restore clears the deletion mark of the record with id and reports
// whether a marked record was found.
func Restore[T any](ctx context.Context, repo repository.Repository[T], id any) (bool, error) {
	meta := repo.Meta()
	col, err := deletionMark(meta)
	if err != nil {
		return false, err
	}
	target := new(T)
	if err := meta.SetPK(target, id); err != nil {
		return false, err
	}
	return scoped(ctx, repo.Provider(), func(ctx context.Context, db bun.IDB) (bool, error) {
		res, err := db.NewUpdate().Model(target).
			Set("? = NULL", bun.Ident(col)).
			WherePK().
			WhereDeleted().
			Exec(ctx)
		if err != nil {
			return false, database.Classify("restore", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, database.Classify("restore", err)
		}
		return n > 0, nil
	})
}

// PurgeDeleted removes the rows marked deleted before cutoff and returns how
// many it removed.
func PurgeDeleted[T any](ctx context.Context, repo repository.Repository[T], cutoff time.Time) (int64, error) {
	col, err := deletionMark(repo.Meta())
	if err != nil {
		return 0, err
	}
	return scoped(ctx, repo.Provider(), func(ctx context.Context, db bun.IDB) (int64, error) {
		res, err := db.NewDelete().Model((*T)(nil)).
			WhereDeleted().
			Where("? < ?", bun.Ident(col), cutoff).
			ForceDelete().
			Exec(ctx)
		if err != nil {
			return 0, database.Classify("purge", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, database.Classify("purge", err)
		}
		return n, nil
	})
}

func deletionMark(meta *entity.Meta) (string, error) {
	col := meta.SoftDeleteColumn()
	if col == "" {
		return "", fmt.Errorf("entity %s has no deletion mark", meta.Name)
	}
	return col, nil
}
