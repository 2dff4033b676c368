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
	"maps"

	"github.com/tomoncle/txorm/session"
	"github.com/tomoncle/txorm/uow"
)

// BulkCreate inserts every row in one unit of work: all of them or none.
// The records come back in the order of rows.
func BulkCreate[T any](ctx context.Context, provider *session.Provider, rows []map[string]any) ([]*T, error) {
	created := make([]*T, 0, len(rows))
	err := uow.Run(ctx, provider, func(ctx context.Context, u *uow.UnitOfWork) error {
		repo, err := uow.Repo[T](u)
		if err != nil {
			return err
		}
		for _, fields := range rows {
			rec, err := repo.Create(ctx, fields)
			if err != nil {
				return err
			}
			created = append(created, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// BulkUpdate applies each row to the record whose key is row[idKey], in one
// unit of work, and returns how many records it found. Rows without idKey
// are skipped.
func BulkUpdate[T any](ctx context.Context, provider *session.Provider, rows []map[string]any, idKey string) (int, error) {
	updated := 0
	err := uow.Run(ctx, provider, func(ctx context.Context, u *uow.UnitOfWork) error {
		repo, err := uow.Repo[T](u)
		if err != nil {
			return err
		}
		for _, row := range rows {
			id, ok := row[idKey]
			if !ok {
				continue
			}
			fields := maps.Clone(row)
			delete(fields, idKey)
			rec, err := repo.Update(ctx, id, fields)
			if err != nil {
				return err
			}
			if rec != nil {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
