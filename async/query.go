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

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/types"
)

// Paginate reads one page and the total number of matching rows in a single
// transaction. The filter of req uses ? placeholders. Orders are "column" or
// "column ASC|DESC" and must name columns of T; the primary key always
// breaks ties.
func Paginate[T any](ctx context.Context, repo *Repository[T], req *types.PageRequest) (*types.Pagination[T], error) {
	if req == nil {
		req = types.NewDefaultPageRequest(1, 0)
	}
	orders, err := repo.meta.ParseOrders(req.GetOrders())
	if err != nil {
		return nil, err
	}
	var filter sq.Sqlizer
	if f := req.GetFilter(); f != nil && f.Schema != "" {
		filter = sq.Expr(f.Schema, f.Args...)
	}

	pg := types.NewDefaultPagination[T](req.GetPage(), req.GetPageSize())
	err = repo.provider.WithTransaction(ctx, func(ctx context.Context, s *Session) error {
		tx, err := s.Tx()
		if err != nil {
			return err
		}
		query, args, err := repo.st.countWhere(filter).ToSql()
		if err != nil {
			return err
		}
		var total int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&total); err != nil {
			return database.Classify("paginate", err)
		}

		query, args, err = page(repo.st.selectWhere(filter, orders), req.GetPageSize(), req.GetOffset()).ToSql()
		if err != nil {
			return err
		}
		var items []*T
		if err := scanner.Select(ctx, tx, &items, query, args...); err != nil {
			return database.Classify("paginate", err)
		}
		for _, e := range items {
			s.Attach(e)
		}
		pg.Total = int(total)
		pg.Items = repo.detachLoaded(s, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// FindOne returns the first record, by primary key, whose columns equal
// where. It returns nil, nil when none matches.
func FindOne[T any](ctx context.Context, repo *Repository[T], where map[string]any) (*T, error) {
	var filter sq.Sqlizer
	if len(where) > 0 {
		eq := make(sq.Eq, len(where))
		for c, v := range where {
			if !repo.meta.HasColumn(c) {
				return nil, &database.UnknownFieldError{Entity: repo.meta.Name, Field: c}
			}
			eq[quote(c)] = v
		}
		filter = eq
	}

	return inTransaction(ctx, repo.provider, func(ctx context.Context, s *Session) (*T, error) {
		tx, err := s.Tx()
		if err != nil {
			return nil, err
		}
		query, args, err := page(repo.st.selectWhere(filter, nil), 1, 0).ToSql()
		if err != nil {
			return nil, err
		}
		e := new(T)
		if err := scanner.Get(ctx, tx, e, query, args...); err != nil {
			if pgxscan.NotFound(err) {
				return nil, nil
			}
			return nil, database.Classify("find_one", err)
		}
		s.Attach(e)
		return repo.detachLoaded(s, []*T{e})[0], nil
	})
}

// CollectFieldStats summarizes column over the rows of T.
func CollectFieldStats[T any](ctx context.Context, repo *Repository[T], column string) (*types.FieldStats, error) {
	if !repo.meta.HasColumn(column) {
		return nil, &database.UnknownFieldError{Entity: repo.meta.Name, Field: column}
	}
	return inTransaction(ctx, repo.provider, func(ctx context.Context, s *Session) (*types.FieldStats, error) {
		tx, err := s.Tx()
		if err != nil {
			return nil, err
		}
		query, args, err := repo.st.stats(column).ToSql()
		if err != nil {
			return nil, err
		}
		out := &types.FieldStats{Column: column}
		if err := tx.QueryRow(ctx, query, args...).Scan(&out.Count, &out.Min, &out.Max, &out.Avg); err != nil {
			return nil, database.Classify("field_stats", err)
		}
		return out, nil
	})
}
