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
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/repository"
	"github.com/tomoncle/txorm/session"
	"github.com/tomoncle/txorm/types"
	"github.com/uptrace/bun"
)

// MustGet is GetByID with absence reported as database.ErrNotFound.
func MustGet[T any](ctx context.Context, repo repository.CrudRepository[T], id any) (*T, error) {
	rec, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: id %v", database.ErrNotFound, id)
	}
	return rec, nil
}

// Paginate reads one page and the total number of matching rows in a single
// transaction. Orders are "column" or "column ASC|DESC" and must name
// columns of T; the primary key always breaks ties.
func Paginate[T any](ctx context.Context, repo repository.Repository[T], req *types.PageRequest) (*types.Pagination[T], error) {
	if req == nil {
		req = types.NewDefaultPageRequest(1, 0)
	}
	meta := repo.Meta()
	orders, err := meta.ParseOrders(req.GetOrders())
	if err != nil {
		return nil, err
	}

	page := types.NewDefaultPagination[T](req.GetPage(), req.GetPageSize())
	err = repo.Provider().WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		db, err := s.IDB()
		if err != nil {
			return err
		}
		var items []*T
		q := db.NewSelect().Model(&items)
		if f := req.GetFilter(); f != nil && f.Schema != "" {
			q = q.Where(f.Schema, f.Args...)
		}
		for _, o := range orders {
			q = q.OrderExpr("? "+o.Direction(), bun.Ident(o.Column))
		}
		q = q.OrderExpr("? ASC", bun.Ident(meta.PrimaryKey()))

		total, err := q.Limit(req.GetPageSize()).Offset(req.GetOffset()).ScanAndCount(ctx)
		if err != nil {
			return database.Classify("paginate", err)
		}
		page.Total = total
		page.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// FindOne returns the first record, by primary key, whose columns equal
// where. It returns nil, nil when none matches.
func FindOne[T any](ctx context.Context, repo repository.Repository[T], where map[string]any) (*T, error) {
	meta := repo.Meta()
	cols := make([]string, 0, len(where))
	for c := range where {
		if !meta.HasColumn(c) {
			return nil, &database.UnknownFieldError{Entity: meta.Name, Field: c}
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	return scoped(ctx, repo.Provider(), func(ctx context.Context, db bun.IDB) (*T, error) {
		rec := new(T)
		q := db.NewSelect().Model(rec)
		for _, c := range cols {
			q = q.Where("? = ?", bun.Ident(c), where[c])
		}
		err := q.OrderExpr("? ASC", bun.Ident(meta.PrimaryKey())).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, database.Classify("find_one", err)
		}
		return rec, nil
	})
}

func CollectFieldStats[T any](ctx context.Context, repo repository.Repository[T], column string) (*types.FieldStats, error) {
	meta := repo.Meta()
	if !meta.HasColumn(column) {
		return nil, &database.UnknownFieldError{Entity: meta.Name, Field: column}
	}
	return scoped(ctx, repo.Provider(), func(ctx context.Context, db bun.IDB) (*types.FieldStats, error) {
		var (
			count       int64
			lo, hi, avg sql.NullFloat64
			col         = bun.Ident(column)
		)
		err := db.NewSelect().Model((*T)(nil)).
			ColumnExpr("count(?)", col).
			ColumnExpr("min(?)", col).
			ColumnExpr("max(?)", col).
			ColumnExpr("avg(?)", col).
			Scan(ctx, &count, &lo, &hi, &avg)
		if err != nil {
			return nil, database.Classify("field_stats", err)
		}
		return &types.FieldStats{
			Column: column,
			Count:  count,
			Min:    nullable(lo),
			Max:    nullable(hi),
			Avg:    nullable(avg),
		}, nil
	})
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func scoped[R any](ctx context.Context, p *session.Provider, fn func(context.Context, bun.IDB) (R, error)) (R, error) {
	var out R
	err := p.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		db, err := s.IDB()
		if err != nil {
			return err
		}
		out, err = fn(ctx, db)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}
