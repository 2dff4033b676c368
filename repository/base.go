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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
	"github.com/tomoncle/txorm/session"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type baseRepositoryImpl[T any] struct {
	provider *session.Provider
	meta     *entity.Meta
	rowLocks bool
	now      func() time.Time
}

// NewRepository returns a repository for T on the connections of provider.
// The provider's manager must be connected, since entity metadata is read
// through its dialect.
func NewRepository[T any](provider *session.Provider) (Repository[T], error) {
	d := provider.Dialect()
	if d == nil {
		return nil, database.ErrNotConnected
	}
	meta, err := entity.MetaOf[T](d)
	if err != nil {
		return nil, err
	}
	return &baseRepositoryImpl[T]{
		provider: provider,
		meta:     meta,
		rowLocks: d.Name() != dialect.SQLite,
		now:      time.Now,
	}, nil
}

func (r *baseRepositoryImpl[T]) Meta() *entity.Meta { return r.meta }

func (r *baseRepositoryImpl[T]) Provider() *session.Provider { return r.provider }

// inTransaction runs fn in a handle of its own and drops its result when the
// handle did not commit.
func inTransaction[R any](ctx context.Context, p *session.Provider, fn func(context.Context, *session.Session) (R, error)) (R, error) {
	var out R
	err := p.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		var err error
		out, err = fn(ctx, s)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

func (r *baseRepositoryImpl[T]) GetByID(ctx context.Context, id any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) (*T, error) {
		return r.GetByIDInScope(ctx, s, id)
	})
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, fields map[string]any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) (*T, error) {
		return r.CreateInScope(ctx, s, fields)
	})
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) (*T, error) {
		return r.UpdateInScope(ctx, s, id, fields)
	})
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) (bool, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) (bool, error) {
		return r.DeleteInScope(ctx, s, id)
	})
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context, limit, offset int) ([]*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) ([]*T, error) {
		return r.GetAllInScope(ctx, s, limit, offset)
	})
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context) (int, error) {
	return inTransaction(ctx, r.provider, r.CountInScope)
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, id any) (bool, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *session.Session) (bool, error) {
		db, err := s.IDB()
		if err != nil {
			return false, err
		}
		target := new(T)
		if err := r.meta.SetPK(target, id); err != nil {
			return false, err
		}
		found, err := db.NewSelect().Model(target).WherePK().Exists(ctx)
		if err != nil {
			return false, database.Classify("exists", err)
		}
		return found, nil
	})
}

func (r *baseRepositoryImpl[T]) GetByIDInScope(ctx context.Context, s *session.Session, id any) (*T, error) {
	e := new(T)
	if err := r.meta.SetPK(e, id); err != nil {
		return nil, err
	}
	s.Attach(e)
	return r.materialize(ctx, s, e)
}

func (r *baseRepositoryImpl[T]) CreateInScope(ctx context.Context, s *session.Session, fields map[string]any) (*T, error) {
	db, err := s.IDB()
	if err != nil {
		return nil, err
	}
	e := new(T)
	if _, err := r.meta.Merge(e, fields); err != nil {
		return nil, err
	}
	if _, err := db.NewInsert().Model(e).Exec(ctx); err != nil {
		return nil, database.Classify("create", err)
	}
	s.Attach(e)
	return r.materialize(ctx, s, e)
}

func (r *baseRepositoryImpl[T]) UpdateInScope(ctx context.Context, s *session.Session, id any, fields map[string]any) (*T, error) {
	if _, err := r.meta.ValidateFields(fields); err != nil {
		return nil, err
	}
	db, err := s.IDB()
	if err != nil {
		return nil, err
	}
	e := new(T)
	if err := r.meta.SetPK(e, id); err != nil {
		return nil, err
	}

	q := db.NewSelect().Model(e).WherePK()
	if r.rowLocks {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Classify("update", err)
	}
	s.Attach(e)

	// The version is checked against the row read in this transaction, under
	// a row lock where the dialect has one.
	fields, err = r.meta.CheckVersion(e, fields)
	if err != nil {
		s.Detach(e)
		return nil, err
	}
	cols, err := r.meta.Merge(e, fields)
	if err != nil {
		s.Detach(e)
		return nil, err
	}
	if _, ok := fields[entity.TouchColumn]; !ok && r.meta.Touch(e, r.now()) {
		cols = append(cols, entity.TouchColumn)
	}
	if len(cols) > 0 && r.meta.BumpVersion(e) {
		cols = append(cols, entity.VersionColumn)
	}
	if len(cols) > 0 {
		if _, err := db.NewUpdate().Model(e).Column(cols...).WherePK().Exec(ctx); err != nil {
			s.Detach(e)
			return nil, database.Classify("update", err)
		}
	}
	return r.materialize(ctx, s, e)
}

func (r *baseRepositoryImpl[T]) DeleteInScope(ctx context.Context, s *session.Session, id any) (bool, error) {
	db, err := s.IDB()
	if err != nil {
		return false, err
	}
	target := new(T)
	if err := r.meta.SetPK(target, id); err != nil {
		return false, err
	}
	res, err := db.NewDelete().Model(target).WherePK().Exec(ctx)
	if err != nil {
		return false, database.Classify("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Classify("delete", err)
	}
	return n > 0, nil
}

func (r *baseRepositoryImpl[T]) GetAllInScope(ctx context.Context, s *session.Session, limit, offset int) ([]*T, error) {
	db, err := s.IDB()
	if err != nil {
		return nil, err
	}
	var records []*T
	q := db.NewSelect().Model(&records).OrderExpr("? ASC", bun.Ident(r.meta.PrimaryKey()))
	if limit > 0 {
		q = q.Limit(limit)
	} else if offset > 0 {
		// OFFSET needs a LIMIT on sqlite and mysql.
		q = q.Limit(math.MaxInt32)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, database.Classify("get_all", err)
	}

	for _, e := range records {
		s.Attach(e)
	}
	return r.detachLoaded(s, records), nil
}

func (r *baseRepositoryImpl[T]) CountInScope(ctx context.Context, s *session.Session) (int, error) {
	db, err := s.IDB()
	if err != nil {
		return 0, err
	}
	n, err := db.NewSelect().Model((*T)(nil)).Count(ctx)
	if err != nil {
		return 0, database.Classify("count", err)
	}
	return n, nil
}

// materialize is the only way a record leaves the repository. It reloads
// every column of e by primary key through the still-open handle, then strips
// e from the handle's identity set. The reload needs the handle, so the two
// steps never swap. A record gone by reload time yields nil.
func (r *baseRepositoryImpl[T]) materialize(ctx context.Context, s *session.Session, e *T) (*T, error) {
	defer s.Detach(e)

	db, err := s.IDB()
	if err != nil {
		return nil, err
	}
	if err := db.NewSelect().Model(e).WherePK().Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Classify("reload", err)
	}
	return e, nil
}

// detachLoaded is materialize for records the caller has just read in full
// through s, such as the rows of a list query: the reload already happened,
// only the detach remains.
func (r *baseRepositoryImpl[T]) detachLoaded(s *session.Session, records []*T) []*T {
	out := make([]*T, 0, len(records))
	for _, e := range records {
		s.Detach(e)
		out = append(out, e)
	}
	return out
}
