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
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
)

const defaultFanOut = 8

// RepositoryOption configures a Repository.
type RepositoryOption func(*repoOptions)

type repoOptions struct {
	fanOut int
}

// WithFanOut bounds the goroutines GetMany runs at once.
func WithFanOut(n int) RepositoryOption {
	return func(o *repoOptions) {
		if n > 0 {
			o.fanOut = n
		}
	}
}

// Repository is the pgx counterpart of repository.Repository[T], with the
// same operations and the same guarantees on returned records. Statements
// are built with squirrel and rows are scanned by scany through the bun tags
// of T.
type Repository[T any] struct {
	provider *Provider
	meta     *entity.Meta
	st       statements
	fanOut   int
	now      func() time.Time
}

func NewRepository[T any](provider *Provider, opts ...RepositoryOption) (*Repository[T], error) {
	meta, err := entity.MetaOf[T](metaDialect)
	if err != nil {
		return nil, err
	}
	o := repoOptions{fanOut: defaultFanOut}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		provider: provider,
		meta:     meta,
		st:       newStatements(meta),
		fanOut:   o.fanOut,
		now:      time.Now,
	}, nil
}

func (r *Repository[T]) Meta() *entity.Meta { return r.meta }

func (r *Repository[T]) Provider() *Provider { return r.provider }

func inTransaction[R any](ctx context.Context, p *Provider, fn func(context.Context, *Session) (R, error)) (R, error) {
	var out R
	err := p.WithTransaction(ctx, func(ctx context.Context, s *Session) error {
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

// GetByID returns nil, nil when no record has id.
func (r *Repository[T]) GetByID(ctx context.Context, id any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) (*T, error) {
		return r.GetByIDInScope(ctx, s, id)
	})
}

func (r *Repository[T]) Create(ctx context.Context, fields map[string]any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) (*T, error) {
		return r.CreateInScope(ctx, s, fields)
	})
}

// Update returns nil, nil when no record has id.
func (r *Repository[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) (*T, error) {
		return r.UpdateInScope(ctx, s, id, fields)
	})
}

func (r *Repository[T]) Delete(ctx context.Context, id any) (bool, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) (bool, error) {
		return r.DeleteInScope(ctx, s, id)
	})
}

func (r *Repository[T]) GetAll(ctx context.Context, limit, offset int) ([]*T, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) ([]*T, error) {
		return r.GetAllInScope(ctx, s, limit, offset)
	})
}

func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	return inTransaction(ctx, r.provider, r.CountInScope)
}

func (r *Repository[T]) Exists(ctx context.Context, id any) (bool, error) {
	return inTransaction(ctx, r.provider, func(ctx context.Context, s *Session) (bool, error) {
		tx, err := s.Tx()
		if err != nil {
			return false, err
		}
		key := new(T)
		if err := r.meta.SetPK(key, id); err != nil {
			return false, err
		}
		query, args, err := r.st.count().Where(sq.Eq{r.st.pk: r.meta.PKValue(key)}).ToSql()
		if err != nil {
			return false, err
		}
		var n int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
			return false, database.Classify("exists", err)
		}
		return n > 0, nil
	})
}

func (r *Repository[T]) GetByIDInScope(ctx context.Context, s *Session, id any) (*T, error) {
	e := new(T)
	if err := r.meta.SetPK(e, id); err != nil {
		return nil, err
	}
	s.Attach(e)
	return r.materialize(ctx, s, e)
}

// CreateInScope inserts the merged record, reads back the key the store
// assigned and then reloads the whole row.
func (r *Repository[T]) CreateInScope(ctx context.Context, s *Session, fields map[string]any) (*T, error) {
	tx, err := s.Tx()
	if err != nil {
		return nil, err
	}
	e := new(T)
	if _, err := r.meta.Merge(e, fields); err != nil {
		return nil, err
	}
	cols, vals := r.meta.InsertValues(e)
	query, args, err := r.st.insert(cols, vals)
	if err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, query, args...).Scan(r.meta.PKAddr(e)); err != nil {
		return nil, database.Classify("create", err)
	}
	s.Attach(e)
	return r.materialize(ctx, s, e)
}

// UpdateInScope locks the row with SELECT ... FOR UPDATE, merges fields and
// writes back only the merged columns. Versioned entities get their version
// checked against the locked row and incremented.
func (r *Repository[T]) UpdateInScope(ctx context.Context, s *Session, id any, fields map[string]any) (*T, error) {
	if _, err := r.meta.ValidateFields(fields); err != nil {
		return nil, err
	}
	tx, err := s.Tx()
	if err != nil {
		return nil, err
	}
	e := new(T)
	if err := r.meta.SetPK(e, id); err != nil {
		return nil, err
	}
	pk := r.meta.PKValue(e)

	query, args, err := r.st.selectByPK(pk).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, err
	}
	if err := scanner.Get(ctx, tx, e, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, database.Classify("update", err)
	}
	s.Attach(e)

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
		query, args, err := r.st.update(pk, cols, r.meta.ColumnValues(e, cols))
		if err != nil {
			s.Detach(e)
			return nil, err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			s.Detach(e)
			return nil, database.Classify("update", err)
		}
	}
	return r.materialize(ctx, s, e)
}

// DeleteInScope marks the row deleted instead when the entity has a deletion
// mark.
func (r *Repository[T]) DeleteInScope(ctx context.Context, s *Session, id any) (bool, error) {
	tx, err := s.Tx()
	if err != nil {
		return false, err
	}
	key := new(T)
	if err := r.meta.SetPK(key, id); err != nil {
		return false, err
	}
	query, args, err := r.st.delete(r.meta.PKValue(key), r.now())
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, database.Classify("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository[T]) GetAllInScope(ctx context.Context, s *Session, limit, offset int) ([]*T, error) {
	tx, err := s.Tx()
	if err != nil {
		return nil, err
	}
	query, args, err := r.st.selectAll(limit, offset).ToSql()
	if err != nil {
		return nil, err
	}
	var records []*T
	if err := scanner.Select(ctx, tx, &records, query, args...); err != nil {
		return nil, database.Classify("get_all", err)
	}
	for _, e := range records {
		s.Attach(e)
	}
	return r.detachLoaded(s, records), nil
}

func (r *Repository[T]) CountInScope(ctx context.Context, s *Session) (int, error) {
	tx, err := s.Tx()
	if err != nil {
		return 0, err
	}
	query, args, err := r.st.count().ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, database.Classify("count", err)
	}
	return int(n), nil
}

// materialize reloads every column of e by primary key through the open
// handle and only then detaches it. A row gone by then yields nil.
func (r *Repository[T]) materialize(ctx context.Context, s *Session, e *T) (*T, error) {
	defer s.Detach(e)

	tx, err := s.Tx()
	if err != nil {
		return nil, err
	}
	query, args, err := r.st.selectByPK(r.meta.PKValue(e)).ToSql()
	if err != nil {
		return nil, err
	}
	if err := scanner.Get(ctx, tx, e, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, database.Classify("reload", err)
	}
	return e, nil
}

// detachLoaded detaches rows a list query has just read in full.
func (r *Repository[T]) detachLoaded(s *Session, records []*T) []*T {
	out := make([]*T, 0, len(records))
	for _, e := range records {
		s.Detach(e)
		out = append(out, e)
	}
	return out
}
