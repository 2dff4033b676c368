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

package txorm

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/tomoncle/txorm/operations"
	"github.com/tomoncle/txorm/repository"
	"github.com/tomoncle/txorm/types"
)

// Service is the everyday entry point for one entity type. Reads and writes
// go through the repository, optionally behind validation and a cache.
type Service[T any] interface {
	// Get returns nil, nil when no record has id.
	Get(ctx context.Context, id any) (*T, error)

	// MustGet is Get with absence reported as database.ErrNotFound.
	MustGet(ctx context.Context, id any) (*T, error)

	// All returns every record in key order.
	All(ctx context.Context) ([]*T, error)

	// List returns one window of records in key order.
	List(ctx context.Context, limit, offset int) ([]*T, error)

	// FindOne returns the first record whose columns equal where.
	FindOne(ctx context.Context, where map[string]any) (*T, error)

	// Page returns a paginated list of records.
	Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error)

	// Save inserts one record.
	Save(ctx context.Context, fields map[string]any) (*T, error)

	// SaveAll inserts every row atomically.
	SaveAll(ctx context.Context, rows []map[string]any) ([]*T, error)

	Update(ctx context.Context, id any, fields map[string]any) (*T, error)

	Delete(ctx context.Context, id any) (bool, error)

	Count(ctx context.Context) (int, error)

	Exists(ctx context.Context, id any) (bool, error)

	// Stats summarizes a numeric column.
	Stats(ctx context.Context, column string) (*types.FieldStats, error)

	// Repository exposes the underlying repository for InScope work.
	Repository() repository.Repository[T]
}

type serviceOptions struct {
	validate   *validator.Validate
	validateOn bool
	store      operations.Store
}

// ServiceOption configures NewService.
type ServiceOption func(*serviceOptions)

// WithValidation checks validate tags before Save and Update. A nil validate
// uses a default validator.
func WithValidation(validate *validator.Validate) ServiceOption {
	return func(o *serviceOptions) {
		o.validate = validate
		o.validateOn = true
	}
}

// WithCache serves Get from store.
func WithCache(store operations.Store) ServiceOption {
	return func(o *serviceOptions) { o.store = store }
}

type baseServiceImpl[T any] struct {
	client    *Client
	repo      repository.Repository[T]
	crud      operations.MetaRepository[T]
	validated *operations.Validated[T]
}

// NewService returns the default Service for T on the client's pool.
func NewService[T any](c *Client, opts ...ServiceOption) (Service[T], error) {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	repo, err := repository.NewRepository[T](c.provider)
	if err != nil {
		return nil, err
	}
	svc := &baseServiceImpl[T]{client: c, repo: repo, crud: repo}
	if o.validateOn {
		svc.validated = operations.NewValidated[T](svc.crud, o.validate)
		svc.crud = svc.validated
	}
	if o.store != nil {
		svc.crud = operations.NewCached[T](svc.crud, o.store, c.logger)
	}
	return svc, nil
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	return s.crud.GetByID(ctx, id)
}

func (s *baseServiceImpl[T]) MustGet(ctx context.Context, id any) (*T, error) {
	return operations.MustGet[T](ctx, s.crud, id)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.crud.GetAll(ctx, 0, 0)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, limit, offset int) ([]*T, error) {
	return s.crud.GetAll(ctx, limit, offset)
}

func (s *baseServiceImpl[T]) FindOne(ctx context.Context, where map[string]any) (*T, error) {
	return operations.FindOne(ctx, s.repo, where)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[T], error) {
	return operations.Paginate(ctx, s.repo, req)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, fields map[string]any) (*T, error) {
	return s.crud.Create(ctx, fields)
}

func (s *baseServiceImpl[T]) SaveAll(ctx context.Context, rows []map[string]any) ([]*T, error) {
	if s.validated != nil {
		for _, fields := range rows {
			if err := s.validated.CheckCreate(ctx, fields); err != nil {
				return nil, err
			}
		}
	}
	return operations.BulkCreate[T](ctx, s.client.provider, rows)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	return s.crud.Update(ctx, id, fields)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) (bool, error) {
	return s.crud.Delete(ctx, id)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context) (int, error) {
	return s.crud.Count(ctx)
}

func (s *baseServiceImpl[T]) Exists(ctx context.Context, id any) (bool, error) {
	return s.crud.Exists(ctx, id)
}

func (s *baseServiceImpl[T]) Stats(ctx context.Context, column string) (*types.FieldStats, error) {
	return operations.CollectFieldStats(ctx, s.repo, column)
}

func (s *baseServiceImpl[T]) Repository() repository.Repository[T] { return s.repo }
