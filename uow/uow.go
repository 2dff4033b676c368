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

// Package uow coordinates several repositories on one transactional handle,
// so writes to different entity types commit or roll back together.
package uow

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/tomoncle/txorm/repository"
	"github.com/tomoncle/txorm/session"
)

// ErrUnitOfWorkClosed is returned when a UnitOfWork is used after Run returned.
var ErrUnitOfWorkClosed = errors.New("unit of work is closed")

// UnitOfWork owns one handle for the duration of Run. It vends repositories
// bound to that handle and is not safe for concurrent use.
type UnitOfWork struct {
	provider *session.Provider
	session  *session.Session

	mu     sync.Mutex
	repos  map[reflect.Type]any
	closed bool
}

// Run opens one handle, passes a UnitOfWork over it to fn, then commits when
// fn returns nil or rolls back when it returns an error or panics. fn's error
// is returned unchanged. Repositories obtained from the UnitOfWork never
// commit themselves.
func Run(ctx context.Context, provider *session.Provider, fn func(ctx context.Context, u *UnitOfWork) error) error {
	return provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		u := &UnitOfWork{
			provider: provider,
			session:  s,
			repos:    make(map[reflect.Type]any),
		}
		defer u.close()
		return fn(ctx, u)
	})
}

// Session returns the shared handle.
func (u *UnitOfWork) Session() (*session.Session, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrUnitOfWorkClosed
	}
	return u.session, nil
}

func (u *UnitOfWork) close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	clear(u.repos)
}

// Repo returns the repository for T bound to the handle of u. Repeated calls
// for the same T return the same value.
func Repo[T any](u *UnitOfWork) (*Scoped[T], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, ErrUnitOfWorkClosed
	}
	if cached, ok := u.repos[typ]; ok {
		return cached.(*Scoped[T]), nil
	}
	repo, err := repository.NewRepository[T](u.provider)
	if err != nil {
		return nil, err
	}
	scoped := &Scoped[T]{u: u, repo: repo}
	u.repos[typ] = scoped
	return scoped, nil
}

// Scoped is a repository borrowed from a UnitOfWork. Each method runs the
// InScope form of the operation on the shared handle.
type Scoped[T any] struct {
	u    *UnitOfWork
	repo repository.Repository[T]
}

// Repository returns the underlying repository, whose plain methods open
// handles of their own and are outside the unit of work.
func (r *Scoped[T]) Repository() repository.Repository[T] { return r.repo }

func (r *Scoped[T]) GetByID(ctx context.Context, id any) (*T, error) {
	s, err := r.u.Session()
	if err != nil {
		return nil, err
	}
	return r.repo.GetByIDInScope(ctx, s, id)
}

func (r *Scoped[T]) Create(ctx context.Context, fields map[string]any) (*T, error) {
	s, err := r.u.Session()
	if err != nil {
		return nil, err
	}
	return r.repo.CreateInScope(ctx, s, fields)
}

func (r *Scoped[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	s, err := r.u.Session()
	if err != nil {
		return nil, err
	}
	return r.repo.UpdateInScope(ctx, s, id, fields)
}

func (r *Scoped[T]) Delete(ctx context.Context, id any) (bool, error) {
	s, err := r.u.Session()
	if err != nil {
		return false, err
	}
	return r.repo.DeleteInScope(ctx, s, id)
}

func (r *Scoped[T]) GetAll(ctx context.Context, limit, offset int) ([]*T, error) {
	s, err := r.u.Session()
	if err != nil {
		return nil, err
	}
	return r.repo.GetAllInScope(ctx, s, limit, offset)
}

func (r *Scoped[T]) Count(ctx context.Context) (int, error) {
	s, err := r.u.Session()
	if err != nil {
		return 0, err
	}
	return r.repo.CountInScope(ctx, s)
}
