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

	"github.com/tomoncle/txorm/entity"
	"github.com/tomoncle/txorm/session"
)

// CrudRepository is the auto-managed contract: every call runs in a
// transaction of its own that is committed or rolled back before it returns.
type CrudRepository[T any] interface {
	// GetByID returns nil, nil when no record has id.
	GetByID(ctx context.Context, id any) (*T, error)

	// Create inserts a record built from fields and returns it with the
	// server-assigned key and defaults loaded.
	Create(ctx context.Context, fields map[string]any) (*T, error)

	// Update merges fields into the record with id. It returns nil, nil when
	// no record has id.
	Update(ctx context.Context, id any, fields map[string]any) (*T, error)

	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id any) (bool, error)

	// GetAll returns records ordered by primary key. Zero limit or offset
	// means none.
	GetAll(ctx context.Context, limit, offset int) ([]*T, error)

	Count(ctx context.Context) (int, error)

	Exists(ctx context.Context, id any) (bool, error)
}

// ScopedRepository runs the same operations on a handle the caller owns. It
// never commits, rolls back or closes that handle.
type ScopedRepository[T any] interface {
	GetByIDInScope(ctx context.Context, s *session.Session, id any) (*T, error)
	CreateInScope(ctx context.Context, s *session.Session, fields map[string]any) (*T, error)
	UpdateInScope(ctx context.Context, s *session.Session, id any, fields map[string]any) (*T, error)
	DeleteInScope(ctx context.Context, s *session.Session, id any) (bool, error)
	GetAllInScope(ctx context.Context, s *session.Session, limit, offset int) ([]*T, error)
	CountInScope(ctx context.Context, s *session.Session) (int, error)
}

// Repository combines both contracts for one entity type. Every record it
// returns is detached: fully loaded and bound to no handle.
type Repository[T any] interface {
	CrudRepository[T]
	ScopedRepository[T]
	Meta() *entity.Meta
	Provider() *session.Provider
}
