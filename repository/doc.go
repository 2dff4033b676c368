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

// Package repository provides Repository[T], generic record access for one
// bun entity type.
//
// Operations come in two forms. The plain ones (GetByID, Create, ...) open a
// handle through session.Provider.WithTransaction, so each call commits or
// rolls back on its own. The InScope ones borrow a *session.Session owned by
// the caller, typically a unit of work, and leave its lifecycle alone.
//
// Records returned by either form are detached: every column is reloaded
// through the open handle before the record is removed from the handle's
// identity set. A missing id is reported as a nil record, not an error.
//
// Example:
//
//	repo, err := repository.NewRepository[User](provider)
//	if err != nil {
//		return err
//	}
//	alice, err := repo.Create(ctx, map[string]any{"name": "Alice"})
package repository
