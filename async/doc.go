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

// Package async is the pgx/v5 variant of the data-access layer. It mirrors
// database, session, repository and uow with the same contracts: a pool that
// fails with database.ErrPoolExhausted after PoolTimeout, scopes that commit
// or roll back exactly once, and repositories that only return detached
// records.
//
// Every blocking call takes a context and is safe to run from many
// goroutines, but a *Session or *UnitOfWork belongs to the goroutine that
// opened it. Repository.GetMany shows the intended shape for parallel work:
// one handle per goroutine.
package async
