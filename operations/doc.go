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

// Package operations layers optional behaviour over repositories without
// changing their contracts: struct validation, a read-through cache of
// detached records, pagination, field statistics and atomic bulk writes.
//
// Validated, Cached and MustGet accept any MetaRepository, so they wrap the
// bun repositories of package repository and the pgx ones of package async
// alike. The query and bulk helpers run on the bun variant.
package operations
