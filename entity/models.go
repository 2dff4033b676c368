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

package entity

import "time"

// IDModel is an embeddable auto-increment integer primary key.
type IDModel struct {
	ID int64 `bun:"id,pk,autoincrement" json:"id"`
}

// TimestampModel is an embeddable pair of server-defaulted timestamps.
// updated_at is refreshed on every update through Meta.Touch.
type TimestampModel struct {
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// SoftDeleteModel is an embeddable deletion mark. Deleting a record sets
// deleted_at instead of removing the row, and reads skip marked rows.
type SoftDeleteModel struct {
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the record carries a deletion mark.
func (m SoftDeleteModel) IsDeleted() bool { return !m.DeletedAt.IsZero() }

// VersionedModel is an embeddable optimistic lock. Every update increments
// version; an update that names a version fails unless it matches the stored
// one.
type VersionedModel struct {
	Version int64 `bun:"version,notnull,default:0" json:"version"`
}
