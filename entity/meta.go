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

import (
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun/schema"
)

// TouchColumn is refreshed with the current time on every update when the
// entity has it and the caller did not supply it.
const TouchColumn = "updated_at"

var timeType = reflect.TypeOf(time.Time{})

// Meta is the metadata the data-access layer needs about one entity type:
// relation name, column list and primary key. It is read from bun struct tags.
type Meta struct {
	Type     reflect.Type
	Name     string
	Relation string
	Columns  []string
	table    *schema.Table
	pk       *schema.Field
}

// MetaOf reads the metadata of T through the tables registry of dialect.
func MetaOf[T any](dialect schema.Dialect) (*Meta, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity type %s must be a struct", typ)
	}
	return NewMeta(dialect.Tables().Get(typ))
}

// NewMeta builds Meta from a bun table. Exactly one primary key is required.
func NewMeta(table *schema.Table) (*Meta, error) {
	if table == nil {
		return nil, fmt.Errorf("entity table is nil")
	}
	if len(table.PKs) != 1 {
		return nil, fmt.Errorf("entity %s must declare exactly one primary key, found %d", table.TypeName, len(table.PKs))
	}
	columns := make([]string, 0, len(table.Fields))
	for _, f := range table.Fields {
		columns = append(columns, f.Name)
	}
	return &Meta{
		Type:     table.Type,
		Name:     table.TypeName,
		Relation: table.Name,
		Columns:  columns,
		table:    table,
		pk:       table.PKs[0],
	}, nil
}

// Table exposes the underlying bun table.
func (m *Meta) Table() *schema.Table { return m.table }

// PrimaryKey returns the primary key column name.
func (m *Meta) PrimaryKey() string { return m.pk.Name }

// HasColumn reports whether name is one of the entity's columns.
func (m *Meta) HasColumn(name string) bool {
	_, ok := m.table.FieldMap[name]
	return ok
}

// New allocates a zero record as a pointer to the entity struct.
func (m *Meta) New() any { return reflect.New(m.Type).Interface() }

// PKValue returns the primary key value held by e, a pointer to the entity.
func (m *Meta) PKValue(e any) any {
	return m.pk.Value(m.structOf(e)).Interface()
}

// PKAddr returns a pointer to the primary key field of e, for scanning a
// key the store returned.
func (m *Meta) PKAddr(e any) any {
	return m.pk.Value(m.structOf(e)).Addr().Interface()
}

// GoName returns the struct field name behind column name, or "" when the
// entity has no such column.
func (m *Meta) GoName(name string) string {
	if f := m.table.FieldMap[name]; f != nil {
		return f.GoName
	}
	return ""
}

// Fields returns the bun fields in column order.
func (m *Meta) Fields() []*schema.Field { return m.table.Fields }

// HasPK reports whether e carries a non-zero primary key.
func (m *Meta) HasPK(e any) bool {
	return !m.pk.HasZeroValue(m.structOf(e))
}

// InsertValues returns the columns and values to write for a new record.
// Zero auto-assigned keys and zero fields backed by an SQL default are left
// out so the backing store fills them; other zero nullzero fields become NULL.
func (m *Meta) InsertValues(e any) ([]string, []any) {
	strct := m.structOf(e)
	cols := make([]string, 0, len(m.table.Fields))
	vals := make([]any, 0, len(m.table.Fields))
	for _, f := range m.table.Fields {
		zero := f.HasZeroValue(strct)
		if zero && (f.AutoIncrement || f.Identity) {
			continue
		}
		if zero && f.SQLDefault != "" {
			continue
		}
		cols = append(cols, f.Name)
		if zero && f.NullZero {
			vals = append(vals, nil)
			continue
		}
		vals = append(vals, f.Value(strct).Interface())
	}
	return cols, vals
}

// ColumnValues returns the values e holds for cols.
func (m *Meta) ColumnValues(e any, cols []string) map[string]any {
	strct := m.structOf(e)
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		f := m.table.FieldMap[c]
		if f == nil {
			continue
		}
		if f.NullZero && f.HasZeroValue(strct) {
			out[c] = nil
			continue
		}
		out[c] = f.Value(strct).Interface()
	}
	return out
}

// Touch sets TouchColumn to now when the entity has a time.Time column of
// that name, and reports whether it did.
func (m *Meta) Touch(e any, now time.Time) bool {
	f := m.table.FieldMap[TouchColumn]
	if f == nil || f.IndirectType != timeType {
		return false
	}
	v := f.Value(m.structOf(e))
	if v.Kind() == reflect.Ptr {
		t := now
		v.Set(reflect.ValueOf(&t))
		return true
	}
	v.Set(reflect.ValueOf(now))
	return true
}

func (m *Meta) structOf(e any) reflect.Value {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Ptr || v.Elem().Type() != m.Type {
		panic(fmt.Sprintf("entity: expected *%s, got %T", m.Type, e))
	}
	return v.Elem()
}
