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
	"maps"
	"reflect"
	"strings"

	"github.com/tomoncle/txorm/database"
	"github.com/uptrace/bun/schema"
)

// VersionColumn holds the optimistic lock counter of versioned entities.
const VersionColumn = "version"

func (m *Meta) versionField() *schema.Field {
	f := m.table.FieldMap[VersionColumn]
	if f == nil || f.IsPK {
		return nil
	}
	switch f.IndirectType.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return f
	}
	return nil
}

// Versioned reports whether the entity has an integer VersionColumn.
func (m *Meta) Versioned() bool { return m.versionField() != nil }

// Version returns the version e holds, or 0 for unversioned entities.
func (m *Meta) Version(e any) int64 {
	f := m.versionField()
	if f == nil {
		return 0
	}
	v := f.Value(m.structOf(e))
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

// CheckVersion strips VersionColumn from fields. A version the caller named
// is the one it expects e to hold; any other stored version is a
// *database.StaleVersionError. fields itself is never modified.
func (m *Meta) CheckVersion(e any, fields map[string]any) (map[string]any, error) {
	raw, ok := fields[VersionColumn]
	if !ok || !m.Versioned() {
		return fields, nil
	}
	var expected int64
	if err := assign(reflect.ValueOf(&expected).Elem(), raw); err != nil {
		return nil, &database.UnknownFieldError{
			Entity: m.Name,
			Field:  VersionColumn,
			Reason: fmt.Sprintf("cannot take value %v: %v", raw, err),
		}
	}
	if actual := m.Version(e); actual != expected {
		return nil, &database.StaleVersionError{Entity: m.Name, ID: m.PKValue(e), Expected: expected, Actual: actual}
	}
	rest := maps.Clone(fields)
	delete(rest, VersionColumn)
	return rest, nil
}

// BumpVersion increments the version of e and reports whether e has one.
func (m *Meta) BumpVersion(e any) bool {
	f := m.versionField()
	if f == nil {
		return false
	}
	v := f.Value(m.structOf(e))
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.CanInt() {
		v.SetInt(v.Int() + 1)
	} else {
		v.SetUint(v.Uint() + 1)
	}
	return true
}

// SoftDeleteColumn returns the deletion mark column, or "" when records of
// the entity are removed outright.
func (m *Meta) SoftDeleteColumn() string {
	if f := m.table.SoftDeleteField; f != nil {
		return f.Name
	}
	return ""
}

// Order is one parsed sort term.
type Order struct {
	Column string
	Desc   bool
}

func (o Order) Direction() string {
	if o.Desc {
		return "DESC"
	}
	return "ASC"
}

// ParseOrders parses "column" or "column ASC|DESC" terms. Every column must
// belong to the entity.
func (m *Meta) ParseOrders(orders []string) ([]Order, error) {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		parts := strings.Fields(o)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, fmt.Errorf("invalid order %q", o)
		}
		if !m.HasColumn(parts[0]) {
			return nil, &database.UnknownFieldError{Entity: m.Name, Field: parts[0], Reason: "cannot order by it"}
		}
		order := Order{Column: parts[0]}
		if len(parts) == 2 {
			switch strings.ToUpper(parts[1]) {
			case "ASC":
			case "DESC":
				order.Desc = true
			default:
				return nil, fmt.Errorf("invalid order direction %q", parts[1])
			}
		}
		out = append(out, order)
	}
	return out, nil
}
