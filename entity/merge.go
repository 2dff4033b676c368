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
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/tomoncle/txorm/database"
)

// Merge assigns fields onto dst, a pointer to the entity, and returns the
// merged column names in sorted order. Every key must name a non-key column;
// values are converted with weak typing, so "42" fills an int and an RFC 3339
// string fills a time.Time. A nil value resets the column to its zero value.
// Nothing is assigned when any key is rejected.
func (m *Meta) Merge(dst any, fields map[string]any) ([]string, error) {
	strct := m.structOf(dst)
	cols, err := m.ValidateFields(fields)
	if err != nil {
		return nil, err
	}

	staged := reflect.New(m.Type).Elem()
	staged.Set(strct)
	for _, name := range cols {
		target := m.table.FieldMap[name].Value(staged)
		if err := assign(target, fields[name]); err != nil {
			return nil, &database.UnknownFieldError{
				Entity: m.Name,
				Field:  name,
				Reason: fmt.Sprintf("cannot take value %v: %v", fields[name], err),
			}
		}
	}
	strct.Set(staged)
	return cols, nil
}

// ValidateFields checks every key of fields against the assignable columns
// and returns the keys in sorted order.
func (m *Meta) ValidateFields(fields map[string]any) ([]string, error) {
	cols := make([]string, 0, len(fields))
	for name := range fields {
		f := m.table.FieldMap[name]
		if f == nil {
			return nil, &database.UnknownFieldError{Entity: m.Name, Field: name}
		}
		if f.IsPK {
			return nil, &database.UnknownFieldError{Entity: m.Name, Field: name, Reason: "is the primary key and cannot be assigned"}
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols, nil
}

// SetPK stores id as the primary key of e, converting it the way Merge does.
func (m *Meta) SetPK(e any, id any) error {
	if id == nil {
		return &database.UnknownFieldError{Entity: m.Name, Field: m.pk.Name, Reason: "cannot be nil"}
	}
	if err := assign(m.pk.Value(m.structOf(e)), id); err != nil {
		return &database.UnknownFieldError{
			Entity: m.Name,
			Field:  m.pk.Name,
			Reason: fmt.Sprintf("cannot take value %v: %v", id, err),
		}
	}
	return nil
}

func assign(target reflect.Value, value any) error {
	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(target.Type()) {
		target.Set(v)
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target.Addr().Interface(),
		WeaklyTypedInput: true,
		TagName:          "bun",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(value)
}
