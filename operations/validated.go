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

package operations

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validated checks the validate tags of T before writes reach the store.
// Create validates the whole record built from fields; Update validates only
// the fields being changed.
type Validated[T any] struct {
	MetaRepository[T]
	validate *validator.Validate
}

func NewValidated[T any](repo MetaRepository[T], validate *validator.Validate) *Validated[T] {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Validated[T]{MetaRepository: repo, validate: validate}
}

func (v *Validated[T]) Create(ctx context.Context, fields map[string]any) (*T, error) {
	if err := v.CheckCreate(ctx, fields); err != nil {
		return nil, err
	}
	return v.MetaRepository.Create(ctx, fields)
}

func (v *Validated[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	if err := v.CheckUpdate(ctx, fields); err != nil {
		return nil, err
	}
	return v.MetaRepository.Update(ctx, id, fields)
}

// CheckCreate validates the record fields would create without writing it.
func (v *Validated[T]) CheckCreate(ctx context.Context, fields map[string]any) error {
	candidate := new(T)
	if _, err := v.Meta().Merge(candidate, fields); err != nil {
		return err
	}
	if err := v.validate.StructCtx(ctx, candidate); err != nil {
		return fmt.Errorf("invalid %s: %w", v.Meta().Name, err)
	}
	return nil
}

// CheckUpdate validates only the fields an update would change.
func (v *Validated[T]) CheckUpdate(ctx context.Context, fields map[string]any) error {
	meta := v.Meta()
	candidate := new(T)
	cols, err := meta.Merge(candidate, fields)
	if err != nil || len(cols) == 0 {
		return err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = meta.GoName(c)
	}
	if err := v.validate.StructPartialCtx(ctx, candidate, names...); err != nil {
		return fmt.Errorf("invalid %s: %w", meta.Name, err)
	}
	return nil
}
