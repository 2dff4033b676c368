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

package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// GetMany loads ids concurrently, one GetByID and therefore one handle per
// goroutine, at most WithFanOut at a time. Records keep the order of ids and
// missing ids are skipped. The first error cancels the remaining loads.
func (r *Repository[T]) GetMany(ctx context.Context, ids []any) ([]*T, error) {
	found := make([]*T, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanOut)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.GetByID(gctx, id)
			if err != nil {
				return err
			}
			found[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(found))
	for _, rec := range found {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
