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
	"encoding/json"
	"fmt"

	"github.com/tomoncle/txorm/database"
	"golang.org/x/sync/errgroup"
)

const defaultWarmConcurrency = 8

// Cached serves GetByID from a Store and falls through to the repository on
// a miss. Records are detached, so a cached copy never aliases a live handle.
// Create stores the new record; Update and Delete drop the entry once the
// write returns, so a reader that filled it mid-write cannot leave a stale
// copy behind. Store failures are logged and never fail the call.
type Cached[T any] struct {
	MetaRepository[T]
	store  Store
	logger database.Logger
}

func NewCached[T any](repo MetaRepository[T], store Store, logger database.Logger) *Cached[T] {
	if logger == nil {
		logger = database.GetLogger()
	}
	return &Cached[T]{MetaRepository: repo, store: store, logger: logger}
}

// key normalizes id through the primary key type, so 7 and "7" share an entry.
func (c *Cached[T]) key(id any) (string, error) {
	meta := c.Meta()
	rec := new(T)
	if err := meta.SetPK(rec, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%v", meta.Relation, meta.PKValue(rec)), nil
}

func (c *Cached[T]) GetByID(ctx context.Context, id any) (*T, error) {
	key, err := c.key(id)
	if err != nil {
		return nil, err
	}
	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("Cache read failed", "key", key, "error", err)
	} else if ok {
		var rec T
		if err := json.Unmarshal(raw, &rec); err == nil {
			c.logger.Debug("Cache hit", "key", key)
			return &rec, nil
		}
		c.logger.Warn("Dropping undecodable cache entry", "key", key)
		c.forget(ctx, key)
	}

	rec, err := c.MetaRepository.GetByID(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	c.remember(ctx, key, rec)
	return rec, nil
}

func (c *Cached[T]) Create(ctx context.Context, fields map[string]any) (*T, error) {
	rec, err := c.MetaRepository.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	if key, err := c.key(c.Meta().PKValue(rec)); err == nil {
		c.remember(ctx, key, rec)
	}
	return rec, nil
}

func (c *Cached[T]) Update(ctx context.Context, id any, fields map[string]any) (*T, error) {
	key, err := c.key(id)
	if err != nil {
		return nil, err
	}
	c.forget(ctx, key)
	rec, err := c.MetaRepository.Update(ctx, id, fields)
	c.forget(ctx, key)
	return rec, err
}

func (c *Cached[T]) Delete(ctx context.Context, id any) (bool, error) {
	key, err := c.key(id)
	if err != nil {
		return false, err
	}
	deleted, err := c.MetaRepository.Delete(ctx, id)
	c.forget(ctx, key)
	return deleted, err
}

// GetMany reads ids through the cache concurrently. Records keep the order
// of ids and missing ids are skipped.
func (c *Cached[T]) GetMany(ctx context.Context, ids []any) ([]*T, error) {
	found := make([]*T, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultWarmConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := c.GetByID(gctx, id)
			found[i] = rec
			return err
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

// Clear drops every cached record.
func (c *Cached[T]) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *Cached[T]) remember(ctx context.Context, key string, rec *T) {
	raw, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("Cannot encode record for cache", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

func (c *Cached[T]) forget(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("Cache invalidation failed", "key", key, "error", err)
	}
}
