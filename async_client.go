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

package txorm

import (
	"context"
	"fmt"

	"github.com/tomoncle/txorm/async"
	"github.com/tomoncle/txorm/database"
)

// Backend is what both clients share: liveness, pool occupancy and release.
type Backend interface {
	Ping(ctx context.Context) bool
	PoolStatus() *database.PoolStatus
	Close() error
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*AsyncClient)(nil)
)

// AsyncClient owns one pgx pool manager and the provider over it.
type AsyncClient struct {
	manager  *async.ConnectionManager
	provider *async.Provider
}

// OpenAsync builds a pgx pool from cfg, which must describe postgres, and
// returns a ready client. DB_* environment variables override cfg as they do
// for Open.
func OpenAsync(ctx context.Context, cfg *database.ConnectionConfig, opts ...ClientOption) (*AsyncClient, error) {
	if cfg == nil {
		cfg = database.DefaultConnectionConfig()
	}
	database.OverrideFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	manager, err := async.NewConnectionManager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewAsyncClient(manager, opts...), nil
}

// OpenAsyncProfile loads the named profile from path and opens an async
// client for it.
func OpenAsyncProfile(ctx context.Context, path, name string, opts ...ClientOption) (*AsyncClient, error) {
	cfg, err := database.LoadProfile(path, name)
	if err != nil {
		return nil, err
	}
	return OpenAsync(ctx, cfg, opts...)
}

// NewAsyncClient wraps a manager that is already connected.
func NewAsyncClient(manager *async.ConnectionManager, opts ...ClientOption) *AsyncClient {
	o := clientOptions{logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	manager.SetLogger(o.logger)

	providerOpts := []async.Option{async.WithLogger(o.logger)}
	if o.observer != nil {
		providerOpts = append(providerOpts, async.WithObserver(o.observer))
	}
	if o.tracer != nil {
		providerOpts = append(providerOpts, async.WithTracer(o.tracer))
	}
	return &AsyncClient{
		manager:  manager,
		provider: async.NewProvider(manager, providerOpts...),
	}
}

// OpenBackend opens the client cfg.Variant names, after DB_VARIANT had its
// say.
func OpenBackend(ctx context.Context, cfg *database.ConnectionConfig, opts ...ClientOption) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	database.OverrideFromEnv(cfg)
	if cfg.Variant == async.VariantAsync {
		return OpenAsync(ctx, cfg, opts...)
	}
	return Open(ctx, cfg, opts...)
}

func (c *AsyncClient) Manager() *async.ConnectionManager { return c.manager }

func (c *AsyncClient) Provider() *async.Provider { return c.provider }

// WithTransaction is async.Provider.WithTransaction on the client's pool.
func (c *AsyncClient) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *async.Session) error) error {
	return c.provider.WithTransaction(ctx, fn)
}

// Run executes fn as one unit of work.
func (c *AsyncClient) Run(ctx context.Context, fn func(ctx context.Context, u *async.UnitOfWork) error) error {
	return async.Run(ctx, c.provider, fn)
}

func (c *AsyncClient) Ping(ctx context.Context) bool { return c.manager.Ping(ctx) }

func (c *AsyncClient) PoolStatus() *database.PoolStatus { return c.manager.PoolStatus() }

// Close closes the pool.
func (c *AsyncClient) Close() error { return c.manager.Dispose() }
