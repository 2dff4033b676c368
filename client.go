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

// Package txorm wires the data-access layer together: a connection manager
// built from configuration, the transaction scope provider on top of it, a
// model registry for schema creation and per-entity services.
package txorm

import (
	"context"

	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/session"
	"github.com/tomoncle/txorm/uow"
	"go.opentelemetry.io/otel/trace"
)

// Client owns one connection manager and the provider over it.
type Client struct {
	manager  database.AbstractConnectionManager
	provider *session.Provider
	registry database.ModelRegistry
	logger   database.Logger
}

type clientOptions struct {
	logger   database.Logger
	observer session.Observer
	tracer   trace.Tracer
	models   []database.SQLModel
}

// ClientOption configures Open.
type ClientOption func(*clientOptions)

func WithLogger(logger database.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithObserver reports every handle the client opens to observer.
func WithObserver(observer session.Observer) ClientOption {
	return func(o *clientOptions) { o.observer = observer }
}

func WithTracer(tracer trace.Tracer) ClientOption {
	return func(o *clientOptions) { o.tracer = tracer }
}

// WithModel registers a bun struct pointer for CreateTables. Lower priority
// tables are created first and dropped last.
func WithModel(instance interface{}, priority int) ClientOption {
	return func(o *clientOptions) {
		o.models = append(o.models, database.NewModelAdapter(instance, priority))
	}
}

// Open builds a manager from cfg, connects it and returns a ready client.
func Open(ctx context.Context, cfg *database.ConnectionConfig, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: database.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	factory := database.NewDatabaseFactory()
	factory.SetLogger(o.logger)
	manager, err := factory.CreateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := factory.InitializeDatabase(ctx); err != nil {
		return nil, err
	}

	providerOpts := []session.Option{session.WithLogger(o.logger)}
	if o.observer != nil {
		providerOpts = append(providerOpts, session.WithObserver(o.observer))
	}
	if o.tracer != nil {
		providerOpts = append(providerOpts, session.WithTracer(o.tracer))
	}

	registry := database.NewModelRegistry()
	for _, m := range o.models {
		registry.Register(m)
	}
	return &Client{
		manager:  manager,
		provider: session.NewProvider(manager, providerOpts...),
		registry: registry,
		logger:   o.logger,
	}, nil
}

// OpenProfile loads the named profile from path and opens a client for it.
func OpenProfile(ctx context.Context, path, name string, opts ...ClientOption) (*Client, error) {
	cfg, err := database.LoadProfile(path, name)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, opts...)
}

func (c *Client) Manager() database.AbstractConnectionManager { return c.manager }

func (c *Client) Provider() *session.Provider { return c.provider }

// RegisterModel adds a model for CreateTables and DropTables.
func (c *Client) RegisterModel(instance interface{}, priority int) {
	c.registry.Register(database.NewModelAdapter(instance, priority))
}

// CreateTables creates every registered table in one transaction.
func (c *Client) CreateTables(ctx context.Context) error {
	models := database.ModelInstances(c.registry)
	return c.provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		db, err := s.IDB()
		if err != nil {
			return err
		}
		return database.CreateTables(ctx, db, models...)
	})
}

// DropTables drops every registered table, dependents first.
func (c *Client) DropTables(ctx context.Context) error {
	models := database.ModelInstances(c.registry)
	return c.provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		db, err := s.IDB()
		if err != nil {
			return err
		}
		return database.DropTables(ctx, db, models...)
	})
}

// Seed applies the SQL seed files under root for environment inside one
// transaction. See database.SeedFiles for the layout.
func (c *Client) Seed(ctx context.Context, root, environment string) ([]database.SeedResult, error) {
	files, err := database.SeedFiles(root, environment)
	if err != nil {
		return nil, err
	}
	var results []database.SeedResult
	err = c.provider.WithTransaction(ctx, func(ctx context.Context, s *session.Session) error {
		db, err := s.IDB()
		if err != nil {
			return err
		}
		results, err = database.ExecSeedFiles(ctx, db, c.logger, files)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// WithTransaction is session.Provider.WithTransaction on the client's pool.
func (c *Client) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *session.Session) error) error {
	return c.provider.WithTransaction(ctx, fn)
}

// Run executes fn as one unit of work.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, u *uow.UnitOfWork) error) error {
	return uow.Run(ctx, c.provider, fn)
}

func (c *Client) Ping(ctx context.Context) bool { return c.manager.Ping(ctx) }

func (c *Client) PoolStatus() *database.PoolStatus { return c.manager.PoolStatus() }

// Close releases every pooled connection.
func (c *Client) Close() error { return c.manager.Dispose() }
