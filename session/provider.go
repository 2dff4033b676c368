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

package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomoncle/txorm/database"
	"github.com/uptrace/bun/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of the spans opened around scopes.
const TracerName = "github.com/tomoncle/txorm"

// Scope attribute keys.
const (
	AttrHandleID = attribute.Key("txorm.handle.id")
	AttrVariant  = attribute.Key("txorm.handle.variant")
	AttrOutcome  = attribute.Key("txorm.handle.outcome")
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used for rollback and close failures.
func WithLogger(logger database.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers an Observer for every handle the provider opens.
func WithObserver(observer Observer) Option {
	return func(p *Provider) { p.observer = observer }
}

// WithTxOptions sets the isolation level and read-only flag of new transactions.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(p *Provider) { p.txOptions = opts }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Provider) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// Provider opens transactional handles on the connections of one manager.
type Provider struct {
	manager   database.AbstractConnectionManager
	logger    database.Logger
	observer  Observer
	txOptions *sql.TxOptions
	tracer    trace.Tracer
}

func NewProvider(manager database.AbstractConnectionManager, opts ...Option) *Provider {
	p := &Provider{
		manager: manager,
		logger:  database.GetLogger(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Manager() database.AbstractConnectionManager { return p.manager }

// Dialect returns the dialect of the connected database, or nil before Connect.
func (p *Provider) Dialect() schema.Dialect {
	db := p.manager.GetDB()
	if db == nil {
		return nil
	}
	return db.Dialect()
}

// CreateHandle checks out a connection and begins a transaction on it. The
// caller owns the returned Session and must Close it.
func (p *Provider) CreateHandle(ctx context.Context) (*Session, error) {
	conn, err := p.manager.Acquire(ctx)
	if err != nil {
		return nil, database.Classify("acquire", err)
	}
	tx, err := conn.BeginTx(ctx, p.txOptions)
	if err != nil {
		_ = conn.Close()
		return nil, database.Classify("begin", err)
	}
	return newSession(conn, tx, p.observer, p.logger), nil
}

// WithTransaction runs fn inside a new handle. fn returning nil commits; fn
// returning an error rolls back and that same error is returned. A panic in
// fn rolls back and is re-raised. The handle is closed on every path.
//
// Checkout failures, including *database.PoolExhaustedError, are returned
// before fn runs and leave nothing to roll back.
func (p *Provider) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	ctx, span := p.tracer.Start(ctx, "txorm.WithTransaction",
		trace.WithAttributes(AttrVariant.String(VariantSync)))
	defer span.End()

	s, err := p.CreateHandle(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return err
	}
	span.SetAttributes(AttrHandleID.String(s.ID()))

	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			p.logger.Warn("Failed to close handle", "handle_id", s.ID(), "error", cerr)
		}
		span.SetAttributes(AttrOutcome.String(s.Outcome().String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			p.rollbackAfter(ctx, s, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err = fn(ctx, s); err != nil {
		p.rollbackAfter(ctx, s, err)
		return err
	}
	if s.State() == StateOpen {
		return s.Commit(ctx)
	}
	return nil
}

// rollbackAfter rolls s back after cause. A rollback failure is logged next
// to cause and never replaces it.
func (p *Provider) rollbackAfter(ctx context.Context, s Handle, cause error) {
	if s.State() != StateOpen {
		return
	}
	if rbErr := s.Rollback(ctx); rbErr != nil {
		p.logger.Error("Failed to rollback transaction",
			"handle_id", s.ID(),
			"original_error", cause,
			"rollback_error", rbErr,
		)
	}
}
