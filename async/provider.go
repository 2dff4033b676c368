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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Provider.
type Option func(*Provider)

func WithLogger(logger database.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithObserver(observer session.Observer) Option {
	return func(p *Provider) { p.observer = observer }
}

// WithTxOptions sets the isolation level and access mode of new transactions.
func WithTxOptions(opts pgx.TxOptions) Option {
	return func(p *Provider) { p.txOptions = opts }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Provider) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// Provider opens pgx handles. Its scopes follow the same rules as
// session.Provider.
type Provider struct {
	manager   *ConnectionManager
	logger    database.Logger
	observer  session.Observer
	txOptions pgx.TxOptions
	tracer    trace.Tracer
}

func NewProvider(manager *ConnectionManager, opts ...Option) *Provider {
	p := &Provider{
		manager: manager,
		logger:  database.GetLogger(),
		tracer:  otel.Tracer(session.TracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Manager() *ConnectionManager { return p.manager }

// CreateHandle opens a transaction on a pooled connection. The caller owns
// the Session and must Close it.
func (p *Provider) CreateHandle(ctx context.Context) (*Session, error) {
	tx, err := p.manager.Acquire(ctx, p.txOptions)
	if err != nil {
		return nil, database.Classify("acquire", err)
	}
	return newSession(tx, p.observer, p.logger), nil
}

// WithTransaction runs fn in a new handle: commit when fn returns nil,
// rollback and return fn's error unchanged when it fails, rollback and
// re-panic when it panics. The handle is closed on every path.
func (p *Provider) WithTransaction(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	ctx, span := p.tracer.Start(ctx, "txorm.WithTransaction",
		trace.WithAttributes(session.AttrVariant.String(VariantAsync)))
	defer span.End()

	s, err := p.CreateHandle(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return err
	}
	span.SetAttributes(session.AttrHandleID.String(s.ID()))

	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			p.logger.Warn("Failed to close handle", "handle_id", s.ID(), "error", cerr)
		}
		span.SetAttributes(session.AttrOutcome.String(s.Outcome().String()))
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
	if s.State() == session.StateOpen {
		return s.Commit(ctx)
	}
	return nil
}

func (p *Provider) rollbackAfter(ctx context.Context, s *Session, cause error) {
	if s.State() != session.StateOpen {
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

// WithTransactionRetry is WithTransaction retried on pool exhaustion.
func (p *Provider) WithTransactionRetry(ctx context.Context, backoff retry.Backoff, fn func(ctx context.Context, s *Session) error) error {
	return session.RetryPoolExhausted(ctx, backoff, p.logger, func(ctx context.Context) error {
		return p.WithTransaction(ctx, fn)
	})
}
