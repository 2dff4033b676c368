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
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tomoncle/txorm/database"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 3 * time.Second
)

// Pool is the part of *pgxpool.Pool the manager drives.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// ConnectionManager owns a pgx pool. Acquire checks out a connection and
// begins a transaction on it in one step; the connection goes back to the
// pool when that transaction commits or rolls back.
type ConnectionManager struct {
	config *database.ConnectionConfig
	logger database.Logger

	mu       sync.RWMutex
	pool     Pool
	disposed bool
}

// NewConnectionManager builds a pgxpool from cfg and verifies it with a ping.
func NewConnectionManager(ctx context.Context, cfg *database.ConnectionConfig) (*ConnectionManager, error) {
	if cfg == nil {
		cfg = database.DefaultConnectionConfig()
	}
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := verifyPoolConnection(ctx, pool, defaultPingTimeout); err != nil {
		return nil, err
	}
	m := NewConnectionManagerWithPool(pool, cfg)
	m.logger.Info("Async pool initialized",
		"host", cfg.Host,
		"db_name", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
		"pre_ping", cfg.PoolPrePing,
	)
	return m, nil
}

// NewConnectionManagerWithPool adopts an existing pool, such as a pgxmock pool.
func NewConnectionManagerWithPool(pool Pool, cfg *database.ConnectionConfig) *ConnectionManager {
	if cfg == nil {
		cfg = database.DefaultConnectionConfig()
	}
	return &ConnectionManager{
		config: cfg,
		logger: database.GetLogger(),
		pool:   pool,
	}
}

// buildPoolConfig maps size plus overflow onto MaxConns and keeps PoolSize
// connections warm. Pre-ping pings every connection on checkout; pgxpool
// destroys one that fails and hands out another.
func buildPoolConfig(cfg *database.ConnectionConfig) (*pgxpool.Config, error) {
	dsn, err := cfg.PostgresURL()
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = clampInt32(cfg.MaxConnections())
	poolCfg.MinConns = min(clampInt32(cfg.PoolSize), poolCfg.MaxConns)
	if cfg.PoolRecycle > 0 {
		poolCfg.MaxConnLifetime = cfg.PoolRecycle
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	} else {
		poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PoolPrePing {
		poolCfg.ShouldPing = func(context.Context, pgxpool.ShouldPingParams) bool { return true }
	}
	return poolCfg, nil
}

func clampInt32(v int) int32 {
	switch {
	case v <= 0:
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}

// verifyPoolConnection pings the pool and closes it on failure.
func verifyPoolConnection(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (m *ConnectionManager) getPool() Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return nil
	}
	return m.pool
}

// Acquire checks out a connection and begins a transaction with opts. It waits
// at most PoolTimeout and then fails with *database.PoolExhaustedError.
func (m *ConnectionManager) Acquire(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	pool := m.getPool()
	if pool == nil {
		return nil, database.ErrNotConnected
	}
	timeout := m.config.PoolTimeout
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := pool.BeginTx(acquireCtx, opts)
	if err == nil {
		return tx, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		m.logger.Warn("Connection pool exhausted",
			"timeout", timeout,
			"max", m.config.MaxConnections(),
		)
		return nil, &database.PoolExhaustedError{Timeout: timeout, Err: err}
	}
	return nil, err
}

// Ping runs a round trip on a pooled connection and reports the outcome
// without returning an error.
func (m *ConnectionManager) Ping(ctx context.Context) bool {
	pool := m.getPool()
	if pool == nil {
		m.logger.Warn("Liveness check failed", "error", database.ErrNotConnected)
		return false
	}
	if err := pool.Ping(ctx); err != nil {
		m.logger.Warn("Liveness check failed", "error", err)
		return false
	}
	return true
}

// Dispose closes the pool. Later calls do nothing.
func (m *ConnectionManager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.pool == nil {
		return nil
	}
	m.pool.Close()
	m.disposed = true
	m.logger.Info("Async pool closed")
	return nil
}

// PoolStatus reports pool occupancy. Counters are only available for a
// *pgxpool.Pool; other pools report the configured bounds.
func (m *ConnectionManager) PoolStatus() *database.PoolStatus {
	status := &database.PoolStatus{Size: m.config.PoolSize, MaxOverflow: m.config.MaxOverflow}
	pool, ok := m.getPool().(*pgxpool.Pool)
	if !ok {
		return status
	}
	stat := pool.Stat()
	status.Open = int(stat.TotalConns())
	status.InUse = int(stat.AcquiredConns())
	status.Idle = int(stat.IdleConns())
	status.WaitCount = stat.EmptyAcquireCount()
	status.WaitDuration = stat.EmptyAcquireWaitTime()
	if overflow := status.Open - m.config.PoolSize; overflow > 0 {
		status.Overflow = overflow
	}
	return status
}

func (m *ConnectionManager) Config() database.ConnectionConfig { return *m.config }

func (m *ConnectionManager) SetLogger(logger database.Logger) {
	if logger == nil {
		logger = database.NopLogger()
	}
	m.logger = logger
}
