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

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

const prePingAttempts = 2

type defaultConnectionManager struct {
	config          *ConnectionConfig
	db              *bun.DB
	sqlDB           *sql.DB
	logger          Logger
	mu              sync.RWMutex
	connected       bool
	adopted         bool
	lastError       error
	healthStatus    *HealthStatus
	stopHealthCheck chan struct{}
	healthCheckOnce sync.Once
	stopOnce        sync.Once
}

// NewConnectionManager returns an AbstractConnectionManager backed by Bun.
// If config is nil, DefaultConnectionConfig is used.
func NewConnectionManager(config *ConnectionConfig) AbstractConnectionManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultConnectionManager{
		config:          config,
		logger:          GetLogger(),
		healthStatus:    &HealthStatus{},
		stopHealthCheck: make(chan struct{}),
	}
}

// NewConnectionManagerWithDB adopts an already opened *sql.DB. The pool
// settings of config are applied to it and Connect only verifies it.
func NewConnectionManagerWithDB(sqlDB *sql.DB, dialect schema.Dialect, config *ConnectionConfig) AbstractConnectionManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	dm := &defaultConnectionManager{
		config:          config,
		logger:          GetLogger(),
		sqlDB:           sqlDB,
		db:              bun.NewDB(sqlDB, dialect),
		adopted:         true,
		healthStatus:    &HealthStatus{},
		stopHealthCheck: make(chan struct{}),
	}
	dm.installHooks(dm.db)
	dm.configureConnectionPool()
	return dm
}

func (dm *defaultConnectionManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	if !dm.adopted {
		var err error
		dm.sqlDB, dm.db, err = dm.createConnection()
		if err != nil {
			dm.lastError = err
			return fmt.Errorf("failed to create database connection: %w", err)
		}
		dm.installHooks(dm.db)
		dm.configureConnectionPool()
	}
	if dm.db == nil {
		return ErrNotConnected
	}

	connectTimeout := dm.config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := dm.db.PingContext(ctxTimeout); err != nil {
		dm.lastError = err
		return fmt.Errorf("database connection test failed: %w", err)
	}

	dm.connected = true
	dm.lastError = nil

	if dm.config.HealthCheckInterval > 0 {
		dm.startHealthCheck()
	}

	dm.logger.Info("Database connected",
		"type", dm.dialectName(),
		"host", dm.config.Host,
		"pool_size", dm.config.PoolSize,
		"max_overflow", dm.config.MaxOverflow,
	)
	return nil
}

func (dm *defaultConnectionManager) dialectName() string {
	if dm.db == nil {
		return dm.config.Type
	}
	return dm.db.Dialect().Name().String()
}

func (dm *defaultConnectionManager) createConnection() (*sql.DB, *bun.DB, error) {
	typ, dsn, err := dm.resolveDSN()
	if err != nil {
		return nil, nil, err
	}

	var (
		driverName string
		dialect    schema.Dialect
	)
	switch typ {
	case "mysql":
		driverName, dialect = "mysql", mysqldialect.New()
	case "postgres", "postgresql":
		driverName, dialect = "postgres", pgdialect.New()
	case "sqlite", "sqlite3":
		driverName, dialect = sqliteshim.ShimName, sqlitedialect.New()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", typ)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, dialect), nil
}

// resolveDSN returns the dialect type and the driver DSN, either from URL or
// from the discrete connection fields.
func (dm *defaultConnectionManager) resolveDSN() (string, string, error) {
	cfg := dm.config
	if cfg.URL != "" {
		scheme, rest, ok := strings.Cut(cfg.URL, "://")
		if !ok {
			return "", "", fmt.Errorf("database url %q has no scheme", cfg.URL)
		}
		switch scheme {
		case "postgres", "postgresql":
			return "postgres", cfg.URL, nil
		case "mysql":
			return "mysql", rest, nil
		case "sqlite", "sqlite3", "file":
			if scheme == "file" {
				return "sqlite", cfg.URL, nil
			}
			return "sqlite", rest, nil
		default:
			return "", "", fmt.Errorf("unsupported database url scheme: %s", scheme)
		}
	}

	switch cfg.Type {
	case "mysql":
		return cfg.Type, fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%s&readTimeout=%s&writeTimeout=%s",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			cfg.ConnectTimeout,
			cfg.ReadTimeout,
			cfg.WriteTimeout,
		), nil
	case "postgres", "postgresql":
		dsn, err := cfg.PostgresURL()
		return cfg.Type, dsn, err
	case "sqlite", "sqlite3":
		if cfg.DBName == ":memory:" {
			return cfg.Type, "file::memory:?cache=shared", nil
		}
		return cfg.Type, fmt.Sprintf("%s.db", cfg.DBName), nil
	}
	return cfg.Type, "", fmt.Errorf("unsupported database type: %s", cfg.Type)
}

func (dm *defaultConnectionManager) installHooks(db *bun.DB) {
	if dm.config.Echo {
		db.AddQueryHook(NewQueryHook(os.Stdout))
	} else if _, ok := os.LookupEnv("BUNDEBUG"); ok {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{
			slowTime: dm.config.SlowQueryTime,
			logger:   dm.logger,
		})
	}
}

// configureConnectionPool maps pool size and overflow onto database/sql:
// PoolSize connections are kept idle, overflow ones are closed on release.
func (dm *defaultConnectionManager) configureConnectionPool() {
	if dm.sqlDB == nil {
		return
	}

	dm.sqlDB.SetMaxOpenConns(dm.config.MaxConnections())
	dm.sqlDB.SetMaxIdleConns(dm.config.PoolSize)
	dm.sqlDB.SetConnMaxLifetime(dm.config.PoolRecycle)
	dm.sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

func (dm *defaultConnectionManager) Acquire(ctx context.Context) (bun.Conn, error) {
	db := dm.GetDB()
	if db == nil {
		return bun.Conn{}, ErrNotConnected
	}

	var lastErr error
	for attempt := 0; attempt < prePingAttempts; attempt++ {
		conn, err := dm.checkout(ctx, db)
		if err != nil {
			return bun.Conn{}, err
		}
		if !dm.config.PoolPrePing {
			return conn, nil
		}
		if lastErr = conn.PingContext(ctx); lastErr == nil {
			return conn, nil
		}
		dm.logger.Warn("Discarding stale connection", "error", lastErr, "attempt", attempt+1)
		discard(conn)
	}
	return bun.Conn{}, fmt.Errorf("no live connection after %d attempts: %w", prePingAttempts, lastErr)
}

func (dm *defaultConnectionManager) checkout(ctx context.Context, db *bun.DB) (bun.Conn, error) {
	timeout := dm.config.PoolTimeout
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		status := dm.PoolStatus()
		dm.logger.Warn("Connection pool exhausted",
			"timeout", timeout,
			"in_use", status.InUse,
			"max", dm.config.MaxConnections(),
		)
		return bun.Conn{}, &PoolExhaustedError{Timeout: timeout, Err: err}
	}
	return bun.Conn{}, err
}

// discard makes database/sql drop the underlying driver connection instead of
// returning it to the idle set.
func discard(conn bun.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

func (dm *defaultConnectionManager) Ping(ctx context.Context) bool {
	db := dm.GetDB()
	if db == nil {
		dm.logger.Warn("Liveness check failed", "error", ErrNotConnected)
		return false
	}
	var one int
	if err := db.NewSelect().ColumnExpr("1").Scan(ctx, &one); err != nil {
		dm.logger.Warn("Liveness check failed", "error", err)
		return false
	}
	return true
}

func (dm *defaultConnectionManager) Dispose() error {
	dm.stopOnce.Do(func() { close(dm.stopHealthCheck) })

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false

	if err != nil {
		dm.logger.Error("Failed to close database connections", "error", err)
		return err
	}
	dm.logger.Info("Database connections released")
	return nil
}

func (dm *defaultConnectionManager) PoolStatus() *PoolStatus {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	status := &PoolStatus{Size: dm.config.PoolSize, MaxOverflow: dm.config.MaxOverflow}
	if sqlDB == nil {
		return status
	}

	stats := sqlDB.Stats()
	status.Open = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.WaitDuration = stats.WaitDuration
	if overflow := stats.OpenConnections - dm.config.PoolSize; overflow > 0 {
		status.Overflow = overflow
	}
	return status
}

func (dm *defaultConnectionManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultConnectionManager) Config() ConnectionConfig {
	return *dm.config
}

func (dm *defaultConnectionManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB, connected := dm.db, dm.sqlDB, dm.connected
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     connected,
	}

	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	// The ping runs unlocked so GetDB, Acquire and PoolStatus stay responsive.
	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)

	if err != nil {
		status.Connected = false
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	if dm.db == db {
		dm.lastError = err
		dm.healthStatus = status
	}
	dm.mu.Unlock()
	return status
}

func (dm *defaultConnectionManager) startHealthCheck() {
	dm.healthCheckOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(dm.config.HealthCheckInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
					status := dm.HealthCheck(ctx)
					cancel()
					if !status.Healthy {
						dm.logger.Warn("Database health check failed", "error", status.LastError)
					}
				case <-dm.stopHealthCheck:
					return
				}
			}
		}()
	})
}

func (dm *defaultConnectionManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if logger == nil {
		logger = NopLogger()
	}
	dm.logger = logger
}

type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}

	duration := time.Since(event.StartTime)
	if duration > h.slowTime && h.logger != nil {
		h.logger.Warn("Database slow query detected",
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}
