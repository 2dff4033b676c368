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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tomoncle/txorm/utils"
)

var supportedTypes = []string{"mysql", "postgres", "postgresql", "sqlite", "sqlite3"}

// BaseDatabaseFactory builds connection managers from configuration and
// keeps the last one it built.
type BaseDatabaseFactory struct {
	manager AbstractConnectionManager
	logger  Logger
}

// NewDatabaseFactory returns a new database factory using the global logger.
func NewDatabaseFactory() *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger: GetLogger(),
	}
}

// CreateFromConfig applies DB_* environment overrides to cfg, validates it
// and returns an unconnected manager.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractConnectionManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}

	OverrideFromEnv(cfg)

	if cfg.URL == "" {
		supported := false
		for _, t := range supportedTypes {
			if cfg.Type == t {
				supported = true
				break
			}
		}
		if !supported {
			return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, supportedTypes)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manager := NewConnectionManager(cfg)
	manager.SetLogger(f.logger)

	f.manager = manager
	return manager, nil
}

// CreateFromProfile loads the named profile from path and builds a manager
// from it.
func (f *BaseDatabaseFactory) CreateFromProfile(path, name string) (AbstractConnectionManager, error) {
	cfg, err := LoadProfile(path, name)
	if err != nil {
		return nil, err
	}
	return f.CreateFromConfig(cfg)
}

// OverrideFromEnv overrides configuration values from DB_* environment
// variables. Durations accept Go syntax or bare seconds.
func OverrideFromEnv(cfg *ConnectionConfig) {
	if url := os.Getenv("DB_URL"); url != "" {
		cfg.URL = url
	}
	if typ := os.Getenv("DB_TYPE"); typ != "" {
		cfg.Type = typ
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		cfg.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.SSLMode = sslmode
	}
	if variant := os.Getenv("DB_VARIANT"); variant != "" {
		cfg.Variant = variant
	}

	// Connection pool config
	if size := os.Getenv("DB_POOL_SIZE"); size != "" {
		if val, err := strconv.Atoi(size); err == nil {
			cfg.PoolSize = val
		}
	}
	if overflow := os.Getenv("DB_MAX_OVERFLOW"); overflow != "" {
		if val, err := strconv.Atoi(overflow); err == nil {
			cfg.MaxOverflow = val
		}
	}
	cfg.PoolTimeout = utils.EnvDefaultDuration("DB_POOL_TIMEOUT", cfg.PoolTimeout)
	cfg.PoolRecycle = utils.EnvDefaultDuration("DB_POOL_RECYCLE", cfg.PoolRecycle)
	cfg.PoolPrePing = utils.EnvDefaultBool("DB_POOL_PRE_PING", cfg.PoolPrePing)

	// Logging config
	cfg.Echo = utils.EnvDefaultBool("DB_ECHO", cfg.Echo)
}

// InitializeDatabase connects the manager built last.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	f.logger.Info("Database initialization completed")
	return nil
}

// GetManager returns the underlying connection manager.
func (f *BaseDatabaseFactory) GetManager() AbstractConnectionManager {
	return f.manager
}

// SetLogger sets the logger on the factory and the underlying manager.
func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

// Close releases every connection held by the manager.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Dispose()
}

// GetHealthStatus returns the current database health status from the manager.
func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}
