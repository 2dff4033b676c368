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
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bun"
)

// AbstractConnectionManager owns the pool of physical connections to one
// backing store. It knows nothing about transactions or entities.
type AbstractConnectionManager interface {
	Connect(ctx context.Context) error
	// Acquire checks out one connection, waiting at most PoolTimeout.
	Acquire(ctx context.Context) (bun.Conn, error)
	// Ping runs a trivial round trip and never returns an error.
	Ping(ctx context.Context) bool
	// Dispose closes every pooled connection. Safe to call repeatedly.
	Dispose() error
	PoolStatus() *PoolStatus
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	Config() ConnectionConfig
	SetLogger(logger Logger)
}

// PoolStatus is a point-in-time view of the pool.
type PoolStatus struct {
	Size         int           `json:"size"`
	MaxOverflow  int           `json:"max_overflow"`
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	Overflow     int           `json:"overflow"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// ConnectionConfig is the flat set of options consumed when a manager is
// built. URL, when set, takes precedence over the discrete host fields.
type ConnectionConfig struct {
	Type     string `json:"type" mapstructure:"type" validate:"required_without=URL,omitempty,oneof=mysql postgres postgresql sqlite sqlite3"`
	URL      string `json:"url" mapstructure:"url"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	DBName   string `json:"dbname" mapstructure:"dbname" validate:"required_without=URL"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
	// Variant picks the driver stack: sync (database/sql through bun) or
	// async (pgx pool, postgres only). Empty means sync.
	Variant string `json:"variant,omitempty" mapstructure:"variant" validate:"omitempty,oneof=sync async"`

	PoolSize    int           `json:"pool_size" mapstructure:"pool_size" validate:"gte=1"`
	MaxOverflow int           `json:"max_overflow" mapstructure:"max_overflow" validate:"gte=0"`
	PoolTimeout time.Duration `json:"pool_timeout" mapstructure:"pool_timeout" validate:"gt=0"`
	PoolRecycle time.Duration `json:"pool_recycle" mapstructure:"pool_recycle" validate:"gte=0"`
	PoolPrePing bool          `json:"pool_pre_ping" mapstructure:"pool_pre_ping"`
	Echo        bool          `json:"echo" mapstructure:"echo"`

	ConnMaxIdleTime     time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	ConnectTimeout      time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval" mapstructure:"health_check_interval"`
	SlowQueryTime       time.Duration `json:"slow_query_time" mapstructure:"slow_query_time"`
}

// DefaultConnectionConfig returns the documented defaults: a pool of 5 with
// 10 overflow slots, a 30s checkout timeout, hourly recycling and pre-ping on.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		PoolSize:            5,
		MaxOverflow:         10,
		PoolTimeout:         30 * time.Second,
		PoolRecycle:         time.Hour,
		PoolPrePing:         true,
		Echo:                false,
		ConnMaxIdleTime:     time.Minute * 30,
		ConnectTimeout:      time.Second * 10,
		ReadTimeout:         time.Second * 30,
		WriteTimeout:        time.Second * 30,
		HealthCheckInterval: 0,
		SlowQueryTime:       time.Second * 2,
	}
}

// MaxConnections is the hard cap on live connections.
func (c *ConnectionConfig) MaxConnections() int {
	return c.PoolSize + c.MaxOverflow
}

// PostgresURL returns the connection URL for a postgres configuration. A
// postgres URL option is returned as is.
func (c *ConnectionConfig) PostgresURL() (string, error) {
	if c.URL != "" {
		scheme, _, _ := strings.Cut(c.URL, "://")
		if scheme != "postgres" && scheme != "postgresql" {
			return "", fmt.Errorf("database url scheme %q is not postgres", scheme)
		}
		return c.URL, nil
	}
	if c.Type != "postgres" && c.Type != "postgresql" {
		return "", fmt.Errorf("database type %q is not postgres", c.Type)
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&connect_timeout=%d", url.QueryEscape(sslMode), int(c.ConnectTimeout.Seconds())),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String(), nil
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the option ranges.
func (c *ConnectionConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid connection config: %w", err)
	}
	return nil
}
