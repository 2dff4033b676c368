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

package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/internal/testdb"
	"github.com/tomoncle/txorm/metrics"
	"github.com/tomoncle/txorm/session"
)

type staticStatus struct{ status *database.PoolStatus }

func (s staticStatus) PoolStatus() *database.PoolStatus { return s.status }

func TestPoolCollector(t *testing.T) {
	t.Run("Should export the pool status as gauges and counters", func(t *testing.T) {
		collector := metrics.NewPoolCollector("primary", staticStatus{&database.PoolStatus{
			Size:         5,
			MaxOverflow:  10,
			Open:         7,
			InUse:        6,
			Idle:         1,
			Overflow:     2,
			WaitCount:    3,
			WaitDuration: 1500 * time.Millisecond,
		}})

		expected := `
# HELP txorm_pool_in_use_connections Connections checked out.
# TYPE txorm_pool_in_use_connections gauge
txorm_pool_in_use_connections{pool="primary"} 6
# HELP txorm_pool_overflow_connections Open connections beyond size.
# TYPE txorm_pool_overflow_connections gauge
txorm_pool_overflow_connections{pool="primary"} 2
# HELP txorm_pool_wait_seconds_total Time spent waiting for connections.
# TYPE txorm_pool_wait_seconds_total counter
txorm_pool_wait_seconds_total{pool="primary"} 1.5
`
		err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
			"txorm_pool_in_use_connections",
			"txorm_pool_overflow_connections",
			"txorm_pool_wait_seconds_total",
		)
		require.NoError(t, err)
		assert.Equal(t, 8, testutil.CollectAndCount(collector))
	})

	t.Run("Should read a live manager at scrape time", func(t *testing.T) {
		manager := testdb.Open(t, nil)
		collector := metrics.NewPoolCollector("sqlite", manager)
		reg := prometheus.NewPedanticRegistry()
		require.NoError(t, reg.Register(collector))

		conn, err := manager.Acquire(context.Background())
		require.NoError(t, err)
		count, err := testutil.GatherAndCount(reg, "txorm_pool_in_use_connections")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		families, err := reg.Gather()
		require.NoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "txorm_pool_in_use_connections" {
				assert.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
			}
		}
		require.NoError(t, conn.Close())
	})
}

func TestTransactionObserver(t *testing.T) {
	ctx := context.Background()

	t.Run("Should count handles by variant and outcome", func(t *testing.T) {
		reg := prometheus.NewPedanticRegistry()
		observer := metrics.NewTransactionObserver(reg)
		manager := testdb.Open(t, nil)
		provider := session.NewProvider(manager,
			session.WithObserver(observer),
			session.WithLogger(database.NopLogger()),
		)

		require.NoError(t, provider.WithTransaction(ctx, func(context.Context, *session.Session) error { return nil }))
		require.NoError(t, provider.WithTransaction(ctx, func(context.Context, *session.Session) error { return nil }))
		err := provider.WithTransaction(ctx, func(context.Context, *session.Session) error { return errors.New("nope") })
		require.Error(t, err)

		expected := `
# HELP txorm_handles_open Transactional handles not yet closed.
# TYPE txorm_handles_open gauge
txorm_handles_open{variant="sync"} 0
# HELP txorm_handles_opened_total Transactional handles opened.
# TYPE txorm_handles_opened_total counter
txorm_handles_opened_total{variant="sync"} 3
# HELP txorm_transactions_total Closed handles by outcome.
# TYPE txorm_transactions_total counter
txorm_transactions_total{outcome="committed",variant="sync"} 2
txorm_transactions_total{outcome="rolled-back",variant="sync"} 1
`
		require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
			"txorm_handles_open", "txorm_handles_opened_total", "txorm_transactions_total"))

		count, err := testutil.GatherAndCount(reg, "txorm_transaction_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Should track handles still open", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		observer := metrics.NewTransactionObserver(reg)

		observer.HandleOpened("async")
		observer.HandleOpened("async")
		observer.HandleFinished("async", session.StateCommitted, 10*time.Millisecond)

		families, err := reg.Gather()
		require.NoError(t, err)
		var open float64
		for _, mf := range families {
			if mf.GetName() == "txorm_handles_open" {
				open = mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		assert.Equal(t, float64(1), open)
	})
}
