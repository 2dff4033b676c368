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

// Package metrics exports pool occupancy and transaction outcomes to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/txorm/database"
)

const namespace = "txorm"

// PoolStatusSource is satisfied by both connection managers.
type PoolStatusSource interface {
	PoolStatus() *database.PoolStatus
}

// PoolCollector reads PoolStatus at scrape time.
type PoolCollector struct {
	source PoolStatusSource
	labels prometheus.Labels

	size         *prometheus.Desc
	maxOverflow  *prometheus.Desc
	open         *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	overflow     *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector labels every series with pool=name.
func NewPoolCollector(name string, source PoolStatusSource) *PoolCollector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help, nil, labels)
	}
	return &PoolCollector{
		source:       source,
		labels:       labels,
		size:         desc("size", "Connections kept open when idle."),
		maxOverflow:  desc("max_overflow", "Connections allowed beyond size."),
		open:         desc("open_connections", "Connections currently open."),
		inUse:        desc("in_use_connections", "Connections checked out."),
		idle:         desc("idle_connections", "Open connections waiting in the pool."),
		overflow:     desc("overflow_connections", "Open connections beyond size."),
		waitCount:    desc("wait_total", "Checkouts that had to wait for a connection."),
		waitDuration: desc("wait_seconds_total", "Time spent waiting for connections."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.maxOverflow
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.overflow
	ch <- c.waitCount
	ch <- c.waitDuration
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.PoolStatus()
	if s == nil {
		return
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.size, float64(s.Size))
	gauge(c.maxOverflow, float64(s.MaxOverflow))
	gauge(c.open, float64(s.Open))
	gauge(c.inUse, float64(s.InUse))
	gauge(c.idle, float64(s.Idle))
	gauge(c.overflow, float64(s.Overflow))
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration.Seconds())
}
