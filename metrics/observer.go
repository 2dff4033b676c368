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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tomoncle/txorm/session"
)

// TransactionObserver counts handles by variant and outcome. Pass it to
// session.WithObserver or async.WithObserver.
type TransactionObserver struct {
	opened   *prometheus.CounterVec
	open     *prometheus.GaugeVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ session.Observer = (*TransactionObserver)(nil)

// NewTransactionObserver registers its series with reg. A nil reg uses the
// default registerer.
func NewTransactionObserver(reg prometheus.Registerer) *TransactionObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &TransactionObserver{
		opened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_opened_total",
			Help:      "Transactional handles opened.",
		}, []string{"variant"}),
		open: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_open",
			Help:      "Transactional handles not yet closed.",
		}, []string{"variant"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Closed handles by outcome.",
		}, []string{"variant", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from opening a handle to closing it.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"variant", "outcome"}),
	}
}

func (o *TransactionObserver) HandleOpened(variant string) {
	o.opened.WithLabelValues(variant).Inc()
	o.open.WithLabelValues(variant).Inc()
}

func (o *TransactionObserver) HandleFinished(variant string, outcome session.State, elapsed time.Duration) {
	o.open.WithLabelValues(variant).Dec()
	o.finished.WithLabelValues(variant, outcome.String()).Inc()
	o.duration.WithLabelValues(variant, outcome.String()).Observe(elapsed.Seconds())
}
