/*
 * FIAP X Video Processor
 * Copyright (C) 2025  FIAP X
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fiapx/videoproc"
)

var (
	metricsOnce sync.Once

	consumerProcessed            *prometheus.CounterVec
	consumerFailures             *prometheus.CounterVec
	consumerPoison               *prometheus.CounterVec
	consumerParseErrors          *prometheus.CounterVec
	consumerReceiveErrors        *prometheus.CounterVec
	consumerVisibilityExtensions *prometheus.CounterVec
	consumerHandleDuration       *prometheus.HistogramVec
)

func registerConsumerMetrics() {
	consumerProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_messages_processed_total",
		Help:      "Messages handled and acknowledged successfully",
	}, []string{"consumer"})
	consumerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_messages_failed_total",
		Help:      "Retryable handler failures left for redelivery",
	}, []string{"consumer"})
	consumerPoison = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_messages_poison_total",
		Help:      "Non-retryable messages acknowledged and dropped",
	}, []string{"consumer"})
	consumerParseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_parse_errors_total",
		Help:      "Messages whose envelope could not be decoded",
	}, []string{"consumer"})
	consumerReceiveErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_receive_errors_total",
		Help:      "Failed ReceiveMessage calls",
	}, []string{"consumer"})
	consumerVisibilityExtensions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_visibility_extensions_total",
		Help:      "Visibility timeout extensions requested for in-flight messages",
	}, []string{"consumer"})
	consumerHandleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: videoproc.MetricNamespace,
		Name:      "consumer_handle_seconds",
		Help:      "Handler execution time in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 3, 12),
	}, []string{"consumer"})

	prometheus.MustRegister(
		consumerProcessed,
		consumerFailures,
		consumerPoison,
		consumerParseErrors,
		consumerReceiveErrors,
		consumerVisibilityExtensions,
		consumerHandleDuration,
	)
}

// consumerMetrics is the per-consumer view of the shared collectors.
type consumerMetrics struct {
	processed            prometheus.Counter
	failures             prometheus.Counter
	poison               prometheus.Counter
	parseErrors          prometheus.Counter
	receiveErrors        prometheus.Counter
	visibilityExtensions prometheus.Counter
	handleDuration       prometheus.Observer
}

func metricsFor(consumer string) *consumerMetrics {
	metricsOnce.Do(registerConsumerMetrics)
	return &consumerMetrics{
		processed:            consumerProcessed.WithLabelValues(consumer),
		failures:             consumerFailures.WithLabelValues(consumer),
		poison:               consumerPoison.WithLabelValues(consumer),
		parseErrors:          consumerParseErrors.WithLabelValues(consumer),
		receiveErrors:        consumerReceiveErrors.WithLabelValues(consumer),
		visibilityExtensions: consumerVisibilityExtensions.WithLabelValues(consumer),
		handleDuration:       consumerHandleDuration.WithLabelValues(consumer),
	}
}
