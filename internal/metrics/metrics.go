// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects and exposes Prometheus metrics for the ingest
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline's Prometheus instruments.
type Collector struct {
	ingested prometheus.Counter
	skipped  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewCollector registers the pipeline metrics on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nlhub_ingested_total",
			Help: "Newsletters stored successfully.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlhub_skipped_total",
			Help: "Inbound messages skipped, by reason.",
		}, []string{"reason"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlhub_failed_total",
			Help: "Webhook requests that ended in a hard error, by stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nlhub_request_duration_seconds",
			Help:    "Webhook request duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.ingested, c.skipped, c.failed, c.duration)
	return c
}

// RecordIngested counts one stored newsletter.
func (c *Collector) RecordIngested() {
	c.ingested.Inc()
}

// RecordSkipped counts one skip with its reason.
func (c *Collector) RecordSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

// RecordFailed counts one hard failure at the given pipeline stage.
func (c *Collector) RecordFailed(stage string) {
	c.failed.WithLabelValues(stage).Inc()
}

// ObserveRequest records a request's wall-clock duration.
func (c *Collector) ObserveRequest(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
