// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the process-wide metrics registry. It is created
// explicitly at startup and passed as a handle; there is no package-level
// default registry to mutate from a distance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles CALIBER's Prometheus collectors behind one handle.
type Registry struct {
	registry *prometheus.Registry

	EntityMutations *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	EventsPublished prometheus.Counter
	ToolExecutions  *prometheus.CounterVec
	WSSubscribers   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry constructs and registers every collector. Collectors are
// labeled by tenant where the cardinality is bounded by the tenant count.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		EntityMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caliber_entity_mutations_total",
			Help: "Entity create/update/delete operations by tenant and entity type.",
		}, []string{"tenant", "entity_type"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caliber_cache_hits_total",
			Help: "Tenant cache hits.",
		}, []string{"tenant"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caliber_cache_misses_total",
			Help: "Tenant cache misses.",
		}, []string{"tenant"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caliber_broadcast_events_total",
			Help: "Events published on the broadcast fabric.",
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caliber_tool_executions_total",
			Help: "Tool gate dispatches by tenant and outcome.",
		}, []string{"tenant", "success"}),
		WSSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caliber_ws_subscribers",
			Help: "Currently connected WebSocket subscribers.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caliber_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		r.EntityMutations, r.CacheHits, r.CacheMisses, r.EventsPublished,
		r.ToolExecutions, r.WSSubscribers, r.RequestDuration,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.registry }
