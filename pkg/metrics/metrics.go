/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequests counts requests by route pattern and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_http_requests_total",
		Help: "HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes handler latency per route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_http_request_seconds",
		Help:    "HTTP handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// SyncCells counts schedule cells written or failed per department.
	SyncCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_sync_cells_total",
		Help: "Schedule cells processed by sync tasks.",
	}, []string{"department", "result"})

	// SyncTasks counts finished sync tasks by terminal status.
	SyncTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_sync_tasks_total",
		Help: "Sync tasks by terminal status.",
	}, []string{"department", "status"})

	// ScoringOps counts scoring-engine operations.
	ScoringOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_scoring_operations_total",
		Help: "Scoring engine operations by kind.",
	}, []string{"operation"})

	// BonusRecords counts derived bonus/reward records per standard code.
	BonusRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_bonus_records_total",
		Help: "Derived bonus and reward records by standard code.",
	}, []string{"code"})

	// OAuthRefreshes counts identity-provider refresh calls per department.
	OAuthRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_oauth_refreshes_total",
		Help: "OAuth access-token refreshes by department and outcome.",
	}, []string{"department", "outcome"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
