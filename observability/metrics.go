// Copyright 2026 Deskmate Authors
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

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the service.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	ToolCallsTotal    *prometheus.CounterVec
	RetrievalQueries  *prometheus.CounterVec
	LLMRequestSeconds prometheus.Histogram
	HTTPDuration      *prometheus.HistogramVec
}

// NewMetrics registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) {
		registry.MustRegister(c)
	}

	m := &Metrics{registry: registry}

	m.TurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskmate_turns_total",
		Help: "Conversation turns processed, by outcome.",
	}, []string{"outcome"})
	factory(m.TurnsTotal)

	m.TurnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskmate_turn_duration_seconds",
		Help:    "End-to-end conversation turn duration.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	factory(m.TurnDuration)

	m.ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskmate_tool_calls_total",
		Help: "Tool dispatches, by tool name and outcome.",
	}, []string{"tool", "outcome"})
	factory(m.ToolCallsTotal)

	m.RetrievalQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskmate_retrieval_queries_total",
		Help: "Retrieval engine queries, by outcome.",
	}, []string{"outcome"})
	factory(m.RetrievalQueries)

	m.LLMRequestSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskmate_llm_request_duration_seconds",
		Help:    "Language model request duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	factory(m.LLMRequestSeconds)

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deskmate_http_request_duration_seconds",
		Help:    "HTTP request duration, by method, path, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	factory(m.HTTPDuration)

	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn counts one turn with its duration.
func (m *Metrics) RecordTurn(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome(err)).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordToolCall counts one tool dispatch.
func (m *Metrics) RecordToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome(err)).Inc()
}

// RecordRetrieval counts one retrieval query.
func (m *Metrics) RecordRetrieval(err error) {
	if m == nil {
		return
	}
	m.RetrievalQueries.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records per-request duration labeled with the routed
// method, path pattern, and status code.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if m != nil {
			m.HTTPDuration.
				WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).
				Observe(time.Since(start).Seconds())
		}
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
