// Copyright Istio Authors
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

// Package metrics is the MetricsSink collaborator of spec.md §6,
// implemented with Prometheus client metrics as the teacher's go.mod
// (github.com/prometheus/client_golang) and grpc-prometheus wiring do.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter distinguishes which side of a flow is recording metrics.
type Reporter string

const (
	ReporterSource      Reporter = "source"
	ReporterDestination Reporter = "destination"
)

// SecurityPolicy records how a connection was secured, for the
// connection_open/connection_close label set.
type SecurityPolicy string

const (
	SecurityMutualTLS SecurityPolicy = "mutual_tls"
	SecurityNone      SecurityPolicy = "none"
)

// Labels carries the dimensions attached to a connection's metrics,
// mirroring the original's ConnectionOpen record (spec.md §6, §9).
type Labels struct {
	Reporter       Reporter
	SecurityPolicy SecurityPolicy
	// SourceCanonical/DestinationCanonical are left empty when the source
	// workload is unknown, e.g. a flow arriving via a network gateway
	// (spec.md §9 "cross-network source attribution": never fabricated).
	SourceCanonical      string
	DestinationCanonical string
	DestinationService   string
}

// Sink is the MetricsSink collaborator (spec.md §6): record(counter,
// value) plus deferred counters that increment on drop.
type Sink struct {
	connOpen      *prometheus.CounterVec
	connClose     *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
}

var labelNames = []string{"reporter", "security_policy", "source_canonical", "destination_canonical", "destination_service"}

// NewSink constructs a Sink and registers its collectors with reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		connOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ztunnel_connection_opens_total",
			Help: "Total connections admitted.",
		}, labelNames),
		connClose: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ztunnel_connection_closes_total",
			Help: "Total connections closed, incremented on the single deferred-guard exit path.",
		}, labelNames),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ztunnel_bytes_sent_total",
			Help: "Bytes sent from the destination/upstream side back to the connection's source.",
		}, labelNames),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ztunnel_bytes_received_total",
			Help: "Bytes received from the connection's source toward the destination/upstream side.",
		}, labelNames),
	}
	reg.MustRegister(s.connOpen, s.connClose, s.bytesSent, s.bytesReceived)
	return s
}

func (s *Sink) values(l Labels) []string {
	return []string{string(l.Reporter), string(l.SecurityPolicy), l.SourceCanonical, l.DestinationCanonical, l.DestinationService}
}

// RecordOpen increments the connection_open counter for l.
func (s *Sink) RecordOpen(l Labels) {
	s.connOpen.WithLabelValues(s.values(l)...).Inc()
}

// RecordBytes adds sent/received byte counts for l.
func (s *Sink) RecordBytes(l Labels, sent, received int64) {
	if sent > 0 {
		s.bytesSent.WithLabelValues(s.values(l)...).Add(float64(sent))
	}
	if received > 0 {
		s.bytesReceived.WithLabelValues(s.values(l)...).Add(float64(received))
	}
}

// ConnectionCloseGuard is a scoped guard whose Close is the single
// increment path for connection_close, guaranteed to run on every exit
// route (spec.md §9: "deferred metric counters that increment on drop").
// Callers defer Close immediately after construction.
type ConnectionCloseGuard struct {
	sink   *Sink
	labels Labels
	done   int32
}

// IncrementDefer returns a guard recording l's connection_open now and
// arming connection_close for when the guard is closed.
func (s *Sink) IncrementDefer(l Labels) *ConnectionCloseGuard {
	s.RecordOpen(l)
	return &ConnectionCloseGuard{sink: s, labels: l}
}

// Close increments connection_close exactly once, even if called more
// than once (e.g. from both a deferred call and an explicit early-exit
// call).
func (g *ConnectionCloseGuard) Close() {
	if atomic.CompareAndSwapInt32(&g.done, 0, 1) {
		g.sink.connClose.WithLabelValues(g.sink.values(g.labels)...).Inc()
	}
}
