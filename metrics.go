// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics wires spec.md §6's GetStats()/GetSessionStats() counters
// into Prometheus. This is additive: the Go-level GetStats/GetSessionStats
// API spec.md mandates is unaffected and never depends on a Prometheus
// registry being present.
type serverMetrics struct {
	sessionsCreated    prometheus.Counter
	sessionsEvicted    prometheus.Counter
	framesReceived     prometheus.Counter
	framesProcessed    prometheus.Counter
	packetLoss         prometheus.Counter
	packetReorder      prometheus.Counter
	invalidHeaders     prometheus.Counter
	nonStandardHeaders prometheus.Counter
	sinkDrops          prometheus.Counter
	sinkErrors         prometheus.Counter
	resampleErrors     prometheus.Counter
	sendErrors         prometheus.Counter
}

func newServerMetrics(namespace string) *serverMetrics {
	m := &serverMetrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Total number of RTP sessions created from a new SSRC.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_evicted_total",
			Help: "Total number of RTP sessions cleaned up.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Total number of inbound RTP packets accepted.",
		}),
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_processed_total",
			Help: "Total number of inbound frames decoded, resampled and handed to sink dispatch.",
		}),
		packetLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packet_loss_total",
			Help: "Total number of inbound packets inferred lost from sequence gaps.",
		}),
		packetReorder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packet_reorder_total",
			Help: "Total number of inbound packets observed out of sequence order.",
		}),
		invalidHeaders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "invalid_header_total",
			Help: "Total number of inbound datagrams dropped for a malformed RTP header.",
		}),
		nonStandardHeaders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "non_standard_header_total",
			Help: "Total number of inbound headers carrying CSRC entries or an extension.",
		}),
		sinkDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_drops_total",
			Help: "Total number of frames dropped because the sink could not accept them immediately.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Total number of sink invocations that panicked or errored.",
		}),
		resampleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "resample_errors_total",
			Help: "Total number of frames that passed through unresampled after a resample failure.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_errors_total",
			Help: "Total number of outbound packet send failures.",
		}),
	}
	return m
}

// Collectors returns every collector owned by this server, for callers
// that want to register them with their own prometheus.Registerer (see
// cmd/rtpbridged) instead of the global default registry.
func (m *serverMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionsCreated, m.sessionsEvicted,
		m.framesReceived, m.framesProcessed,
		m.packetLoss, m.packetReorder,
		m.invalidHeaders, m.nonStandardHeaders,
		m.sinkDrops, m.sinkErrors,
		m.resampleErrors, m.sendErrors,
	}
}
