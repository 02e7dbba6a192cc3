package main

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/bg95ctl/modem"
)

// newMetricsRegistry exposes the link counters as Prometheus counters.
func newMetricsRegistry(m *modem.Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		counterFunc("bg95_commands_total", "AT commands sent to the modem.", &m.CommandCount),
		counterFunc("bg95_command_errors_total", "Exchanges that ended in a modem or transport error.", &m.CommandErrCount),
		counterFunc("bg95_timeouts_total", "Exchanges that timed out.", &m.TimeoutCount),
		counterFunc("bg95_echo_errors_total", "Commands whose echo never arrived.", &m.EchoErrCount),
		counterFunc("bg95_urc_waits_total", "Unsolicited result code waits started.", &m.URCWaitCount),
		counterFunc("bg95_payload_sent_bytes_total", "Raw payload bytes uploaded in data mode.", &m.PayloadBytesSent),
		counterFunc("bg95_payload_received_bytes_total", "Raw payload bytes downloaded in data mode.", &m.PayloadBytesReceived),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func counterFunc(name, help string, v *atomic.Uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
		return float64(v.Load())
	})
}

func newMetricsHandler(m *modem.Metrics) http.Handler {
	return promhttp.HandlerFor(newMetricsRegistry(m), promhttp.HandlerOpts{})
}
