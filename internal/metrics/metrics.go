package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	WSConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cs_ws_connections_total", Help: "Total WS connections",
	})
	SignalMsg = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_signal_messages_total", Help: "Signaling messages by type",
	}, []string{"type"})
	SignalBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_signal_bytes_total", Help: "Signaling payload bytes",
	}, []string{"dir"})
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cs_rooms_active", Help: "Call rooms with at least one connection",
	})
	GuestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cs_guests_active", Help: "Guests connected across all rooms",
	})
	HostsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cs_hosts_active", Help: "Hosts connected across all rooms",
	})
	JoinRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_join_rejected_total", Help: "Join attempts rejected by reason",
	}, []string{"reason"})
	RelayDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cs_relay_dropped_total", Help: "Signaling messages dropped (target absent)",
	})

	WSFrameSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cs_ws_frame_bytes",
		Help:    "WebSocket frame sizes",
		Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
	}, []string{"dir"})

	WSRTTSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cs_ws_rtt_seconds",
		Help:    "WebSocket RTT (derived from ping/pong timestamps)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	CallsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cs_calls_created_total", Help: "Calls created via the API",
	})
	SalesMarked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cs_sales_marked_total", Help: "Sales recorded in the ledger",
	})
)

func init() {
	reg.MustRegister(
		WSConnections, SignalMsg, SignalBytes,
		RoomsActive, GuestsActive, HostsActive,
		JoinRejected, RelayDropped,
		WSFrameSize, WSRTTSeconds,
		CallsCreated, SalesMarked,
	)
}

func Handler() http.Handler { return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}) }
