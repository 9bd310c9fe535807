package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manomitra_client_frames_received_total",
			Help: "Inbound protocol frames by type",
		},
		[]string{"type"},
	)

	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manomitra_client_frames_sent_total",
			Help: "Outbound protocol frames by type",
		},
		[]string{"type"},
	)

	ProtocolErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manomitra_client_protocol_errors_total",
			Help: "Inbound frames that failed to decode",
		},
	)

	TurnsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manomitra_client_turns_appended_total",
			Help: "Turns committed to the conversation log by sender",
		},
		[]string{"sender"},
	)

	Notices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manomitra_client_notices_total",
			Help: "User-visible error notices by kind",
		},
		[]string{"kind"},
	)

	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manomitra_client_connected",
			Help: "1 while the conversation channel is open",
		},
	)

	CaptureSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manomitra_client_capture_seconds",
			Help:    "Length of submitted audio captures",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
	)
)
