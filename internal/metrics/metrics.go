package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visionpharma/internal/camera"
)

// CameraSource exposes acquisition counters.
type CameraSource interface {
	Stats() camera.Stats
	State() camera.State
}

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Stream fan-out counters
	StreamClients   atomic.Int64
	FramesBroadcast atomic.Uint64
	FramesDropped   atomic.Uint64
	InferenceErrors atomic.Uint64

	inspections *prometheus.CounterVec
	inference   prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visionpharma_inspections_total",
			Help: "Completed inspections by source and final status",
		}, []string{"source", "status"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visionpharma_inference_duration_seconds",
			Help:    "Time spent running the detection model on one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registry.MustRegister(m.inspections, m.inference)
	m.registerStreamMetrics()
	return m
}

func (m *Metrics) registerStreamMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_stream_clients",
			Help: "Number of connected live stream clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_stream_frames_broadcast_total",
			Help: "Total encoded frames fanned out to live clients",
		},
		func() float64 { return float64(m.FramesBroadcast.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_stream_frames_dropped_total",
			Help: "Total frames skipped for slow live clients",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_stream_inference_errors_total",
			Help: "Total live frames sent without overlay because inference failed",
		},
		func() float64 { return float64(m.InferenceErrors.Load()) },
	))
}

// WatchCamera registers gauges that read the camera counters on scrape.
func (m *Metrics) WatchCamera(src CameraSource) {
	if m == nil || src == nil {
		return
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_frames_captured_total",
			Help: "Total frames published by the acquisition loop",
		},
		func() float64 { return float64(src.Stats().FramesCaptured) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_read_failures_total",
			Help: "Total failed frame reads",
		},
		func() float64 { return float64(src.Stats().ReadFailures) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_reconnects_total",
			Help: "Total reconnect attempts",
		},
		func() float64 { return float64(src.Stats().Reconnects) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_open_failures_total",
			Help: "Total failed device opens",
		},
		func() float64 { return float64(src.Stats().OpenFailures) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_corrupt_frames_total",
			Help: "Total frames rejected because their buffer did not match their geometry",
		},
		func() float64 { return float64(src.Stats().CorruptFrames) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_state",
			Help: "Acquisition state (0=idle 1=opening 2=capturing 3=reconnecting 4=stopping 5=stopped 6=failed)",
		},
		func() float64 { return float64(src.State()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visionpharma_camera_last_frame_age_seconds",
			Help: "Seconds since the latest frame was captured, -1 before the first frame",
		},
		func() float64 {
			last := src.Stats().LastFrameAt
			if last.IsZero() {
				return -1
			}
			return time.Since(last).Seconds()
		},
	))
}

// ObserveInference records one model run.
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.inference.Observe(d.Seconds())
}

// RecordInspection counts a completed inspection.
func (m *Metrics) RecordInspection(source, status string) {
	if m == nil {
		return
	}
	m.inspections.WithLabelValues(source, status).Inc()
}

// ClientConnected and ClientDisconnected track live stream clients.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.StreamClients.Add(1)
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.StreamClients.Add(-1)
	}
}

// FrameBroadcast counts a frame delivered to the live fan-out.
func (m *Metrics) FrameBroadcast() {
	if m != nil {
		m.FramesBroadcast.Add(1)
	}
}

// FrameDropped counts a frame skipped for a slow client.
func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Add(1)
	}
}

// InferenceError counts a live frame sent without overlay.
func (m *Metrics) InferenceError() {
	if m != nil {
		m.InferenceErrors.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
