package core

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deckforge/deckforge/pkg/metrics"
)

// Metrics also serves as the progress.Observer of every channel.
type Metrics struct {
	manager        *metrics.Manager
	uploadTime     *prometheus.HistogramVec
	uploadError    *prometheus.CounterVec
	downloadTime   *prometheus.HistogramVec
	reconnects     *prometheus.CounterVec
	malformed      *prometheus.CounterVec
	terminal       *prometheus.CounterVec
	backendUp      *prometheus.GaugeVec
	notificationIn *prometheus.CounterVec
}

func NewMetrics(ns, system string) *Metrics {
	m := metrics.NewManager(ns, system)
	return &Metrics{
		manager:        m,
		uploadTime:     m.NewHistogramVec("upload_time", nil),
		uploadError:    m.NewCounterVec("upload_error", []string{"kind"}),
		downloadTime:   m.NewHistogramVec("download_time", nil),
		reconnects:     m.NewCounterVec("channel_reconnect", []string{"attempt"}),
		malformed:      m.NewCounterVec("channel_malformed_frame", nil),
		terminal:       m.NewCounterVec("channel_terminal", []string{"outcome"}),
		backendUp:      m.NewGaugeVec("backend_up", nil),
		notificationIn: m.NewCounterVec("notification", []string{"kind"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.manager.Registry()
}

func (m *Metrics) Handler() gin.HandlerFunc {
	return m.manager.ExportHandler()
}

func (m *Metrics) UploadTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.uploadTime.WithLabelValues())
}

func (m *Metrics) UploadErrorInc(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.uploadError.WithLabelValues(kind).Inc()
}

func (m *Metrics) DownloadTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.downloadTime.WithLabelValues())
}

func (m *Metrics) SetBackendUp(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.backendUp.WithLabelValues().Set(v)
}

func (m *Metrics) NotificationInc(kind string) {
	m.notificationIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconnecting(_ string, attempt int) {
	m.reconnects.WithLabelValues(attemptLabel(attempt)).Inc()
}

func (m *Metrics) MalformedFrame(string) {
	m.malformed.WithLabelValues().Inc()
}

func (m *Metrics) Terminal(_ string, outcome string) {
	m.terminal.WithLabelValues(outcome).Inc()
}

func attemptLabel(attempt int) string {
	if attempt > 9 {
		return "10+"
	}
	return string(rune('0' + attempt))
}
