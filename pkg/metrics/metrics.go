package metrics

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager builds collectors under one namespace/subsystem and registers
// them on its own registry.
type Manager struct {
	namespace string
	system    string
	registry  *prometheus.Registry
}

func NewManager(ns, system string) *Manager {
	m := &Manager{
		namespace: FmtFixer(ns),
		system:    FmtFixer(system),
		registry:  prometheus.NewRegistry(),
	}
	m.register(collectors.NewGoCollector())
	return m
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) register(c prometheus.Collector) {
	if err := m.registry.Register(c); err != nil {
		slog.Warn("failed to register collector", slog.String("component", "metrics"), slog.String("error", err.Error()))
	}
}

func (m *Manager) NewCounterVec(name string, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.system,
			Name:      FmtFixer(name),
			Help:      fmt.Sprintf("%s count of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	m.register(vec)
	return vec
}

func (m *Manager) NewHistogramVec(name string, labels []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.system,
			Name:      FmtFixer(name),
			Help:      fmt.Sprintf("%s duration of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	m.register(vec)
	return vec
}

func (m *Manager) NewGaugeVec(name string, labels []string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.system,
			Name:      FmtFixer(name),
			Help:      fmt.Sprintf("%s gauge of /%s/%s", name, m.namespace, m.system),
		},
		labels,
	)
	m.register(vec)
	return vec
}

// ExportHandler serves the registry in the prometheus text format.
func (m *Manager) ExportHandler() gin.HandlerFunc {
	h := promhttp.InstrumentMetricHandler(
		m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func FmtFixer(in string) string {
	return strings.Replace(strings.Replace(in, ".", "_", -1), "-", "_", -1)
}
